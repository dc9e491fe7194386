package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// CustomQueryExecutor runs the opaque query of a CustomQuery condition and
// returns a count.
type CustomQueryExecutor interface {
	Count(ctx context.Context, query string, start, end time.Time, scope models.Scope) (int64, error)
}

// ExprMatcher compiles and evaluates expr-lang expressions against log entries.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	// expr-lang operators are infix: message contains "timeout".
	program, err := expr.Compile(expression,
		expr.Env(buildSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &ExprMatcher{expression: expression, program: program}, nil
}

// Match evaluates the expression against a log entry.
func (m *ExprMatcher) Match(entry *models.LogEntry) (bool, error) {
	result, err := expr.Run(m.program, buildEnvFromEntry(entry))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}
	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

func buildSampleEnv() map[string]any {
	return map[string]any{
		"level":          "",
		"level_rank":     0,
		"message":        "",
		"server_name":    "",
		"job_id":         "",
		"execution_id":   "",
		"category":       "",
		"correlation_id": "",
		"exception":      "",
		"properties":     map[string]any{},
	}
}

func buildEnvFromEntry(entry *models.LogEntry) map[string]any {
	props := entry.Properties
	if props == nil {
		props = map[string]any{}
	}
	return map[string]any{
		"level":          strings.ToLower(string(entry.Level)),
		"level_rank":     entry.Level.Rank(),
		"message":        entry.Message,
		"server_name":    entry.ServerName,
		"job_id":         entry.JobID,
		"execution_id":   entry.ExecutionID,
		"category":       entry.Category,
		"correlation_id": entry.CorrelationID,
		"exception":      entry.Exception,
		"properties":     props,
	}
}

// ExprQueryExecutor treats a custom query as an expr-lang boolean expression
// over log entries and counts the entries in the window that satisfy it.
type ExprQueryExecutor struct {
	logs     storage.LogRepository
	pageSize int
	maxScan  int

	mu       sync.Mutex
	matchers map[string]*ExprMatcher
}

// NewExprQueryExecutor creates an executor reading from logs. At most
// maxScan entries are inspected per query.
func NewExprQueryExecutor(logs storage.LogRepository, maxScan int) *ExprQueryExecutor {
	if maxScan <= 0 {
		maxScan = 50000
	}
	return &ExprQueryExecutor{
		logs:     logs,
		pageSize: 1000,
		maxScan:  maxScan,
		matchers: make(map[string]*ExprMatcher),
	}
}

func (x *ExprQueryExecutor) matcher(query string) (*ExprMatcher, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if m, ok := x.matchers[query]; ok {
		return m, nil
	}
	m, err := NewExprMatcher(query)
	if err != nil {
		return nil, err
	}
	x.matchers[query] = m
	return m, nil
}

// Count implements CustomQueryExecutor.
func (x *ExprQueryExecutor) Count(ctx context.Context, query string, start, end time.Time, scope models.Scope) (int64, error) {
	m, err := x.matcher(query)
	if err != nil {
		return 0, err
	}

	var count int64
	for offset := 0; offset < x.maxScan; offset += x.pageSize {
		result, err := x.logs.Query(ctx, &storage.LogFilter{
			StartTime:  start,
			EndTime:    end,
			ServerName: scope.ServerName,
			JobID:      scope.JobID,
			Limit:      x.pageSize,
			Offset:     offset,
			OrderAsc:   true,
		})
		if err != nil {
			return 0, fmt.Errorf("query logs: %w", err)
		}
		for _, entry := range result.Entries {
			ok, err := m.Match(entry)
			if err != nil {
				return 0, err
			}
			if ok {
				count++
			}
		}
		if !result.HasMore {
			break
		}
	}
	return count, nil
}
