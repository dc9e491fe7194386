package alerting

import (
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// PatternMatcher counts log messages matching a PatternMatch condition.
// Compiled expressions are reused across evaluations.
type PatternMatcher struct {
	mu       sync.Mutex
	compiled map[patternKey]*regexp.Regexp
}

type patternKey struct {
	pattern       string
	isRegex       bool
	caseSensitive bool
}

// NewPatternMatcher creates a new PatternMatcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{compiled: make(map[patternKey]*regexp.Regexp)}
}

func (m *PatternMatcher) regexp(cond *models.PatternMatchCondition) (*regexp.Regexp, error) {
	key := patternKey{cond.Pattern, cond.IsRegex, cond.CaseSensitive}

	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.compiled[key]; ok {
		return re, nil
	}
	re, err := cond.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", cond.Pattern, err)
	}
	m.compiled[key] = re
	return re, nil
}

// Count returns how many messages match the condition's pattern.
func (m *PatternMatcher) Count(cond *models.PatternMatchCondition, messages []string) (int, error) {
	re, err := m.regexp(cond)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, msg := range messages {
		if re.MatchString(msg) {
			n++
		}
	}
	return n, nil
}

// prefilter returns a substring the storage layer can use to narrow the
// candidate messages, or "" when every message must be inspected.
// SQLite lower() folds ASCII only, so non-ASCII literals are matched in Go.
func prefilter(cond *models.PatternMatchCondition) string {
	if cond.IsRegex || cond.CaseSensitive || !isASCII(cond.Pattern) {
		return ""
	}
	return cond.Pattern
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
