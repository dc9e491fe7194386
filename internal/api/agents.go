package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/lognexus/internal/ingest"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

const maxLogQueryLimit = 1000

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	servers, err := s.deps.Store.Servers().List(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: servers, Count: len(servers)})
}

// heartbeat handles POST /api/v1/servers/{name}/heartbeat.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var hb ingest.Heartbeat
	if apiErr := decodeJSON(r, &hb, true); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	hb.ServerName = chi.URLParam(r, "name")

	server, err := s.deps.Ingest.RecordHeartbeat(r.Context(), hb)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, server)
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// setMaintenance handles PUT /api/v1/servers/{name}/maintenance.
func (s *Server) setMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if apiErr := decodeJSON(r, &req, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	server, err := s.deps.Ingest.SetMaintenance(r.Context(), chi.URLParam(r, "name"), req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, server)
}

type ingestLogsRequest struct {
	Entries []*models.LogEntry `json:"entries"`
}

type ingestLogsResponse struct {
	Accepted int `json:"accepted"`
}

// ingestLogs handles POST /api/v1/logs.
func (s *Server) ingestLogs(w http.ResponseWriter, r *http.Request) {
	var req ingestLogsRequest
	if apiErr := decodeJSON(r, &req, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	n, err := s.deps.Ingest.IngestLogs(r.Context(), req.Entries)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, ingestLogsResponse{Accepted: n})
}

// queryLogs handles GET /api/v1/logs.
func (s *Server) queryLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		JSONError(w, NewUnavailable("log storage not configured"))
		return
	}
	q := r.URL.Query()

	end := time.Now().UTC()
	start := end.Add(-time.Hour)
	var err error
	if v := q.Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			JSONError(w, NewBadRequest("invalid start time format (use RFC3339)"))
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			JSONError(w, NewBadRequest("invalid end time format (use RFC3339)"))
			return
		}
	}
	if end.Before(start) {
		JSONError(w, NewBadRequest("end must not be before start"))
		return
	}

	limit, offset, apiErr := pagination(q.Get("limit"), q.Get("offset"), maxLogQueryLimit)
	if apiErr != nil {
		JSONError(w, apiErr)
		return
	}

	filter := &storage.LogFilter{
		StartTime:       start,
		EndTime:         end,
		ServerName:      q.Get("server_name"),
		JobID:           q.Get("job_id"),
		MessageContains: q.Get("q"),
		Limit:           limit,
		Offset:          offset,
	}
	if v := q.Get("level"); v != "" {
		filter.MinLevel = models.ParseLogLevel(v)
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	result, err := s.deps.Logs.Query(ctx, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"items":    result.Entries,
		"total":    result.Total,
		"has_more": result.HasMore,
	})
}

// registerJob handles POST /api/v1/jobs.
func (s *Server) registerJob(w http.ResponseWriter, r *http.Request) {
	var job models.Job
	if apiErr := decodeJSON(r, &job, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	if err := s.deps.Ingest.RegisterJob(r.Context(), &job); err != nil {
		s.fail(w, r, err)
		return
	}
	Created(w, &job)
}

// listJobs handles GET /api/v1/jobs.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	jobs, err := s.deps.Store.Jobs().List(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: jobs, Count: len(jobs)})
}

type activeRequest struct {
	Active *bool `json:"active"`
}

// setJobActive handles PUT /api/v1/jobs/{id}/active.
func (s *Server) setJobActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if apiErr := decodeJSON(r, &req, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	if req.Active == nil {
		JSONError(w, NewValidationError("active is required"))
		return
	}
	job, err := s.deps.Ingest.SetJobActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, job)
}

// listRunningExecutions handles GET /api/v1/executions/running?job_id=.
func (s *Server) listRunningExecutions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	execs, err := s.deps.Ingest.RunningExecutions(ctx, r.URL.Query().Get("job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: execs, Count: len(execs)})
}

// startExecution handles POST /api/v1/executions.
func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	var exec models.JobExecution
	if apiErr := decodeJSON(r, &exec, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	created, err := s.deps.Ingest.StartExecution(r.Context(), &exec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	Created(w, created)
}

type completeRequest struct {
	Status        models.ExecutionStatus `json:"status"`
	ErrorMessage  string                 `json:"error_message"`
	OutputMessage string                 `json:"output_message"`
}

// completeExecution handles POST /api/v1/executions/{id}/complete.
func (s *Server) completeExecution(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if apiErr := decodeJSON(r, &req, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	exec, err := s.deps.Ingest.CompleteExecution(r.Context(), chi.URLParam(r, "id"), req.Status, req.ErrorMessage, req.OutputMessage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, exec)
}

func pagination(limitStr, offsetStr string, maxLimit int) (int, int, *Error) {
	limit, offset := 100, 0
	if v := strings.TrimSpace(limitStr); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, NewBadRequest("limit must be a positive integer")
		}
		limit = min(n, maxLimit)
	}
	if v := strings.TrimSpace(offsetStr); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, NewBadRequest("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}
