package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

const defaultActor = "api"

// listAlerts handles GET /api/v1/alerts?active=true.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	var alerts []*models.Alert
	var err error
	if r.URL.Query().Get("active") == "true" {
		alerts, err = s.deps.Store.Alerts().ListActive(ctx)
	} else {
		alerts, err = s.deps.Store.Alerts().List(ctx)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: alerts, Count: len(alerts)})
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	alert, err := s.deps.Store.Alerts().GetByID(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if alert == nil {
		JSONError(w, NewNotFound("alert not found: "+id))
		return
	}
	OK(w, alert)
}

type triggerRequest struct {
	Message    string         `json:"message"`
	JobID      string         `json:"job_id"`
	ServerName string         `json:"server_name"`
	Context    map[string]any `json:"context"`
}

type triggerResponse struct {
	Triggered bool                  `json:"triggered"`
	Instance  *models.AlertInstance `json:"instance,omitempty"`
}

// triggerAlert handles POST /api/v1/alerts/{id}/trigger. A throttled,
// inactive or concurrently triggered alert answers 200 with triggered=false.
func (s *Server) triggerAlert(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if apiErr := decodeJSON(r, &req, true); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = "Triggered manually"
	}

	inst, err := s.deps.Triggers.TriggerAlert(r.Context(), chi.URLParam(r, "id"), req.Message, alerting.TriggerScope{
		JobID:      req.JobID,
		ServerName: req.ServerName,
		Context:    req.Context,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if inst == nil {
		OK(w, triggerResponse{Triggered: false})
		return
	}
	Created(w, triggerResponse{Triggered: true, Instance: inst})
}

type evaluationResponse struct {
	Evaluated int                     `json:"evaluated"`
	Fired     int                     `json:"fired"`
	Skipped   int                     `json:"skipped"`
	Errors    []string                `json:"errors,omitempty"`
	Instances []*models.AlertInstance `json:"instances,omitempty"`
}

// evaluateAlerts handles POST /api/v1/alerts/evaluate: one sweep over every
// triggerable alert.
func (s *Server) evaluateAlerts(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Triggers.EvaluateTriggerableAlerts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := evaluationResponse{
		Evaluated: report.Evaluated,
		Fired:     report.Fired,
		Skipped:   report.Skipped,
		Instances: report.Instances,
	}
	for _, e := range report.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	OK(w, resp)
}

// listInstances handles GET /api/v1/alert-instances?status=&alert_id=.
func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, apiErr := pagination(q.Get("limit"), q.Get("offset"), 500)
	if apiErr != nil {
		JSONError(w, apiErr)
		return
	}

	filter := storage.InstanceFilter{AlertID: q.Get("alert_id"), Limit: limit, Offset: offset}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			status := models.InstanceStatus(strings.TrimSpace(part))
			if !status.Valid() {
				JSONError(w, NewBadRequest("invalid status: "+part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()
	list, err := s.deps.Store.Instances().List(ctx, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: list, Count: len(list), Limit: limit, Offset: offset})
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.deps.Lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, inst)
}

type transitionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (t *transitionRequest) actor(r *http.Request) string {
	if t.Actor != "" {
		return t.Actor
	}
	if h := r.Header.Get("X-Actor"); h != "" {
		return h
	}
	return defaultActor
}

type transitionFunc func(ctx context.Context, id, actor, note string) (*models.AlertInstance, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	var req transitionRequest
	if apiErr := decodeJSON(r, &req, true); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	inst, err := fn(r.Context(), chi.URLParam(r, "id"), req.actor(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, inst)
}

func (s *Server) acknowledgeInstance(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Lifecycle.Acknowledge)
}

func (s *Server) resolveInstance(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Lifecycle.Resolve)
}

func (s *Server) suppressInstance(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Lifecycle.Suppress)
}

type bulkRequest struct {
	IDs []string `json:"ids"`
	transitionRequest
}

type bulkFunc func(ctx context.Context, ids []string, actor, note string) (alerting.BulkResult, error)

func (s *Server) bulk(w http.ResponseWriter, r *http.Request, fn bulkFunc) {
	var req bulkRequest
	if apiErr := decodeJSON(r, &req, false); apiErr != nil {
		JSONError(w, apiErr)
		return
	}
	if len(req.IDs) == 0 {
		JSONError(w, NewValidationError("ids must not be empty"))
		return
	}
	res, err := fn(r.Context(), req.IDs, req.actor(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, res)
}

func (s *Server) bulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.deps.Lifecycle.BulkAcknowledge)
}

func (s *Server) bulkResolve(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.deps.Lifecycle.BulkResolve)
}
