package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/broadcast"
)

const (
	keepaliveInterval = 15 * time.Second
	retryMillis       = 3000
)

// streamEvents handles GET /api/v1/events?types=alert.triggered,server.status_changed.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		JSONError(w, NewUnavailable("event stream not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		JSONError(w, NewUnavailable("streaming not supported"))
		return
	}

	var types []broadcast.EventType
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, broadcast.EventType(t))
			}
		}
	}

	sub := s.deps.Hub.Subscribe(types...)
	defer s.deps.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := newSSEWriter(w, flusher)
	if err := sse.retry(retryMillis); err != nil {
		return
	}

	log := s.log.WithField("subscriber", sub.ID)
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	deadline := time.NewTimer(s.config.StreamMaxDuration)
	defer deadline.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			_ = sse.event("close", "", []byte(`{"reason":"timeout"}`))
			return
		case <-keepalive.C:
			if err := sse.comment("keepalive"); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				_ = sse.event("close", "", []byte(`{"reason":"shutdown"}`))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).WithField("event", ev.Type).Warn("failed to encode event")
				continue
			}
			if err := sse.event(string(ev.Type), uuid.NewString(), data); err != nil {
				return
			}
		}
	}
}
