package api

import (
	"fmt"
	"net/http"
)

// sseWriter writes Server-Sent Events frames and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

// event writes "event: <type>\nid: <id>\ndata: <data>\n\n". An empty id is omitted.
func (s *sseWriter) event(event, id string, data []byte) error {
	var err error
	if id != "" {
		_, err = fmt.Fprintf(s.w, "event: %s\nid: %s\ndata: %s\n\n", event, id, data)
	} else {
		_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	}
	if err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment writes a keepalive line that clients ignore.
func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) retry(ms int) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", ms); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
