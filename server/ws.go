package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/traces-scraper/jobs"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleWebSocket streams the job's log lines and progress. Lines already
// logged are replayed first.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, events, unsubscribe, err := s.manager.Follow(r.Context(), id)
	if err != nil {
		s.jobError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// reader: only needed to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev jobs.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev) == nil
	}

	for _, line := range job.Logs {
		if !send(jobs.Event{Type: jobs.EventLog, Line: line}) {
			return
		}
	}
	if !send(jobs.Event{Type: jobs.EventProgress, Current: job.Current, Total: job.Total, OK: job.OK}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				final, err := s.manager.Store().Get(r.Context(), id)
				if err == nil {
					send(jobs.Event{Type: jobs.EventStatus, Status: final.Status})
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if !send(ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
