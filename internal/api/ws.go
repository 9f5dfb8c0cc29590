package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the envelope for both directions. Server messages carry an
// event type (unit.progress, unit.done, run.finished) or a control type
// (connection_ack, pong, error).
type wsMessage struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSHandler handles GET /v1/ws?runId=... and relays the run's events until
// the run finishes or the client disconnects.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing runId", "runId query parameter required", r.URL.Path)
		return
	}
	if _, err := s.Store.GetRun(r.Context(), runID); err != nil {
		s.storeProblem(w, r, "Get run failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	ch := s.Broker.Subscribe(runID)
	defer s.Broker.Unsubscribe(runID, ch)
	if err := write(wsMessage{Type: "connection_ack", RunID: runID}); err != nil {
		return
	}

	// Read loop: answers pings and notices disconnects.
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if msg.Type == "ping" {
				_ = write(wsMessage{Type: "pong"})
			}
		}
	}()

	if s.runs.Active() != runID {
		// nothing more will be published for a finished run
		_ = write(wsMessage{Type: "complete", RunID: runID})
		return
	}
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-closed:
			return
		case <-keepalive.C:
			wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			wmu.Unlock()
			if err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt.Data)
			if err != nil {
				s.Log.Warn("drop websocket event", zap.String("type", evt.Type), zap.Error(err))
				continue
			}
			if err := write(wsMessage{Type: evt.Type, RunID: runID, Payload: payload}); err != nil {
				return
			}
			if evt.Type == EventRunFinish {
				_ = write(wsMessage{Type: "complete", RunID: runID})
				return
			}
		}
	}
}
