// Package main starts a planner run and prints its progress events from the
// websocket stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evsiting/internal/logging"
)

type wsMessage struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	log, err := logging.New("info", true)
	if err != nil {
		panic(err)
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Start a run over the given units (all constrained units when none)
	body, _ := json.Marshal(map[string]any{"units": os.Args[1:]})
	resp, err := http.Post(base+"/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal("start run", zap.Error(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatal("start run", zap.Int("status", resp.StatusCode))
	}
	var run struct {
		ID    string   `json:"id"`
		Units []string `json:"units"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal("decode run", zap.Error(err))
	}
	log.Info("run started", zap.String("run", run.ID), zap.Strings("units", run.Units))

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws", RawQuery: url.Values{"runId": {run.ID}}.Encode()}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial", zap.Error(err))
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Info("stream closed", zap.Error(err))
				return
			}
			log.Info("event", zap.String("type", m.Type), zap.ByteString("payload", m.Payload))
			if m.Type == "complete" {
				return
			}
		}
	}()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := c.WriteJSON(wsMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}
