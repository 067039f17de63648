package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

// streamMessage is the envelope for every WebSocket push.
type streamMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// producer returns the next payload, or false to skip this tick.
type producer func() (any, bool)

func (s *Server) planMessage() (any, bool) {
	res, ok := s.engine.CurrentOptimization()
	if !ok {
		return nil, false
	}
	return res, true
}

func (s *Server) telemetryMessage() (any, bool) {
	t := s.engine.CurrentTelemetry()
	if t.Samples == 0 {
		return nil, false
	}
	return t, true
}

// alertsMessage only yields non-empty alert sets.
func (s *Server) alertsMessage() (any, bool) {
	set, ok := s.engine.CurrentAlerts()
	if !ok || len(set.Alerts) == 0 {
		return nil, false
	}
	return set, true
}

// streamHandler upgrades the connection and pushes produce's value right
// away and then every interval until the client goes away.
func (s *Server) streamHandler(stream string, interval time.Duration, produce producer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.Warnf("server: websocket upgrade on %s: %v", stream, err)
			return
		}
		defer conn.Close()

		gauge := s.metrics.wsClients.WithLabelValues(stream)
		gauge.Inc()
		defer gauge.Dec()
		logrus.Debugf("server: %s client connected from %s", stream, r.RemoteAddr)

		// Reads only detect the client closing; incoming messages are ignored.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func() bool {
			data, ok := produce()
			if !ok {
				return true
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(streamMessage{Type: stream, Timestamp: time.Now(), Data: data})
			if err != nil {
				logrus.Debugf("server: %s write failed: %v", stream, err)
				return false
			}
			return true
		}

		if !send() {
			return
		}
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if !send() {
					return
				}
			}
		}
	}
}
