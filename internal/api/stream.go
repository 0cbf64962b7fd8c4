package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleMetricsStream upgrades to a websocket and pushes a Collector
// snapshot on a fixed interval until the client disconnects or the
// server shuts down. It never competes with the broker/worker ZMQ
// protocol and is served entirely from the Collector already held by
// Server.
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("metrics stream: accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMetricsSnapshot(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeMetricsSnapshot(ctx context.Context, conn *websocket.Conn) error {
	snap := s.collector.Snapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, body)
}
