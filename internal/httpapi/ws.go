package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleWS upgrades the connection and pushes verdicts as JSON text frames.
// The feed is one-way; inbound frames are drained and discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.CORSOrigins,
	})
	if err != nil {
		s.logger.Debug("httpapi: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	sub, err := s.subscribe(filters)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unsubscribe(sub)
	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	// CloseRead keeps control frames serviced and cancels the context when
	// the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case verdict, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			data, err := json.Marshal(verdict)
			if err != nil {
				continue
			}
			if err := writeWS(ctx, conn, data); err != nil {
				return
			}
			s.metrics.IncVerdictsSent("ws")
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
