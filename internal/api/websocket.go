package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signal-trader/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage frames one event for the operator UI.
type wsMessage struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

const wsReplay = 100

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	logs, unsubLogs := s.Bus.Subscribe(events.EventLog, 256)
	defer unsubLogs()
	trades, unsubTrades := s.Bus.Subscribe(events.EventTradeUpdate, 256)
	defer unsubTrades()
	states, unsubStates := s.Bus.Subscribe(events.EventStrategyState, 16)
	defer unsubStates()

	if s.Journal != nil {
		for _, entry := range s.Journal.Recent(wsReplay) {
			if err := conn.WriteJSON(wsMessage{Type: events.EventLog, Data: entry}); err != nil {
				return
			}
		}
	}

	// The reader only detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		var msg wsMessage
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
			continue
		case v, ok := <-logs:
			if !ok {
				return
			}
			msg = wsMessage{Type: events.EventLog, Data: v}
		case v, ok := <-trades:
			if !ok {
				return
			}
			msg = wsMessage{Type: events.EventTradeUpdate, Data: v}
		case v, ok := <-states:
			if !ok {
				return
			}
			msg = wsMessage{Type: events.EventStrategyState, Data: v}
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug("ws write error", zap.Error(err))
			return
		}
	}
}
