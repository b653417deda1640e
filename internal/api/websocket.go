package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams every runner event as {"topic": ..., "payload": ...}.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeAll(events.Topics, 100)
	defer unsub()

	// the client never sends; a read error means it went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsub()
				return
			}
		}
	}()

	for msg := range stream {
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debugf("ws write error: %v", err)
			return
		}
	}
}
