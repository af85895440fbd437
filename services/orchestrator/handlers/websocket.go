// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsTransport adapts a gorilla connection to the registry's Transport
// contract. The mutex serializes writes; gorilla allows at most one
// concurrent writer.
type wsTransport struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}

// HandleStreamWebSocket upgrades the connection, registers it with the
// registry, and pumps inbound frames until the client goes away. Outbound
// traffic is owned entirely by the registry's writer goroutine.
func HandleStreamWebSocket(registry *stream.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}

		connID := registry.Register(&wsTransport{ws: ws})
		defer registry.Disconnect(connID)

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				slog.Info("stream client read ended", "connectionId", connID, "error", err.Error())
				return
			}
			registry.HandleInbound(connID, raw)
		}
	}
}
