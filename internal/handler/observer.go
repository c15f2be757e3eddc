package handler

import (
	"net/http"

	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	hub "orionserver/internal/service/websocket"
)

// QueueSnapshot lists pending frames.
type QueueSnapshot interface {
	PeekAll() []model.QueueItemSummary
}

// ObserverWebsocketHandler handles dashboard connections over WebSocket and
// registers them in the HubService to receive pipeline broadcasts.
func ObserverWebsocketHandler(hubService *hub.HubService, queue QueueSnapshot, opts SocketOptions, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		clientID := hubService.Register(hub.RoleObserver, connection)
		defer hubService.Unregister(clientID)
		stop := keepAlive(connection, opts)
		defer stop()

		hubService.Send(clientID, dto.NewConnectionAck(clientID))
		if queue != nil {
			hubService.Send(clientID, dto.NewQueueUpdate("snapshot", queue.PeekAll()))
		}
		logger.Info("Dashboard %s connected", clientID)

		// Dashboards only listen; reads keep pong handling and close detection alive.
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if isNormalClose(err) {
					logger.Info("Dashboard %s disconnected normally", clientID)
				} else {
					logger.Warning("Dashboard %s disconnected: %v", clientID, err)
				}
				return
			}
		}
	}
}
