package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/ingest"
	hub "orionserver/internal/service/websocket"
)

// FrameSubmitter accepts frames according to the current processing mode.
type FrameSubmitter interface {
	Submit(ctx context.Context, clientID string, frame model.Frame) error
	Mode() model.ProcessingMode
	SetMode(raw string) (model.ProcessingMode, error)
}

// PromptAnswerer answers producer questions and describes the server.
type PromptAnswerer interface {
	HandlePrompt(ctx context.Context, clientID string, prompt dto.UserPrompt)
	ServerConfig() dto.ServerConfig
}

// ProducerWebsocketHandler serves device connections. Each connection is
// registered as a producer and its messages are dispatched by type.
func ProducerWebsocketHandler(hubService *hub.HubService, frames FrameSubmitter, prompts PromptAnswerer, opts SocketOptions, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		clientID := hubService.Register(hub.RoleProducer, connection)
		defer hubService.Unregister(clientID)
		stop := keepAlive(connection, opts)
		defer stop()

		// prompts run off the read loop
		var inflight sync.WaitGroup
		defer inflight.Wait()

		hubService.Send(clientID, dto.NewConnectionAck(clientID))
		logger.Info("📱 Producer %s connected from %s", clientID, r.RemoteAddr)

		p := &producerSession{
			id:      clientID,
			hub:     hubService,
			frames:  frames,
			prompts: prompts,
			logger:  logger,
		}
		ctx := r.Context()

		for {
			messageType, data, err := connection.ReadMessage()
			if err != nil {
				if isNormalClose(err) {
					logger.Info("Producer %s disconnected normally", clientID)
				} else {
					logger.Warning("Producer %s disconnected: %v", clientID, err)
				}
				return
			}
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}
			p.dispatch(ctx, &inflight, data, messageType == websocket.BinaryMessage)
		}
	}
}

type producerSession struct {
	id      string
	hub     *hub.HubService
	frames  FrameSubmitter
	prompts PromptAnswerer
	logger  *logger.Logger
}

func (p *producerSession) dispatch(ctx context.Context, inflight *sync.WaitGroup, data []byte, binary bool) {
	msg, err := dto.Decode(data, binary)
	if err != nil {
		p.logger.Warning("Invalid message from %s: %v", p.id, err)
		p.hub.Send(p.id, dto.NewErrorMessage("Invalid message", err.Error(), ""))
		return
	}

	switch m := msg.(type) {
	case dto.FrameData:
		frame, err := m.ToFrame()
		if err != nil {
			p.hub.Send(p.id, dto.NewErrorMessage("Invalid frame data", err.Error(), m.FrameID))
			return
		}
		// In direct mode this blocks the read loop until the frame is done,
		// so one producer's frames finish in the order they were sent.
		p.submit(ctx, frame)

	case dto.UserPrompt:
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			p.prompts.HandlePrompt(ctx, p.id, m)
		}()

	case dto.Configuration:
		mode, err := p.frames.SetMode(m.ProcessingMode)
		if err != nil {
			p.hub.Send(p.id, dto.NewErrorMessage("Invalid configuration", err.Error(), ""))
			return
		}
		p.hub.Send(p.id, dto.ConfigurationAck{
			Type:           dto.TypeConfigurationAck,
			Status:         "updated",
			ProcessingMode: string(mode),
		})

	case dto.RequestConfig:
		p.hub.Send(p.id, p.prompts.ServerConfig())
	}
}

// submit hands a frame to the ingest path. Pipeline failures are reported to
// the producer by the orchestrator; only rejections are reported here.
func (p *producerSession) submit(ctx context.Context, frame model.Frame) {
	err := p.frames.Submit(ctx, p.id, frame)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrQueueFull):
		p.logger.Warning("Queue full, rejecting frame %s from %s", frame.FrameID, p.id)
		p.hub.Send(p.id, dto.NewErrorMessage("Queue full", err.Error(), frame.FrameID))
	default:
		p.logger.Warning("Frame %s from %s failed: %v", frame.FrameID, p.id, err)
	}
}
