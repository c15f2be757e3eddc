package route

import (
	"net/http"

	"orionserver/internal/config"
	"orionserver/internal/handler"
	"orionserver/internal/logger"
	"orionserver/internal/middleware"
	"orionserver/internal/repository"
	hub "orionserver/internal/service/websocket"
)

// Dependencies are the services the HTTP layer talks to.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Hub           *hub.HubService
	Frames        handler.FrameSubmitter
	Prompts       handler.PromptAnswerer
	Queue         handler.QueueSnapshot
	Health        []handler.HealthCheck
	HealthDetails func() map[string]any

	// nil disables the archive API
	FrameRepo     repository.FrameRepository
	DetectionRepo repository.DetectionRepository
}

// SetupRoutes registers the WebSocket endpoints, health, archive API and log
// endpoints, and wraps the mux with CORS and request logging.
func SetupRoutes(d Dependencies) http.Handler {
	mux := http.NewServeMux()
	socket := handler.DefaultSocketOptions(d.Config.ReadLimit)

	// WebSocket endpoints
	producer := handler.ProducerWebsocketHandler(d.Hub, d.Frames, d.Prompts, socket, d.Logger)
	mux.HandleFunc("/ws/producer", producer)
	mux.HandleFunc("/ios", producer)
	mux.HandleFunc("/ws/dashboard", handler.ObserverWebsocketHandler(d.Hub, d.Queue, socket, d.Logger))

	mux.HandleFunc("/health", handler.HealthHandler(d.Health, config.Version, d.HealthDetails, d.Logger))

	// Archive endpoints
	if d.FrameRepo != nil {
		mux.HandleFunc("/api/frames", handler.GetFramesHandler(d.FrameRepo, d.DetectionRepo, d.Logger))
		mux.HandleFunc("/api/frames/stats", handler.GetArchiveStatsHandler(d.FrameRepo, d.Logger))
		mux.HandleFunc("/api/frames/image", handler.ViewFrameImageHandler(d.FrameRepo, d.Logger))
		mux.HandleFunc("/api/frames/clear", handler.ClearArchiveHandler(d.Config, d.FrameRepo, d.Logger))
	}

	// Log endpoints
	for level, file := range handler.LogFiles {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(d.Config.LogDirectory, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(d.Logger, file))
	}

	return middleware.CORSMiddleware(middleware.LoggingMiddleware(d.Logger)(mux))
}
