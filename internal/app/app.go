package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"orionserver/internal/config"
	"orionserver/internal/dto"
	"orionserver/internal/handler"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/repository/sqlite"
	"orionserver/internal/route"
	"orionserver/internal/service/ai"
	"orionserver/internal/service/emitter"
	"orionserver/internal/service/ingest"
	"orionserver/internal/service/llm"
	"orionserver/internal/service/memory"
	"orionserver/internal/service/pipeline"
	"orionserver/internal/service/reasoning"
	"orionserver/internal/service/storage"
	"orionserver/internal/service/vision"
	"orionserver/internal/service/websocket"
)

// ShutdownMessage is sent to every client before connections are closed.
const ShutdownMessage = "Server shutting down"

// App is the service context: every long-lived component, built once at startup.
type App struct {
	config *config.Config
	logger *logger.Logger

	hubService   *websocket.HubService
	memory       *memory.ContextMemory
	queue        *ingest.Queue
	controller   *ingest.Controller
	worker       *ingest.Worker
	orchestrator *pipeline.Orchestrator
	analyzer     *vision.Analyzer
	reasoner     *reasoning.Reasoner
	detector     *ai.DetectorService

	db            *sqlite.DB
	frameRepo     *sqlite.FrameRepository
	detectionRepo *sqlite.DetectionRepository
	bufferService *storage.BufferService

	mqttClient *emitter.MQTTClient
	emitter    *emitter.Emitter

	router http.Handler
}

// New builds the service context. Any component that cannot start is fatal.
func New(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	a.hubService = websocket.NewHubService(cfg.WriteTimeoutDuration(), logger)
	a.memory = memory.NewContextMemory(memory.Options{
		Capacity:        cfg.MaxMemoryFrames,
		EvictionWindow:  cfg.EvictionWindow,
		HealthCeiling:   cfg.MemoryHealthCeiling,
		CleanupInterval: cfg.CleanupIntervalDuration(),
	}, logger)

	client := llm.NewClient(llm.Options{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Timeout: cfg.StageTimeoutDuration(),
	})

	var detector vision.Detector
	if cfg.DetectorModelPath != "" {
		a.detector = ai.NewDetectorService(cfg.DetectorModelPath, cfg.DetectorConfigPath, cfg.DetectionThreshold, logger)
		if !a.detector.Healthy() {
			a.detector.Close()
			return nil, fmt.Errorf("detector model %s could not be loaded", cfg.DetectorModelPath)
		}
		detector = a.detector
	} else if cfg.VisionModeValue() == model.VisionFull {
		logger.Warning("Full vision mode without DETECTOR_MODEL_PATH: frames will fail until a detector is configured")
	}

	a.analyzer = vision.NewAnalyzer(cfg.VisionModeValue(), detector, client, cfg.VLMModel, logger)
	a.reasoner = reasoning.NewReasoner(client, cfg.LLMModel, logger)

	a.orchestrator = pipeline.NewOrchestrator(a.memory, a.hubService, a.analyzer, a.reasoner, pipeline.Options{
		VisionMode:         cfg.VisionModeValue(),
		ContextLimit:       cfg.ContextLimit,
		PromptContextLimit: cfg.PromptContextLimit,
		StageTimeout:       cfg.StageTimeoutDuration(),
	}, logger)

	a.queue = ingest.NewQueue(cfg.QueueLimit)
	a.controller = ingest.NewController(cfg.ProcessingModeValue(), a.queue, a.orchestrator, logger)
	a.worker = ingest.NewWorker(a.queue, a.orchestrator, a.orchestrator, logger)
	a.worker.SetShutdownGrace(cfg.ShutdownGraceDuration())
	a.worker.OnDrop(a.rejectDropped)
	a.orchestrator.Attach(a.queue, a.controller)

	if err := a.openArchive(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectMQTT(ctx); err != nil {
		a.Close()
		return nil, err
	}

	deps := route.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Hub:           a.hubService,
		Frames:        a.controller,
		Prompts:       a.orchestrator,
		Queue:         a.queue,
		Health:        a.healthChecks(),
		HealthDetails: a.healthDetails,
	}
	if a.frameRepo != nil {
		deps.FrameRepo = a.frameRepo
		deps.DetectionRepo = a.detectionRepo
	}
	a.router = route.SetupRoutes(deps)
	return a, nil
}

func (a *App) openArchive() error {
	if a.config.DatabasePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.config.DatabasePath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(a.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	a.db = db
	a.frameRepo = sqlite.NewFrameRepository(db)
	a.detectionRepo = sqlite.NewDetectionRepository(db)

	var annotator storage.Annotator
	if a.detector != nil {
		annotator = a.detector
	}
	a.bufferService = storage.NewBufferService(a.config, a.logger, a.frameRepo, annotator)
	a.orchestrator.AddSink(a.bufferService)
	return nil
}

func (a *App) connectMQTT(ctx context.Context) error {
	if a.config.MQTTBroker == "" {
		return nil
	}
	client, err := emitter.Connect(ctx, a.config.MQTTBroker, a.config.InstanceID, a.logger)
	if err != nil {
		return err
	}
	a.mqttClient = client
	a.emitter = emitter.New(client, a.config.MQTTTopic, emitter.DefaultBuffer, a.logger)
	a.orchestrator.AddSink(a.emitter)
	return nil
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:        a.config.Addr(),
		Handler:     a.router,
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	a.logger.Info("🚀 Orion server listening on %s", server.Addr)
	a.logger.Info("👁️ Vision mode: %s, processing mode: %s", a.config.VisionMode, a.controller.Mode())
	if a.db != nil {
		a.logger.Info("📁 Archive: %s, images: %s", a.config.DatabasePath, a.config.ImageDirectory)
	}

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	workerDone := make(chan struct{})
	g.Go(func() error {
		defer close(workerDone)
		return a.worker.Run(gctx)
	})
	g.Go(func() error { return a.runCleanup(gctx) })
	if a.bufferService != nil {
		g.Go(func() error { return a.bufferService.Run(gctx) })
	}
	if a.emitter != nil {
		g.Go(func() error { return a.emitter.Run(gctx) })
	}
	if a.config.CamerasPort > 0 {
		opts := handler.CameraOptions{
			Port:          a.config.CamerasPort,
			Names:         a.config.CameraNames,
			FrameInterval: a.config.CameraFrameInterval,
		}
		if a.config.CameraMotionGate && a.detector != nil {
			opts.Motion = a.detector
		}
		g.Go(func() error { return handler.UDPCameraHandler(gctx, opts, a.controller, a.logger) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.announceShutdown()

		grace := a.config.ShutdownGraceDuration()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		// The in-flight frame gets the grace period to deliver its result
		// before connections are closed.
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			a.logger.Warning("Ingest worker still busy after %s, closing connections", grace)
		}
		err := server.Shutdown(shutdownCtx)
		a.hubService.CloseAll()
		if err != nil {
			a.logger.Warning("HTTP shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// runCleanup evicts stale memory entries while no frames arrive.
func (a *App) runCleanup(ctx context.Context) error {
	ticker := time.NewTicker(a.config.CleanupIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.memory.CleanupOldEntries()
		}
	}
}

// announceShutdown tells every client the server is going away. Producers
// get a system message, not an error: errors are reserved for frames.
func (a *App) announceShutdown() {
	a.logger.Info("🛑 Shutting down, notifying %d client(s)", a.hubService.Total())
	notice := dto.NewSystemMessage("shutdown", ShutdownMessage)
	a.hubService.Broadcast(websocket.RoleProducer, notice)
	a.hubService.Broadcast(websocket.RoleObserver, notice)
}

// rejectDropped sends the terminal error for a queued frame that will never be processed.
func (a *App) rejectDropped(item ingest.Item) {
	a.hubService.Send(item.ClientID, dto.NewErrorMessage(ShutdownMessage, "frame dropped before processing", item.Frame.FrameID))
}

func (a *App) healthChecks() []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "context_memory", Critical: true, Check: a.memory.IsHealthy},
		{Name: "connection_registry", Critical: true, Check: func() bool { return a.hubService != nil }},
		{Name: "ingest_worker", Critical: true, Check: a.worker.Running},
		{Name: "vision", Check: a.analyzer.Healthy},
		{Name: "reasoning", Check: a.reasoner.Healthy},
	}
	if a.db != nil {
		checks = append(checks, handler.HealthCheck{Name: "archive", Check: func() bool { return a.db.Ping() == nil }})
	}
	if a.mqttClient != nil {
		checks = append(checks, handler.HealthCheck{Name: "mqtt", Check: a.mqttClient.Connected})
	}
	return checks
}

func (a *App) healthDetails() map[string]any {
	details := map[string]any{
		"memory":          a.memory.Stats(),
		"connections":     a.hubService.Stats(),
		"processing":      a.orchestrator.Stats(),
		"processing_mode": a.controller.Mode(),
		"queue_size":      a.queue.Size(),
		"worker": map[string]uint64{
			"processed": a.worker.Processed(),
			"failed":    a.worker.Failed(),
		},
	}
	if a.bufferService != nil {
		details["archive_pending"] = a.bufferService.Pending()
	}
	if a.emitter != nil {
		details["mqtt"] = a.emitter.Stats()
	}
	return details
}

// Close releases resources held by the service context.
func (a *App) Close() {
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Error closing archive: %v", err)
		}
	}
	if a.detector != nil {
		a.detector.Close()
	}
}
