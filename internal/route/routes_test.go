package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orionserver/internal/config"
	"orionserver/internal/dto"
	"orionserver/internal/handler"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	hub "orionserver/internal/service/websocket"
)

type nopFrames struct{}

func (nopFrames) Submit(context.Context, string, model.Frame) error { return nil }
func (nopFrames) Mode() model.ProcessingMode                        { return model.ModeQueued }
func (nopFrames) SetMode(string) (model.ProcessingMode, error)      { return model.ModeQueued, nil }

type nopPrompts struct{}

func (nopPrompts) HandlePrompt(context.Context, string, dto.UserPrompt) {}
func (nopPrompts) ServerConfig() dto.ServerConfig                      { return dto.ServerConfig{} }

func TestSetupRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.LogDirectory = t.TempDir()

	router := SetupRoutes(Dependencies{
		Config:  cfg,
		Logger:  logger.NewNop(),
		Hub:     hub.NewHubService(time.Second, logger.NewNop()),
		Frames:  nopFrames{},
		Prompts: nopPrompts{},
		Health: []handler.HealthCheck{
			{Name: "context_memory", Critical: true, Check: func() bool { return true }},
		},
	})

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/logs/info", http.StatusNotFound},   // no file written yet
		{"/api/frames", http.StatusNotFound},  // archive disabled
		{"/ws/producer", http.StatusBadRequest}, // not an upgrade request
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}
