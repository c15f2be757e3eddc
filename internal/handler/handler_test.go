package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/ingest"
	hub "orionserver/internal/service/websocket"
)

type fakeFrames struct {
	mu        sync.Mutex
	mode      model.ProcessingMode
	err       error
	delays    map[string]time.Duration
	completed []string
	got       chan submitted
}

type submitted struct {
	clientID string
	frame    model.Frame
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{mode: model.ModeQueued, got: make(chan submitted, 8)}
}

func (f *fakeFrames) Submit(_ context.Context, clientID string, frame model.Frame) error {
	f.got <- submitted{clientID: clientID, frame: frame}
	f.mu.Lock()
	delay := f.delays[frame.FrameID]
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, frame.FrameID)
	return f.err
}

func (f *fakeFrames) completedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...)
}

func (f *fakeFrames) Mode() model.ProcessingMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeFrames) SetMode(raw string) (model.ProcessingMode, error) {
	mode, err := model.ParseProcessingMode(raw)
	if err != nil {
		return f.Mode(), err
	}
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	return mode, nil
}

type fakePrompts struct {
	got chan dto.UserPrompt
}

func (p *fakePrompts) HandlePrompt(_ context.Context, _ string, prompt dto.UserPrompt) {
	p.got <- prompt
}

func (p *fakePrompts) ServerConfig() dto.ServerConfig {
	return dto.ServerConfig{Type: dto.TypeServerConfig, ProcessingMode: "queued", VisionMode: "split", Version: "test"}
}

type producerHarness struct {
	hub     *hub.HubService
	frames  *fakeFrames
	prompts *fakePrompts
	conn    *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func newProducerHarness(t *testing.T) *producerHarness {
	t.Helper()
	h := &producerHarness{
		hub:     hub.NewHubService(time.Second, logger.NewNop()),
		frames:  newFakeFrames(),
		prompts: &fakePrompts{got: make(chan dto.UserPrompt, 1)},
	}
	handler := ProducerWebsocketHandler(h.hub, h.frames, h.prompts, DefaultSocketOptions(1<<20), logger.NewNop())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h.conn = dial(t, srv, "/ws/producer")
	ack := readJSON(t, h.conn)
	require.Equal(t, dto.TypeConnectionAck, ack["type"])
	require.True(t, strings.HasPrefix(ack["client_id"].(string), "producer_"))
	return h
}

func (h *producerHarness) send(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, h.conn.WriteJSON(v))
}

func (h *producerHarness) nextFrame(t *testing.T) submitted {
	t.Helper()
	select {
	case s := <-h.frames.got:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not submitted")
		return submitted{}
	}
}

func TestProducer_FrameData(t *testing.T) {
	h := newProducerHarness(t)

	h.send(t, map[string]any{
		"type":      "frame_data",
		"frame_id":  "f1",
		"timestamp": 12.5,
		"device_id": "iphone",
		"detections": []map[string]any{
			{"label": "person", "confidence": 0.9, "bbox": []float64{0.1, 0.1, 0.4, 0.8}, "track_id": 4},
		},
	})

	s := h.nextFrame(t)
	assert.True(t, strings.HasPrefix(s.clientID, "producer_"))
	assert.Equal(t, "f1", s.frame.FrameID)
	assert.Equal(t, "iphone", s.frame.DeviceID)
	require.Len(t, s.frame.Detections, 1)
	assert.Equal(t, "person_4", s.frame.Detections[0].TrackKey())
}

func TestProducer_DirectFramesKeepOrder(t *testing.T) {
	h := newProducerHarness(t)
	h.frames.mu.Lock()
	h.frames.mode = model.ModeDirect
	h.frames.delays = map[string]time.Duration{"a": 100 * time.Millisecond}
	h.frames.mu.Unlock()

	h.send(t, map[string]any{"type": "frame_data", "frame_id": "a", "timestamp": 1.0})
	h.send(t, map[string]any{"type": "frame_data", "frame_id": "b", "timestamp": 2.0})

	require.Eventually(t, func() bool { return len(h.frames.completedIDs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, h.frames.completedIDs())
}

func TestProducer_BinaryFrame(t *testing.T) {
	h := newProducerHarness(t)

	data, err := cbor.Marshal(map[string]any{
		"type":      "frame_data",
		"frame_id":  "bin1",
		"timestamp": 3.0,
		"image_ref": []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9},
	})
	require.NoError(t, err)
	require.NoError(t, h.conn.WriteMessage(websocket.BinaryMessage, data))

	s := h.nextFrame(t)
	assert.Equal(t, "bin1", s.frame.FrameID)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, s.frame.ImageData)
}

func TestProducer_InvalidMessages(t *testing.T) {
	h := newProducerHarness(t)

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readJSON(t, h.conn)
	assert.Equal(t, dto.TypeError, msg["type"])
	assert.Equal(t, "Invalid message", msg["message"])

	h.send(t, map[string]any{"type": "teleport"})
	msg = readJSON(t, h.conn)
	assert.Equal(t, "Invalid message", msg["message"])

	h.send(t, map[string]any{"type": "frame_data", "timestamp": 1.0})
	msg = readJSON(t, h.conn)
	assert.Equal(t, "Invalid frame data", msg["message"])

	// the connection survives validation errors
	h.send(t, map[string]any{"type": "request_config"})
	msg = readJSON(t, h.conn)
	assert.Equal(t, dto.TypeServerConfig, msg["type"])
	assert.Equal(t, "test", msg["version"])
}

func TestProducer_QueueFull(t *testing.T) {
	h := newProducerHarness(t)
	h.frames.mu.Lock()
	h.frames.err = ingest.ErrQueueFull
	h.frames.mu.Unlock()

	h.send(t, map[string]any{"type": "frame_data", "frame_id": "f9", "timestamp": 1.0})
	h.nextFrame(t)

	msg := readJSON(t, h.conn)
	assert.Equal(t, "Queue full", msg["message"])
	assert.Equal(t, "f9", msg["frame_id"])
}

func TestProducer_Configuration(t *testing.T) {
	h := newProducerHarness(t)

	h.send(t, map[string]any{"type": "configuration", "processing_mode": "direct"})
	msg := readJSON(t, h.conn)
	assert.Equal(t, dto.TypeConfigurationAck, msg["type"])
	assert.Equal(t, "direct", msg["processing_mode"])
	assert.Equal(t, model.ModeDirect, h.frames.Mode())

	h.send(t, map[string]any{"type": "configuration", "processing_mode": "sideways"})
	msg = readJSON(t, h.conn)
	assert.Equal(t, "Invalid configuration", msg["message"])
	assert.Equal(t, model.ModeDirect, h.frames.Mode())

	// direct-mode frames still reach the submitter
	h.send(t, map[string]any{"type": "frame_data", "frame_id": "d1", "timestamp": 2.0})
	assert.Equal(t, "d1", h.nextFrame(t).frame.FrameID)
}

func TestProducer_UserPrompt(t *testing.T) {
	h := newProducerHarness(t)

	h.send(t, map[string]any{"type": "user_prompt", "prompt_id": "p1", "question": "What changed?"})
	select {
	case p := <-h.prompts.got:
		assert.Equal(t, "p1", p.PromptID)
		assert.Equal(t, "What changed?", p.Question)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt was not handled")
	}
}

func TestProducer_DisconnectUnregisters(t *testing.T) {
	h := newProducerHarness(t)
	require.Eventually(t, func() bool { return h.hub.GetClientCount(hub.RoleProducer) == 1 }, time.Second, 10*time.Millisecond)

	h.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	h.conn.Close()

	assert.Eventually(t, func() bool { return h.hub.GetClientCount(hub.RoleProducer) == 0 }, 2*time.Second, 10*time.Millisecond)
}

type fakeQueue struct{ items []model.QueueItemSummary }

func (q fakeQueue) PeekAll() []model.QueueItemSummary { return q.items }

func TestObserver_ReceivesBroadcasts(t *testing.T) {
	hubService := hub.NewHubService(time.Second, logger.NewNop())
	queue := fakeQueue{items: []model.QueueItemSummary{{FrameID: "f1", Status: ingest.StatusEnqueued}}}
	srv := httptest.NewServer(ObserverWebsocketHandler(hubService, queue, DefaultSocketOptions(0), logger.NewNop()))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "/ws/dashboard")
	ack := readJSON(t, conn)
	assert.Equal(t, dto.TypeConnectionAck, ack["type"])
	assert.True(t, strings.HasPrefix(ack["client_id"].(string), "observer_"))

	snapshot := readJSON(t, conn)
	assert.Equal(t, dto.TypeQueueUpdate, snapshot["type"])
	assert.Equal(t, float64(1), snapshot["queue_size"])

	require.Equal(t, 1, hubService.Broadcast(hub.RoleObserver, dto.NewSystemMessage("shutdown", "bye")))
	msg := readJSON(t, conn)
	assert.Equal(t, dto.TypeSystemMessage, msg["type"])
	assert.Equal(t, "shutdown", msg["event"])
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		core   bool
		extra  bool
		status string
		code   int
	}{
		{"healthy", true, true, StatusHealthy, http.StatusOK},
		{"degraded", true, false, StatusDegraded, http.StatusOK},
		{"unhealthy", false, true, StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks := []HealthCheck{
				{Name: "context_memory", Critical: true, Check: func() bool { return tt.core }},
				{Name: "vision", Check: func() bool { return tt.extra }},
			}
			details := func() map[string]any { return map[string]any{"frames_in_memory": 3} }

			rec := httptest.NewRecorder()
			HealthHandler(checks, "1.2.3", details, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Equal(t, map[string]bool{"context_memory": tt.core, "vision": tt.extra}, resp.Services)
			assert.Equal(t, float64(3), resp.Details["frames_in_memory"])
		})
	}
}

func TestFrameAssembler(t *testing.T) {
	a := newFrameAssembler()

	_, ok := a.Feed("cam", []byte{0xFF, 0xD8, 0x01})
	assert.False(t, ok)
	frame, ok := a.Feed("cam", []byte{0x02, 0xFF, 0xD9})
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}, frame)

	// a footer without a header is discarded
	_, ok = a.Feed("other", []byte{0x05, 0xFF, 0xD9})
	assert.False(t, ok)

	// a new header restarts the frame
	a.Feed("cam", []byte{0xFF, 0xD8, 0xAA})
	frame, ok = a.Feed("cam", []byte{0xFF, 0xD8, 0xBB, 0xFF, 0xD9})
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xBB, 0xFF, 0xD9}, frame)
}

func TestCameraName(t *testing.T) {
	names := map[string]string{"10.0.0.5": "front_door"}
	assert.Equal(t, "front_door", cameraName(names, &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}))
	assert.Equal(t, "unknown_10.0.0.6", cameraName(names, &net.UDPAddr{IP: net.ParseIP("10.0.0.6"), Port: 4000}))
}

type stubMotion struct{ moving map[string]bool }

func (m stubMotion) DetectMotion(_ []byte, deviceID string) (bool, error) {
	return m.moving[deviceID], nil
}

func TestCameraGate(t *testing.T) {
	gate := newCameraGate(3, nil)
	var admitted []bool
	for i := 0; i < 6; i++ {
		ok, err := gate.Admit("cam", nil)
		require.NoError(t, err)
		admitted = append(admitted, ok)
	}
	assert.Equal(t, []bool{false, false, true, false, false, true}, admitted)

	gate = newCameraGate(0, stubMotion{moving: map[string]bool{"busy": true}})
	ok, _ := gate.Admit("busy", nil)
	assert.True(t, ok)
	ok, _ = gate.Admit("idle", nil)
	assert.False(t, ok)
}
