package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orionserver/internal/model"
)

type message struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) sent() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.messages...)
}

func frameResult(id, device string) model.FrameResult {
	return model.FrameResult{
		FrameID:  id,
		DeviceID: device,
		ClientID: "producer_1",
		Detections: []model.Detection{
			model.NewDetection("person", 0.9, nil, nil),
			model.NewDetection("car", 0.7, nil, nil),
			model.NewDetection("person", 0.8, nil, nil),
		},
		Analysis: model.Analysis{SceneDescription: "Busy street", Confidence: 0.8},
		Duration: 125 * time.Millisecond,
		Image:    []byte("jpeg"),
	}
}

func runEmitter(t *testing.T, e *Emitter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewSummary(t *testing.T) {
	got := NewSummary(frameResult("f1", "cam_a"))
	want := Summary{
		FrameID:          "f1",
		DeviceID:         "cam_a",
		ClientID:         "producer_1",
		SceneDescription: "Busy street",
		Confidence:       0.8,
		Objects:          []string{"person", "car"},
		Insights:         []string{},
		DurationMS:       125,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewSummary mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitter_PublishesPerDeviceTopic(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "orion/results", 8, nil)

	e.Consume(frameResult("f1", "cam_a"))
	e.Consume(frameResult("f2", ""))
	runEmitter(t, e)

	sent := pub.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "orion/results/cam_a", sent[0].topic)
	assert.Equal(t, "orion/results", sent[1].topic)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sent[0].payload, &decoded))
	assert.Equal(t, "f1", decoded["frame_id"])
	assert.NotContains(t, decoded, "image")
	assert.Equal(t, uint64(2), e.Stats().Published)
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "orion/results", 1, nil)

	e.Consume(frameResult("f1", "cam_a"))
	e.Consume(frameResult("f2", "cam_a"))

	assert.Equal(t, uint64(1), e.Stats().Dropped)
	runEmitter(t, e)
	assert.Len(t, pub.sent(), 1)
}

func TestEmitter_CountsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	e := New(pub, "orion/results", 4, nil)

	e.Consume(frameResult("f1", "cam_a"))
	runEmitter(t, e)

	assert.Equal(t, Stats{Errors: 1}, e.Stats())
}
