package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orionserver/internal/config"
	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/repository/sqlite"
)

type stubAnnotator struct {
	err   error
	calls int
}

func (a *stubAnnotator) Annotate(_ []model.Detection, img []byte) ([]byte, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return append([]byte("annotated:"), img...), nil
}

func newTestBuffer(t *testing.T, limit int, annotator Annotator) (*BufferService, *sqlite.FrameRepository, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.ImageDirectory = filepath.Join(dir, "images")
	cfg.ArchiveBufferLimit = limit

	repo := sqlite.NewFrameRepository(db)
	return NewBufferService(cfg, logger.NewNop(), repo, annotator), repo, cfg.ImageDirectory
}

func result(frameID, device string, image []byte) model.FrameResult {
	track := 3
	return model.FrameResult{
		FrameID:   frameID,
		DeviceID:  device,
		ClientID:  "producer_1",
		Timestamp: 1714557600.5,
		Detections: []model.Detection{
			model.NewDetection("person", 0.9, []float64{0.1, 0.2, 0.3, 0.4}, &track),
		},
		Analysis: model.Analysis{SceneDescription: "A person near the door", Confidence: 0.8},
		Duration: 40 * time.Millisecond,
		Image:    image,
	}
}

func TestBufferService_FlushArchivesResults(t *testing.T) {
	annotator := &stubAnnotator{}
	buf, repo, imagesDir := newTestBuffer(t, 10, annotator)

	buf.Consume(result("f1", "cam_a", []byte("jpeg")))
	buf.Consume(result("f2", "cam_a", nil))
	assert.Equal(t, 2, buf.Pending())

	assert.Equal(t, 2, buf.Flush())
	assert.Zero(t, buf.Pending())

	frames, err := repo.GetAll(&dto.FrameFilters{})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	rec, err := repo.GetByFrameID("f1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "A person near the door", rec.SceneDescription)
	assert.Equal(t, int64(40), rec.DurationMS)
	assert.Equal(t, int64(1714557600), rec.Timestamp.Unix())
	require.NotEmpty(t, rec.ImagePath)

	data, err := os.ReadFile(rec.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "annotated:jpeg", string(data))
	assert.Equal(t, 1, annotator.calls)

	entries, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	count, err := repo.GetTotalCount(&dto.FrameFilters{Object: "person"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBufferService_AnnotateFailureKeepsOriginal(t *testing.T) {
	buf, repo, _ := newTestBuffer(t, 10, &stubAnnotator{err: errors.New("bad image")})

	buf.Consume(result("f1", "cam_a", []byte("jpeg")))
	require.Equal(t, 1, buf.Flush())

	rec, err := repo.GetByFrameID("f1")
	require.NoError(t, err)
	data, err := os.ReadFile(rec.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestBufferService_PerDeviceLimit(t *testing.T) {
	buf, _, _ := newTestBuffer(t, 2, nil)

	for _, id := range []string{"a1", "a2", "a3"} {
		buf.Consume(result(id, "cam_a", nil))
	}
	buf.Consume(result("b1", "cam_b", nil))

	assert.Equal(t, 3, buf.Pending())
	assert.Equal(t, 3, buf.Flush())

	buf.Consume(result("a4", "cam_a", nil))
	assert.Equal(t, 1, buf.Pending(), "limits reset after flush")
}

func TestBufferService_RunFlushesOnShutdown(t *testing.T) {
	buf, repo, _ := newTestBuffer(t, 10, nil)
	buf.Consume(result("f1", "cam_a", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- buf.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	count, err := repo.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "cam-a-b", sanitize("cam/a:b"))
}
