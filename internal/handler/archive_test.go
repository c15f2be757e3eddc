package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orionserver/internal/config"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/repository/sqlite"
)

type archiveFixture struct {
	cfg        *config.Config
	frames     *sqlite.FrameRepository
	detections *sqlite.DetectionRepository
}

func newArchiveFixture(t *testing.T) *archiveFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.ImageDirectory = filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(cfg.ImageDirectory, 0755))

	f := &archiveFixture{cfg: cfg, frames: sqlite.NewFrameRepository(db), detections: sqlite.NewDetectionRepository(db)}

	imagePath := filepath.Join(cfg.ImageDirectory, "f2.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("jpeg"), 0644))

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	_, err = f.frames.InsertWithDetections(&model.FrameRecord{
		FrameID: "f1", DeviceID: "cam_a", Timestamp: base, SceneDescription: "Empty hallway", Confidence: 0.8,
	}, []model.DetectionRecord{{Label: "chair", Confidence: 0.6}})
	require.NoError(t, err)
	_, err = f.frames.InsertWithDetections(&model.FrameRecord{
		FrameID: "f2", DeviceID: "cam_b", Timestamp: base.Add(24 * time.Hour), SceneDescription: "Person at door", Confidence: 0.8, ImagePath: imagePath,
	}, []model.DetectionRecord{{Label: "person", Confidence: 0.9}, {Label: "dog", Confidence: 0.7}})
	require.NoError(t, err)
	return f
}

func TestGetFramesHandler(t *testing.T) {
	f := newArchiveFixture(t)
	handler := GetFramesHandler(f.frames, f.detections, logger.NewNop())

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/frames?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Frames []struct {
			FrameID  string   `json:"frame_id"`
			Device   string   `json:"device"`
			Date     string   `json:"date"`
			Objects  []string `json:"objects"`
			HasImage bool     `json:"has_image"`
		} `json:"frames"`
		Length     int `json:"length"`
		TotalPages int `json:"totalPages"`
		PageSize   int `json:"pageSize"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Length)
	assert.Equal(t, 2, body.TotalPages)
	assert.Equal(t, 1, body.PageSize)
	require.Len(t, body.Frames, 1)
	assert.Equal(t, "f2", body.Frames[0].FrameID)
	assert.Equal(t, "02-06-2024", body.Frames[0].Date)
	assert.Equal(t, []string{"dog", "person"}, body.Frames[0].Objects)
	assert.True(t, body.Frames[0].HasImage)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/frames?device=cam_a&dateBefore=2024-06-01", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Length)
	assert.Equal(t, "f1", body.Frames[0].FrameID)
}

func TestArchiveStatsAndImage(t *testing.T) {
	f := newArchiveFixture(t)

	rec := httptest.NewRecorder()
	GetArchiveStatsHandler(f.frames, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/api/frames/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.ArchiveStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalFrames)
	assert.Equal(t, 1, stats.ObjectCounts["person"])

	view := ViewFrameImageHandler(f.frames, logger.NewNop())
	rec = httptest.NewRecorder()
	view(rec, httptest.NewRequest(http.MethodGet, "/api/frames/image?frame=f2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())

	rec = httptest.NewRecorder()
	view(rec, httptest.NewRequest(http.MethodGet, "/api/frames/image?frame=f1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	view(rec, httptest.NewRequest(http.MethodGet, "/api/frames/image", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearArchiveHandler(t *testing.T) {
	f := newArchiveFixture(t)
	clearArchive := ClearArchiveHandler(f.cfg, f.frames, logger.NewNop())

	rec := httptest.NewRecorder()
	clearArchive(rec, httptest.NewRequest(http.MethodGet, "/api/frames/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	clearArchive(rec, httptest.NewRequest(http.MethodPost, "/api/frames/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	count, err := f.frames.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	entries, err := os.ReadDir(f.cfg.ImageDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogsHandlers(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewLogger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	log.Warning("disk almost full")

	rec := httptest.NewRecorder()
	ShowLogsHandler(dir, LogFiles["warning"])(rec, httptest.NewRequest(http.MethodGet, "/logs/warning", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk almost full")

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, LogFiles["warning"])(rec, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	data, err := os.ReadFile(filepath.Join(dir, LogFiles["warning"]))
	require.NoError(t, err)
	assert.Empty(t, data)

	rec = httptest.NewRecorder()
	ShowLogsHandler(t.TempDir(), "info.log")(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
