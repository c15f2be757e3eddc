package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"orionserver/internal/config"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/repository"
)

const timestampLayout = "2006-01-02_15-04_05.000"

// Annotator draws detections onto an encoded image.
type Annotator interface {
	Annotate(detections []model.Detection, img []byte) ([]byte, error)
}

type bufferedResult struct {
	result     model.FrameResult
	receivedAt time.Time
}

// BufferService buffers frame results in memory and periodically flushes them
// to the archive database and, when images are attached, to disk.
type BufferService struct {
	imagesDir     string
	flushInterval time.Duration
	limit         int
	results       []bufferedResult
	bufferCount   map[string]int
	dropped       int
	mu            sync.Mutex
	logger        *logger.Logger
	frameRepo     repository.FrameRepository
	annotator     Annotator
}

// NewBufferService creates a new BufferService. annotator may be nil.
func NewBufferService(cfg *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository, annotator Annotator) *BufferService {
	interval := cfg.ArchiveFlushDuration()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BufferService{
		imagesDir:     cfg.ImageDirectory,
		flushInterval: interval,
		limit:         cfg.ArchiveBufferLimit,
		results:       make([]bufferedResult, 0),
		bufferCount:   make(map[string]int),
		logger:        logger,
		frameRepo:     frameRepo,
		annotator:     annotator,
	}
}

// Run flushes the buffer on every tick until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Consume appends a result to the buffer. Results beyond the per-device
// limit are dropped until the next flush.
func (s *BufferService) Consume(result model.FrameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device := deviceKey(result)
	if s.limit > 0 && s.bufferCount[device] >= s.limit {
		s.dropped++
		return
	}
	s.results = append(s.results, bufferedResult{result: result, receivedAt: time.Now()})
	s.bufferCount[device]++
}

// Pending returns the number of buffered results.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Flush writes buffered results to the archive and resets the buffer.
// It returns how many results were archived.
func (s *BufferService) Flush() int {
	s.mu.Lock()
	pending := s.results
	dropped := s.dropped
	s.results = make([]bufferedResult, 0)
	s.bufferCount = make(map[string]int)
	s.dropped = 0
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}
	if dropped > 0 {
		s.logger.Warning("Archive buffer dropped %d results since last flush", dropped)
	}

	savedCount := 0
	for _, item := range pending {
		if err := s.save(item); err != nil {
			s.logger.Error("Error archiving frame %s: %v", item.result.FrameID, err)
			continue
		}
		savedCount++
	}

	s.logger.Info("🗄️ Flushed %d results to archive", savedCount)
	return savedCount
}

func (s *BufferService) save(item bufferedResult) error {
	result := item.result
	record := &model.FrameRecord{
		FrameID:          result.FrameID,
		DeviceID:         result.DeviceID,
		ClientID:         result.ClientID,
		Timestamp:        resultTime(result, item.receivedAt),
		SceneDescription: result.Analysis.SceneDescription,
		Confidence:       result.Analysis.Confidence,
		DurationMS:       result.Duration.Milliseconds(),
		Error:            result.Error,
	}

	if len(result.Image) > 0 && s.imagesDir != "" {
		path, err := s.writeImage(result, item.receivedAt)
		if err != nil {
			s.logger.Warning("Error saving image for frame %s: %v", result.FrameID, err)
		} else {
			record.ImagePath = path
		}
	}

	detections := make([]model.DetectionRecord, 0, len(result.Detections))
	for _, det := range result.Detections {
		detections = append(detections, model.DetectionRecord{
			Label:      det.Label,
			Confidence: det.Confidence,
			X1:         det.BBox[0],
			Y1:         det.BBox[1],
			X2:         det.BBox[2],
			Y2:         det.BBox[3],
			TrackID:    det.TrackID,
		})
	}

	_, err := s.frameRepo.InsertWithDetections(record, detections)
	return err
}

func (s *BufferService) writeImage(result model.FrameResult, receivedAt time.Time) (string, error) {
	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	data := result.Image
	if s.annotator != nil && len(result.Detections) > 0 {
		annotated, err := s.annotator.Annotate(result.Detections, data)
		if err != nil {
			s.logger.Warning("Error annotating frame %s: %v", result.FrameID, err)
		} else {
			data = annotated
		}
	}

	// Build filename with detected object names
	objects := ""
	for _, det := range result.Detections {
		objects += det.Label + "_"
	}
	filename := fmt.Sprintf("%s_%s_%s%s.jpg", receivedAt.Format(timestampLayout), sanitize(deviceKey(result)), objects, sanitize(result.FrameID))
	fullpath := filepath.Join(s.imagesDir, filename)

	if err := os.WriteFile(fullpath, data, 0644); err != nil {
		return "", err
	}
	return fullpath, nil
}

func deviceKey(result model.FrameResult) string {
	if result.DeviceID != "" {
		return result.DeviceID
	}
	return result.ClientID
}

func resultTime(result model.FrameResult, fallback time.Time) time.Time {
	if result.Timestamp <= 0 || math.IsNaN(result.Timestamp) {
		return fallback.UTC()
	}
	sec, frac := math.Modf(result.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}
