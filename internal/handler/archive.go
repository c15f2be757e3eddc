package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"orionserver/internal/config"
	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/repository"
)

// GetFramesHandler returns a filtered, paginated list of archived frames.
func GetFramesHandler(frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &dto.FrameFilters{
			Device:     q.Get("device"),
			Object:     q.Get("object"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
		}
		if !filter.DateBefore.IsZero() {
			// inclusive of the whole day
			filter.DateBefore = filter.DateBefore.Add(24*time.Hour - time.Nanosecond)
		}

		totalCount, err := frameRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting frames: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		filter.Limit = limit
		filter.Offset = (page - 1) * limit
		records, err := frameRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying frames from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		frames := make([]dto.FrameInfo, 0, len(records))
		for _, rec := range records {
			objects := []string{}
			if detectionRepo != nil {
				labels, err := detectionRepo.GetLabelsByFrameRowID(rec.ID)
				if err != nil {
					logger.Error("Error getting objects for frame %d: %v", rec.ID, err)
				} else if labels != nil {
					objects = labels
				}
			}

			frames = append(frames, dto.FrameInfo{
				FrameID:          rec.FrameID,
				Device:           rec.DeviceID,
				Date:             rec.Timestamp,
				TimeOfDay:        rec.Timestamp,
				SceneDescription: rec.SceneDescription,
				Confidence:       rec.Confidence,
				Objects:          objects,
				HasImage:         rec.ImagePath != "",
				Error:            rec.Error,
			})
		}

		writeJSON(w, http.StatusOK, dto.FramesData{
			Frames:      frames,
			Length:      totalCount,
			TotalPages:  dto.TotalPages(totalCount, limit),
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// GetArchiveStatsHandler returns totals per device and the most frequent objects.
func GetArchiveStatsHandler(frameRepo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := frameRepo.GetStats()
		if err != nil {
			logger.Error("Error reading archive stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// ViewFrameImageHandler serves the stored image of the frame given by the "frame" query parameter.
func ViewFrameImageHandler(frameRepo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frameID := r.URL.Query().Get("frame")
		if frameID == "" {
			http.Error(w, "Frame parameter is required", http.StatusBadRequest)
			return
		}
		rec, err := frameRepo.GetByFrameID(frameID)
		if err != nil {
			logger.Error("Error looking up frame %s: %v", frameID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if rec == nil || rec.ImagePath == "" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, rec.ImagePath)
	}
}

// ClearArchiveHandler deletes stored images and every archived frame.
// With "olderThanDays" only frames older than that are removed from the database.
func ClearArchiveHandler(cfg *config.Config, frameRepo repository.FrameRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if days := atoiDefault(r.URL.Query().Get("olderThanDays"), 0); days > 0 {
			removed, err := frameRepo.DeleteOlderThan(time.Now().AddDate(0, 0, -days))
			if err != nil {
				logger.Error("Error pruning archive: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			logger.Info("Pruned %d archived frames older than %d days", removed, days)
			writeJSON(w, http.StatusOK, map[string]int64{"removed": removed}, logger)
			return
		}

		if files, err := os.ReadDir(cfg.ImageDirectory); err == nil {
			for _, file := range files {
				if file.IsDir() {
					continue
				}
				if err := os.Remove(filepath.Join(cfg.ImageDirectory, file.Name())); err != nil {
					logger.Error("Error deleting file %s: %v", file.Name(), err)
				}
			}
		}

		if err := frameRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Archive cleared, images removed from: %s", cfg.ImageDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
