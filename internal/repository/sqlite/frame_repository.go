package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orionserver/internal/dto"
	"orionserver/internal/model"
)

const frameColumns = `f.id, f.frame_id, f.device_id, f.client_id, f.timestamp, f.scene_description,
	f.confidence, f.duration_ms, f.image_path, f.error`

// FrameRepository implements repository.FrameRepository for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// Insert adds a new frame record.
func (r *FrameRepository) Insert(rec *model.FrameRecord) (int64, error) {
	return r.InsertWithDetections(rec, nil)
}

// InsertWithDetections stores a frame and its detections in one transaction.
// The detections' FrameRowID is set to the new row id.
func (r *FrameRepository) InsertWithDetections(rec *model.FrameRecord, detections []model.DetectionRecord) (int64, error) {
	var id int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO frames (frame_id, device_id, client_id, timestamp, scene_description, confidence, duration_ms, image_path, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.FrameID, rec.DeviceID, rec.ClientID, rec.Timestamp.UTC(), rec.SceneDescription, rec.Confidence, rec.DurationMS, rec.ImagePath, rec.Error)
		if err != nil {
			return fmt.Errorf("failed to insert frame: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return err
		}
		for i := range detections {
			detections[i].FrameRowID = id
		}
		return insertDetections(tx, detections)
	})
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

// GetByID retrieves a frame by row id. Returns nil when absent.
func (r *FrameRepository) GetByID(id int64) (*model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.getOne(`SELECT `+frameColumns+` FROM frames f WHERE f.id = ?`, id)
}

// GetByFrameID retrieves the latest archived frame with the given frame id.
func (r *FrameRepository) GetByFrameID(frameID string) (*model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.getOne(`SELECT `+frameColumns+` FROM frames f WHERE f.frame_id = ? ORDER BY f.id DESC LIMIT 1`, frameID)
}

func (r *FrameRepository) getOne(query string, args ...any) (*model.FrameRecord, error) {
	rec, err := scanFrame(r.db.Conn().QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFrame(row rowScanner) (*model.FrameRecord, error) {
	var rec model.FrameRecord
	if err := row.Scan(&rec.ID, &rec.FrameID, &rec.DeviceID, &rec.ClientID, &rec.Timestamp,
		&rec.SceneDescription, &rec.Confidence, &rec.DurationMS, &rec.ImagePath, &rec.Error); err != nil {
		return nil, err
	}
	return &rec, nil
}

// filterClause builds the WHERE conditions shared by GetAll and GetTotalCount.
func filterClause(filter *dto.FrameFilters) (string, []any) {
	clause := " WHERE 1=1"
	args := []any{}
	if filter == nil {
		return clause, args
	}

	if filter.Device != "" {
		clause += " AND f.device_id = ?"
		args = append(args, filter.Device)
	}
	if filter.Object != "" {
		clause += " AND EXISTS (SELECT 1 FROM detections d WHERE d.frame_row_id = f.id AND d.label = ?)"
		args = append(args, filter.Object)
	}
	if !filter.DateAfter.IsZero() {
		clause += " AND f.timestamp >= ?"
		args = append(args, filter.DateAfter.UTC())
	}
	if !filter.DateBefore.IsZero() {
		clause += " AND f.timestamp <= ?"
		args = append(args, filter.DateBefore.UTC())
	}
	return clause, args
}

// GetAll retrieves frames matching the filter, newest first.
func (r *FrameRepository) GetAll(filter *dto.FrameFilters) ([]model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + frameColumns + ` FROM frames f` + where + ` ORDER BY f.timestamp DESC, f.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []model.FrameRecord
	for rows.Next() {
		rec, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, *rec)
	}
	return frames, rows.Err()
}

// GetTotalCount returns how many frames match the filter.
func (r *FrameRepository) GetTotalCount(filter *dto.FrameFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM frames f`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// GetDevices returns the distinct device ids seen in the archive.
func (r *FrameRepository) GetDevices() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return queryStrings(r.db.Conn(), `SELECT DISTINCT device_id FROM frames WHERE device_id != '' ORDER BY device_id`)
}

// GetStats returns statistics about archived frames.
func (r *FrameRepository) GetStats() (*model.ArchiveStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.ArchiveStats{
		PerDevice:    make(map[string]int),
		ObjectCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&stats.TotalFrames); err != nil {
		return nil, err
	}
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM frames WHERE error != ''`).Scan(&stats.Errors); err != nil {
		return nil, err
	}

	if err := scanCounts(r.db.Conn(), `SELECT device_id, COUNT(*) FROM frames GROUP BY device_id`, stats.PerDevice); err != nil {
		return nil, err
	}
	if err := scanCounts(r.db.Conn(), `
		SELECT label, COUNT(*) as cnt
		FROM detections
		GROUP BY label
		ORDER BY cnt DESC
		LIMIT 10
	`, stats.ObjectCounts); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanCounts(conn *sql.DB, query string, into map[string]int) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// DeleteOlderThan removes frames (and their detections) archived before cutoff.
func (r *FrameRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM detections WHERE frame_row_id IN (SELECT id FROM frames WHERE timestamp < ?)`, cutoff.UTC()); err != nil {
			return fmt.Errorf("failed to delete detections: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM frames WHERE timestamp < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to delete frames: %w", err)
		}
		n, _ = result.RowsAffected()
		return nil
	})
	return n, err
}

// DeleteAll removes all frames and their detections.
func (r *FrameRepository) DeleteAll() error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM detections`); err != nil {
			return fmt.Errorf("failed to delete detections: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM frames`); err != nil {
			return fmt.Errorf("failed to delete frames: %w", err)
		}
		return nil
	})
}
