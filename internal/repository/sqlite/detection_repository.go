package sqlite

import (
	"database/sql"
	"fmt"

	"orionserver/internal/model"
)

const insertDetectionSQL = `
	INSERT INTO detections (frame_row_id, label, confidence, x1, y1, x2, y2, track_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.DetectionRecord) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		return insertDetections(tx, detections)
	})
}

func insertDetections(tx *sql.Tx, detections []model.DetectionRecord) error {
	if len(detections) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(insertDetectionSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		var trackID sql.NullInt64
		if det.TrackID != nil {
			trackID = sql.NullInt64{Int64: int64(*det.TrackID), Valid: true}
		}
		if _, err := stmt.Exec(det.FrameRowID, det.Label, det.Confidence, det.X1, det.Y1, det.X2, det.Y2, trackID); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}
	return nil
}

// GetByFrameRowID retrieves all detections for an archived frame.
func (r *DetectionRepository) GetByFrameRowID(frameRowID int64) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, frame_row_id, label, confidence, x1, y1, x2, y2, track_id
		FROM detections WHERE frame_row_id = ? ORDER BY id
	`, frameRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.DetectionRecord
	for rows.Next() {
		var det model.DetectionRecord
		var trackID sql.NullInt64
		if err := rows.Scan(&det.ID, &det.FrameRowID, &det.Label, &det.Confidence, &det.X1, &det.Y1, &det.X2, &det.Y2, &trackID); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if trackID.Valid {
			id := int(trackID.Int64)
			det.TrackID = &id
		}
		detections = append(detections, det)
	}
	return detections, rows.Err()
}

// GetLabelsByFrameRowID returns the distinct labels of one archived frame.
func (r *DetectionRepository) GetLabelsByFrameRowID(frameRowID int64) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return queryStrings(r.db.Conn(), `SELECT DISTINCT label FROM detections WHERE frame_row_id = ? ORDER BY label`, frameRowID)
}

// GetAllLabels returns every distinct detected label.
func (r *DetectionRepository) GetAllLabels() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return queryStrings(r.db.Conn(), `SELECT DISTINCT label FROM detections ORDER BY label`)
}

// DeleteByFrameRowID removes all detections of one archived frame.
func (r *DetectionRepository) DeleteByFrameRowID(frameRowID int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM detections WHERE frame_row_id = ?`, frameRowID); err != nil {
			return fmt.Errorf("failed to delete detections: %w", err)
		}
		return nil
	})
}

func queryStrings(conn *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
