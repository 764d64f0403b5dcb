package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// SQLiteAttendanceSchema creates the attendance table for single-node deployments.
const SQLiteAttendanceSchema = `
CREATE TABLE IF NOT EXISTS attendance_records (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL UNIQUE,
    subject_id  TEXT NOT NULL,
    token_id    TEXT NOT NULL,
    score       REAL,
    method      TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS attendance_records_recorded_at_idx ON attendance_records (recorded_at DESC);`

type sqliteAttendanceRepository struct {
	db *sql.DB
}

// NewSQLiteAttendanceRepository returns a SQLite-backed implementation.
// The schema must already exist (see persistence.NewSQLite).
func NewSQLiteAttendanceRepository(db *sql.DB) AttendanceRepository {
	return &sqliteAttendanceRepository{db: db}
}

func (r *sqliteAttendanceRepository) Record(ctx context.Context, rec *domain.AttendanceRecord) error {
	if err := assignRecordID(rec); err != nil {
		return err
	}
	const query = `
        INSERT INTO attendance_records (id, session_id, subject_id, token_id, score, method, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO NOTHING`

	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.SubjectID,
		rec.TokenID,
		score,
		string(rec.Method),
		rec.RecordedAt.UTC().UnixMicro(),
	)
	return err
}

func (r *sqliteAttendanceRepository) List(ctx context.Context, limit, offset int) ([]domain.AttendanceRecord, error) {
	limit, offset = normalizePage(limit, offset)
	const query = `
        SELECT id, session_id, subject_id, token_id, score, method, recorded_at
        FROM attendance_records
        ORDER BY recorded_at DESC
        LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.AttendanceRecord, 0, limit)
	for rows.Next() {
		var (
			rec        domain.AttendanceRecord
			score      sql.NullFloat64
			method     string
			recordedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.SubjectID, &rec.TokenID, &score, &method, &recordedAt); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			rec.Score = &v
		}
		rec.Method = domain.AttendanceMethod(method)
		rec.RecordedAt = time.UnixMicro(recordedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *sqliteAttendanceRepository) Stats(ctx context.Context, now time.Time) (domain.AttendanceStats, error) {
	start, end := dayBounds(now)
	const totals = `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN recorded_at >= ? AND recorded_at < ? THEN 1 ELSE 0 END), 0),
               COALESCE(AVG(score), 0)
        FROM attendance_records`

	stats := domain.AttendanceStats{ByMethod: map[domain.AttendanceMethod]int{}}
	if err := r.db.QueryRowContext(ctx, totals, start.UnixMicro(), end.UnixMicro()).
		Scan(&stats.Total, &stats.Today, &stats.AverageScore); err != nil {
		return domain.AttendanceStats{}, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT method, COUNT(*) FROM attendance_records GROUP BY method`)
	if err != nil {
		return domain.AttendanceStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return domain.AttendanceStats{}, err
		}
		stats.ByMethod[domain.AttendanceMethod(method)] = count
	}
	return stats, rows.Err()
}
