package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

type postgresAttendanceRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAttendanceRepository returns a Postgres-backed implementation.
func NewPostgresAttendanceRepository(pool *pgxpool.Pool) AttendanceRepository {
	return &postgresAttendanceRepository{pool: pool}
}

func (r *postgresAttendanceRepository) Record(ctx context.Context, rec *domain.AttendanceRecord) error {
	if err := assignRecordID(rec); err != nil {
		return err
	}
	const query = `
        INSERT INTO attendance_records (id, session_id, subject_id, token_id, score, method, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (session_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.SubjectID,
		rec.TokenID,
		rec.Score,
		rec.Method,
		rec.RecordedAt,
	)
	return err
}

func (r *postgresAttendanceRepository) List(ctx context.Context, limit, offset int) ([]domain.AttendanceRecord, error) {
	limit, offset = normalizePage(limit, offset)
	const query = `
        SELECT id, session_id, subject_id, token_id, score, method, recorded_at
        FROM attendance_records
        ORDER BY recorded_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.AttendanceRecord, 0, limit)
	for rows.Next() {
		var rec domain.AttendanceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.SubjectID,
			&rec.TokenID,
			&rec.Score,
			&rec.Method,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *postgresAttendanceRepository) Stats(ctx context.Context, now time.Time) (domain.AttendanceStats, error) {
	start, end := dayBounds(now)
	const totals = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE recorded_at >= $1 AND recorded_at < $2),
               COALESCE(AVG(score), 0)
        FROM attendance_records`

	stats := domain.AttendanceStats{ByMethod: map[domain.AttendanceMethod]int{}}
	if err := r.pool.QueryRow(ctx, totals, start, end).Scan(&stats.Total, &stats.Today, &stats.AverageScore); err != nil {
		return domain.AttendanceStats{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT method, COUNT(*) FROM attendance_records GROUP BY method`)
	if err != nil {
		return domain.AttendanceStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var method domain.AttendanceMethod
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return domain.AttendanceStats{}, err
		}
		stats.ByMethod[method] = count
	}
	return stats, rows.Err()
}
