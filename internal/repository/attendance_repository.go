package repository

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// AttendanceRepository is the durable sink for accepted verification sessions.
// Record is idempotent per session id so that retried writes never duplicate a record.
type AttendanceRepository interface {
	Record(ctx context.Context, rec *domain.AttendanceRecord) error
	List(ctx context.Context, limit, offset int) ([]domain.AttendanceRecord, error)
	Stats(ctx context.Context, now time.Time) (domain.AttendanceStats, error)
}

func assignRecordID(rec *domain.AttendanceRecord) error {
	if rec.ID != "" {
		return nil
	}
	id, err := ulid.New(ulid.Timestamp(rec.RecordedAt), rand.Reader)
	if err != nil {
		return err
	}
	rec.ID = id.String()
	return nil
}

func dayBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// MemoryAttendanceRepository keeps records in process memory.
type MemoryAttendanceRepository struct {
	mu      sync.Mutex
	records   []domain.AttendanceRecord
	bySession map[string]struct{}
}

// NewMemoryAttendanceRepository constructs an empty repository.
func NewMemoryAttendanceRepository() *MemoryAttendanceRepository {
	return &MemoryAttendanceRepository{bySession: make(map[string]struct{})}
}

func (r *MemoryAttendanceRepository) Record(ctx context.Context, rec *domain.AttendanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := assignRecordID(rec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySession[rec.SessionID]; exists {
		return nil
	}
	r.bySession[rec.SessionID] = struct{}{}
	r.records = append(r.records, *rec)
	return nil
}

func (r *MemoryAttendanceRepository) List(ctx context.Context, limit, offset int) ([]domain.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)

	r.mu.Lock()
	snap := append([]domain.AttendanceRecord(nil), r.records...)
	r.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool { return snap[i].RecordedAt.After(snap[j].RecordedAt) })
	if offset >= len(snap) {
		return []domain.AttendanceRecord{}, nil
	}
	end := offset + limit
	if end > len(snap) {
		end = len(snap)
	}
	return snap[offset:end], nil
}

func (r *MemoryAttendanceRepository) Stats(ctx context.Context, now time.Time) (domain.AttendanceStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.AttendanceStats{}, err
	}
	start, end := dayBounds(now)
	stats := domain.AttendanceStats{ByMethod: map[domain.AttendanceMethod]int{}}

	r.mu.Lock()
	defer r.mu.Unlock()

	var scoreSum float64
	var scored int
	for _, rec := range r.records {
		stats.Total++
		stats.ByMethod[rec.Method]++
		if !rec.RecordedAt.Before(start) && rec.RecordedAt.Before(end) {
			stats.Today++
		}
		if rec.Score != nil {
			scoreSum += *rec.Score
			scored++
		}
	}
	if scored > 0 {
		stats.AverageScore = scoreSum / float64(scored)
	}
	return stats, nil
}
