package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/config"
	"github.com/spec-kit/checkpoint-service/internal/domain"
	"github.com/spec-kit/checkpoint-service/internal/events"
	"github.com/spec-kit/checkpoint-service/internal/observability"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

var (
	// ErrSessionNotFound is returned when the subject has no live session.
	ErrSessionNotFound = errors.New("verification session not found")
	// ErrSessionTimeout is returned for input arriving after the session deadline.
	ErrSessionTimeout = errors.New("verification session timed out")
	// ErrSessionClosed is returned for input to a session that already finished.
	ErrSessionClosed = errors.New("verification session already finished")
	// ErrStageMismatch is returned when the session is not accepting this input.
	ErrStageMismatch = errors.New("verification session is not accepting this input")
	// ErrInvalidScore is returned for scores outside [0,1].
	ErrInvalidScore = errors.New("score must be within [0,1]")
)

const recordTimeout = 10 * time.Second

// RedeemOutcome reports a redemption and its effect on the subject's session.
// Session is nil when the credential does not exist.
type RedeemOutcome struct {
	Result    domain.ValidationResult
	Session   *domain.VerificationSession
	Duplicate bool
}

// ScoreOutcome reports a biometric submission. Accepted is true when the score
// moved the session into the verifying stage.
type ScoreOutcome struct {
	Accepted bool
	Session  domain.VerificationSession
}

// VerificationService drives one verification session per subject from
// credential redemption through the optional biometric gate to attendance.
type VerificationService struct {
	credentials CredentialValidator
	recorder    repository.AttendanceRepository
	dispatcher  events.Dispatcher
	clock       clock.Clock
	metrics     *observability.Metrics
	logger      *zap.Logger

	biometric bool
	threshold float64
	countdown time.Duration
	deadline  time.Duration
	retention time.Duration

	recordRetry func() backoff.BackOff
	onAcquire   func(*session)

	mu       sync.Mutex
	sessions map[string]*session
}

// VerificationDependencies bundles collaborators for the verification service.
type VerificationDependencies struct {
	Credentials CredentialValidator
	Recorder    repository.AttendanceRepository
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type session struct {
	mu         sync.Mutex
	state      domain.VerificationSession
	finishedAt time.Time
	deadline   *clock.Timer
	countdown  *clock.Timer
}

// NewVerificationService constructs the service.
func NewVerificationService(cfg config.VerificationConfig, deps VerificationDependencies) *VerificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &VerificationService{
		credentials: deps.Credentials,
		recorder:    deps.Recorder,
		dispatcher:  dispatcher,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		logger:      logger.Named("verification"),
		biometric:   cfg.BiometricEnabled,
		threshold:   cfg.MatchThreshold,
		countdown:   cfg.Countdown(),
		deadline:    cfg.SessionDeadline(),
		retention:   cfg.Retention(),
		recordRetry: defaultRecordRetry,
		sessions:    make(map[string]*session),
	}
}

func defaultRecordRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// Redeem validates a presented credential and feeds the result to the
// subject's session, creating the session if none is pending. A redemption
// that reaches a pending session after its deadline fails the session and
// returns ErrSessionTimeout.
func (s *VerificationService) Redeem(ctx context.Context, id, signature string) (RedeemOutcome, error) {
	result, err := s.credentials.Validate(ctx, id, signature)
	if err != nil {
		return RedeemOutcome{}, err
	}
	out := RedeemOutcome{Result: result}
	if result.SubjectID == "" {
		return out, nil
	}

	// A session can finish between acquire and locking it; take a fresh one once.
	var (
		sess *session
		now  time.Time
	)
	for attempt := 0; ; attempt++ {
		now = s.clock.Now()
		sess = s.acquire(result.SubjectID, now)
		if s.onAcquire != nil {
			s.onAcquire(sess)
		}
		sess.mu.Lock()
		if !sess.state.Stage.Terminal() || attempt > 0 {
			break
		}
		sess.mu.Unlock()
	}

	var (
		outErr    error
		finished  *domain.VerificationSession
		immediate bool
	)
	switch {
	case sess.state.Stage.Terminal():
		outErr = closedError(sess.state)
	case s.pastDeadline(sess, now):
		snap := s.failLocked(sess, domain.ReasonTimeout, now)
		finished = &snap
		outErr = ErrSessionTimeout
	case !result.Valid():
	case sess.state.Stage != domain.StageAwaitingToken:
		out.Duplicate = true
	default:
		sess.state.TokenID = result.TokenID
		sess.state.Reason = domain.ReasonNone
		sess.state.UpdatedAt = now
		if s.biometric {
			sess.state.Stage = domain.StageAwaitingBiometric
		} else {
			immediate = s.startVerifyingLocked(sess)
		}
	}
	snap := sess.state
	sess.mu.Unlock()

	if finished != nil {
		s.finish(*finished)
	}
	if immediate {
		s.complete(sess)
		snap = s.snapshot(sess)
	}
	out.Session = &snap
	return out, outErr
}

// SubmitScore applies a biometric similarity score to the subject's session.
// A score below the threshold leaves the session awaiting another attempt.
func (s *VerificationService) SubmitScore(ctx context.Context, subjectID string, score float64) (ScoreOutcome, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return ScoreOutcome{}, ErrInvalidScore
	}
	sess := s.lookup(subjectID)
	if sess == nil {
		return ScoreOutcome{}, ErrSessionNotFound
	}

	now := s.clock.Now()
	sess.mu.Lock()
	var (
		out       ScoreOutcome
		outErr    error
		finished  *domain.VerificationSession
		immediate bool
	)
	switch {
	case sess.state.Stage.Terminal():
		outErr = closedError(sess.state)
	case s.pastDeadline(sess, now):
		snap := s.failLocked(sess, domain.ReasonTimeout, now)
		finished = &snap
		outErr = ErrSessionTimeout
	case sess.state.Stage != domain.StageAwaitingBiometric:
		outErr = ErrStageMismatch
	default:
		s.metrics.ScoreObserved(score)
		recorded := score
		sess.state.LastScore = &recorded
		sess.state.UpdatedAt = now
		if score >= s.threshold {
			sess.state.Reason = domain.ReasonNone
			immediate = s.startVerifyingLocked(sess)
			out.Accepted = true
		} else {
			sess.state.Reason = domain.ReasonScoreBelowThreshold
		}
	}
	out.Session = sess.state
	sess.mu.Unlock()

	if finished != nil {
		s.finish(*finished)
	}
	if immediate {
		s.complete(sess)
		out.Session = s.snapshot(sess)
	}
	return out, outErr
}

// Session returns a snapshot of the subject's session. Observing a finished
// session retires it, so the next redemption starts a fresh one.
func (s *VerificationService) Session(subjectID string) (domain.VerificationSession, error) {
	sess := s.lookup(subjectID)
	if sess == nil {
		return domain.VerificationSession{}, ErrSessionNotFound
	}
	snap := s.snapshot(sess)
	if snap.Stage.Terminal() {
		s.retire(subjectID, sess)
	}
	return snap, nil
}

// Cancel abandons a pending session.
func (s *VerificationService) Cancel(subjectID string) (domain.VerificationSession, error) {
	sess := s.lookup(subjectID)
	if sess == nil {
		return domain.VerificationSession{}, ErrSessionNotFound
	}

	sess.mu.Lock()
	if sess.state.Stage.Terminal() {
		snap := sess.state
		sess.mu.Unlock()
		return snap, closedError(snap)
	}
	snap := s.failLocked(sess, domain.ReasonCancelled, s.clock.Now())
	sess.mu.Unlock()

	s.finish(snap)
	return snap, nil
}

// PruneRetired drops finished sessions that nobody observed within the
// retention period and returns how many were removed.
func (s *VerificationService) PruneRetired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for subjectID, sess := range s.sessions {
		sess.mu.Lock()
		stale := sess.state.Stage.Terminal() && now.Sub(sess.finishedAt) >= s.retention
		sess.mu.Unlock()
		if stale {
			delete(s.sessions, subjectID)
			removed++
		}
	}
	return removed
}

// Active returns the number of sessions held in the registry.
func (s *VerificationService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop cancels every outstanding timer. Sessions are left as they are.
func (s *VerificationService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		sess.stopTimers()
		sess.mu.Unlock()
	}
}

// acquire returns the subject's pending session, replacing a finished one.
// Lock order is registry before session.
func (s *VerificationService) acquire(subjectID string, now time.Time) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[subjectID]; ok {
		existing.mu.Lock()
		terminal := existing.state.Stage.Terminal()
		existing.mu.Unlock()
		if !terminal {
			return existing
		}
	}

	sess := &session{state: domain.VerificationSession{
		ID:        ulid.Make().String(),
		SubjectID: subjectID,
		Stage:     domain.StageAwaitingToken,
		Deadline:  now.Add(s.deadline),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	sess.mu.Lock()
	sess.deadline = s.clock.AfterFunc(s.deadline, func() { s.expire(sess) })
	sess.mu.Unlock()
	s.sessions[subjectID] = sess
	return sess
}

func (s *VerificationService) lookup(subjectID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[subjectID]
}

func (s *VerificationService) retire(subjectID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[subjectID] == sess {
		delete(s.sessions, subjectID)
	}
}

func (s *VerificationService) snapshot(sess *session) domain.VerificationSession {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// pastDeadline applies only to the stages the deadline guards.
func (s *VerificationService) pastDeadline(sess *session, now time.Time) bool {
	switch sess.state.Stage {
	case domain.StageAwaitingToken, domain.StageAwaitingBiometric:
		return !now.Before(sess.state.Deadline)
	default:
		return false
	}
}

// startVerifyingLocked enters the verifying stage and arms the countdown. It
// reports true when the countdown is zero and the caller must complete the
// session itself after releasing the session lock.
func (s *VerificationService) startVerifyingLocked(sess *session) bool {
	sess.state.Stage = domain.StageVerifying
	sess.deadline.Stop()
	if s.countdown <= 0 {
		return true
	}
	sess.countdown = s.clock.AfterFunc(s.countdown, func() { s.complete(sess) })
	return false
}

func (s *VerificationService) failLocked(sess *session, reason domain.SessionReason, now time.Time) domain.VerificationSession {
	sess.state.Stage = domain.StageFailed
	sess.state.Reason = reason
	sess.state.UpdatedAt = now
	sess.finishedAt = now
	sess.stopTimers()
	return sess.state
}

func (sess *session) stopTimers() {
	sess.deadline.Stop()
	sess.countdown.Stop()
}

// expire is the deadline callback.
func (s *VerificationService) expire(sess *session) {
	sess.mu.Lock()
	switch sess.state.Stage {
	case domain.StageAwaitingToken, domain.StageAwaitingBiometric:
	default:
		sess.mu.Unlock()
		return
	}
	snap := s.failLocked(sess, domain.ReasonTimeout, s.clock.Now())
	sess.mu.Unlock()

	s.finish(snap)
}

// complete is the countdown callback. Only the call that observes the
// verifying stage proceeds, so attendance is recorded at most once.
func (s *VerificationService) complete(sess *session) {
	sess.mu.Lock()
	if sess.state.Stage != domain.StageVerifying {
		sess.mu.Unlock()
		return
	}
	now := s.clock.Now()
	sess.state.Stage = domain.StageSucceeded
	sess.state.UpdatedAt = now
	sess.finishedAt = now
	sess.stopTimers()
	snap := sess.state
	sess.mu.Unlock()

	s.record(snap, now)
	s.finish(snap)
}

func (s *VerificationService) record(snap domain.VerificationSession, now time.Time) {
	rec := &domain.AttendanceRecord{
		SessionID:  snap.ID,
		SubjectID:  snap.SubjectID,
		TokenID:    snap.TokenID,
		Method:     domain.AttendanceMethodQR,
		RecordedAt: now,
	}
	if snap.LastScore != nil {
		score := *snap.LastScore
		rec.Score = &score
		rec.Method = domain.AttendanceMethodQRBiometric
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := backoff.Retry(func() error {
		return s.recorder.Record(ctx, rec)
	}, backoff.WithContext(s.recordRetry(), ctx))

	event := events.Event{
		Type:      events.EventAttendanceRecorded,
		SubjectID: rec.SubjectID,
		Timestamp: now,
		Payload:   events.AttendancePayload{Record: *rec},
	}
	if err != nil {
		s.logger.Error("attendance record failed",
			zap.String("subject_id", rec.SubjectID),
			zap.String("session_id", rec.SessionID),
			zap.String("token_id", rec.TokenID),
			zap.Error(err))
		event.Type = events.EventAttendanceFailed
		event.Payload = events.AttendancePayload{Record: *rec, Error: err.Error()}
	}
	s.publish(event)
}

func (s *VerificationService) finish(snap domain.VerificationSession) {
	s.metrics.SessionFinished(snap.Stage, snap.Reason)
	eventType := events.EventSessionFailed
	if snap.Stage == domain.StageSucceeded {
		eventType = events.EventSessionSucceeded
	}
	s.publish(events.Event{
		Type:      eventType,
		SubjectID: snap.SubjectID,
		Timestamp: snap.UpdatedAt,
		Payload:   events.SessionFinishedPayload{Session: snap},
	})
}

func (s *VerificationService) publish(event events.Event) {
	if err := s.dispatcher.Publish(context.Background(), event); err != nil {
		s.logger.Warn("event handler failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func closedError(state domain.VerificationSession) error {
	if state.Reason == domain.ReasonTimeout {
		return ErrSessionTimeout
	}
	return ErrSessionClosed
}
