package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/config"
	"github.com/spec-kit/checkpoint-service/internal/domain"
	"github.com/spec-kit/checkpoint-service/internal/events"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

// countingRecorder counts Record calls and can fail the first few.
type countingRecorder struct {
	*repository.MemoryAttendanceRepository
	calls    atomic.Int32
	failures atomic.Int32
}

func (r *countingRecorder) Record(ctx context.Context, rec *domain.AttendanceRecord) error {
	r.calls.Add(1)
	if r.failures.Load() > 0 {
		r.failures.Add(-1)
		return errors.New("recorder offline")
	}
	return r.MemoryAttendanceRepository.Record(ctx, rec)
}

type verificationHarness struct {
	clock       *clock.FakeClock
	credentials *CredentialService
	verifier    *VerificationService
	recorder    *countingRecorder
	dispatcher  events.Dispatcher
}

func defaultVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		BiometricEnabled:       true,
		MatchThreshold:         0.75,
		CountdownSeconds:       3,
		SessionDeadlineSeconds: 30,
		RetentionSeconds:       300,
	}
}

func newVerificationHarness(t *testing.T, cfg config.VerificationConfig) *verificationHarness {
	t.Helper()
	return newVerificationHarnessWithUse(t, cfg, true)
}

func newVerificationHarnessWithUse(t *testing.T, cfg config.VerificationConfig, singleUse bool) *verificationHarness {
	t.Helper()
	clk := clock.Fake(epoch)
	credentials := newTestCredentialService(t, repository.NewMemoryTokenStore(), clk, singleUse)
	recorder := &countingRecorder{MemoryAttendanceRepository: repository.NewMemoryAttendanceRepository()}
	dispatcher := events.NewInMemoryDispatcher()

	verifier := NewVerificationService(cfg, VerificationDependencies{
		Credentials: credentials,
		Recorder:    recorder,
		Dispatcher:  dispatcher,
		Clock:       clk,
	})
	verifier.recordRetry = noRetry
	t.Cleanup(verifier.Stop)

	return &verificationHarness{
		clock:       clk,
		credentials: credentials,
		verifier:    verifier,
		recorder:    recorder,
		dispatcher:  dispatcher,
	}
}

func (h *verificationHarness) redeemNew(t *testing.T, subjectID string) RedeemOutcome {
	t.Helper()
	cred, err := h.credentials.Issue(context.Background(), subjectID)
	require.NoError(t, err)
	out, err := h.verifier.Redeem(context.Background(), cred.ID, cred.Signature)
	require.NoError(t, err)
	return out
}

func (h *verificationHarness) records(t *testing.T) []domain.AttendanceRecord {
	t.Helper()
	recs, err := h.recorder.List(context.Background(), 100, 0)
	require.NoError(t, err)
	return recs
}

func TestBiometricRetryThenSuccessRecordsOnce(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	var succeeded atomic.Int32
	h.dispatcher.Subscribe(events.EventSessionSucceeded, func(context.Context, events.Event) error {
		succeeded.Add(1)
		return nil
	})

	out := h.redeemNew(t, "emp-42")
	require.True(t, out.Result.Valid())
	require.NotNil(t, out.Session)
	assert.Equal(t, domain.StageAwaitingBiometric, out.Session.Stage)

	low, err := h.verifier.SubmitScore(ctx, "emp-42", 0.70)
	require.NoError(t, err)
	assert.False(t, low.Accepted)
	assert.Equal(t, domain.StageAwaitingBiometric, low.Session.Stage)
	assert.Equal(t, domain.ReasonScoreBelowThreshold, low.Session.Reason)
	require.NotNil(t, low.Session.LastScore)
	assert.InDelta(t, 0.70, *low.Session.LastScore, 1e-9)

	high, err := h.verifier.SubmitScore(ctx, "emp-42", 0.80)
	require.NoError(t, err)
	assert.True(t, high.Accepted)
	assert.Equal(t, domain.StageVerifying, high.Session.Stage)
	assert.Equal(t, domain.ReasonNone, high.Session.Reason)

	h.clock.Advance(2 * time.Second)
	assert.Empty(t, h.records(t))

	h.clock.Advance(time.Second)
	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "emp-42", recs[0].SubjectID)
	assert.Equal(t, out.Result.TokenID, recs[0].TokenID)
	assert.Equal(t, domain.AttendanceMethodQRBiometric, recs[0].Method)
	require.NotNil(t, recs[0].Score)
	assert.InDelta(t, 0.80, *recs[0].Score, 1e-9)
	assert.Equal(t, epoch.Add(3*time.Second), recs[0].RecordedAt)

	h.clock.Advance(time.Minute)
	assert.EqualValues(t, 1, h.recorder.calls.Load())
	assert.EqualValues(t, 1, succeeded.Load())
	assert.Zero(t, h.clock.Pending())

	snap, err := h.verifier.Session("emp-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, snap.Stage)

	_, err = h.verifier.Session("emp-42")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionDeadlineFailsPendingSession(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	var failed atomic.Int32
	h.dispatcher.Subscribe(events.EventSessionFailed, func(context.Context, events.Event) error {
		failed.Add(1)
		return nil
	})

	h.clock.Advance(5 * time.Second)
	out := h.redeemNew(t, "emp-42")
	assert.Equal(t, epoch.Add(35*time.Second), out.Session.Deadline)

	h.clock.Advance(29 * time.Second)
	snap, err := h.verifier.Session("emp-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingBiometric, snap.Stage)

	h.clock.Advance(time.Second)
	h.clock.Advance(time.Second)

	late, err := h.verifier.SubmitScore(ctx, "emp-42", 0.95)
	assert.ErrorIs(t, err, ErrSessionTimeout)
	assert.False(t, late.Accepted)
	assert.Equal(t, domain.StageFailed, late.Session.Stage)
	assert.Equal(t, domain.ReasonTimeout, late.Session.Reason)
	assert.Equal(t, epoch.Add(35*time.Second), late.Session.UpdatedAt)
	assert.Nil(t, late.Session.LastScore)

	assert.Empty(t, h.records(t))
	assert.EqualValues(t, 1, failed.Load())
}

func TestDeadlineDoesNotInterruptVerifying(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.CountdownSeconds = 10
	h := newVerificationHarness(t, cfg)

	h.redeemNew(t, "emp-42")
	h.clock.Advance(25 * time.Second)
	_, err := h.verifier.SubmitScore(context.Background(), "emp-42", 0.9)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	snap, err := h.verifier.Session("emp-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, snap.Stage)
	assert.Len(t, h.records(t), 1)
}

func TestBiometricGateDisabled(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.BiometricEnabled = false
	h := newVerificationHarness(t, cfg)

	out := h.redeemNew(t, "emp-7")
	assert.Equal(t, domain.StageVerifying, out.Session.Stage)

	_, err := h.verifier.SubmitScore(context.Background(), "emp-7", 0.9)
	assert.ErrorIs(t, err, ErrStageMismatch)

	h.clock.Advance(3 * time.Second)
	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.AttendanceMethodQR, recs[0].Method)
	assert.Nil(t, recs[0].Score)
}

func TestZeroCountdownCompletesImmediately(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.CountdownSeconds = 0
	h := newVerificationHarness(t, cfg)

	h.redeemNew(t, "emp-42")
	out, err := h.verifier.SubmitScore(context.Background(), "emp-42", 0.9)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, domain.StageSucceeded, out.Session.Stage)
	assert.Len(t, h.records(t), 1)
}

func TestConcurrentScoresRecordOnce(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.CountdownSeconds = 0
	h := newVerificationHarness(t, cfg)
	h.redeemNew(t, "emp-42")

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.verifier.SubmitScore(context.Background(), "emp-42", 0.9)
			if err == nil && out.Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, 1, h.recorder.calls.Load())
	assert.Len(t, h.records(t), 1)
}

func TestDuplicateRedemptionDoesNotAdvance(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())

	first := h.redeemNew(t, "emp-42")
	second := h.redeemNew(t, "emp-42")

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Result.Valid())
	assert.Equal(t, domain.StageAwaitingBiometric, second.Session.Stage)
	assert.Equal(t, first.Result.TokenID, second.Session.TokenID)
	assert.Equal(t, 1, h.verifier.Active())
}

func TestInvalidRedemptionKeepsAwaitingToken(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	cred, err := h.credentials.Issue(ctx, "emp-42")
	require.NoError(t, err)

	bad, err := h.verifier.Redeem(ctx, cred.ID, flipLastHex(cred.Signature))
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationSignatureMismatch, bad.Result.Status)
	require.NotNil(t, bad.Session)
	assert.Equal(t, domain.StageAwaitingToken, bad.Session.Stage)

	good, err := h.verifier.Redeem(ctx, cred.ID, cred.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingBiometric, good.Session.Stage)
	assert.Equal(t, bad.Session.CreatedAt, good.Session.CreatedAt)
}

func TestUnknownCredentialCreatesNoSession(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())

	out, err := h.verifier.Redeem(context.Background(), "missing", "00")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationNotFound, out.Result.Status)
	assert.Nil(t, out.Session)
	assert.Zero(t, h.verifier.Active())
}

func TestSubmitScoreValidation(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	for _, score := range []float64{-0.01, 1.01, math.NaN()} {
		_, err := h.verifier.SubmitScore(ctx, "emp-42", score)
		assert.ErrorIs(t, err, ErrInvalidScore)
	}

	_, err := h.verifier.SubmitScore(ctx, "emp-42", 0.9)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	cred, err := h.credentials.Issue(ctx, "emp-42")
	require.NoError(t, err)
	_, err = h.verifier.Redeem(ctx, cred.ID, "00")
	require.NoError(t, err)

	_, err = h.verifier.SubmitScore(ctx, "emp-42", 0.9)
	assert.ErrorIs(t, err, ErrStageMismatch)
}

func TestThresholdIsInclusive(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	h.redeemNew(t, "emp-42")

	out, err := h.verifier.SubmitScore(context.Background(), "emp-42", 0.75)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
}

func TestCancelSession(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	h.redeemNew(t, "emp-42")

	snap, err := h.verifier.Cancel("emp-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, snap.Stage)
	assert.Equal(t, domain.ReasonCancelled, snap.Reason)
	assert.Zero(t, h.clock.Pending())

	_, err = h.verifier.Cancel("emp-42")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = h.verifier.Cancel("emp-nobody")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinishedSessionReplacedByNextRedemption(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.BiometricEnabled = false
	h := newVerificationHarness(t, cfg)

	h.redeemNew(t, "emp-42")
	h.clock.Advance(3 * time.Second)

	h.clock.Advance(time.Minute)
	next := h.redeemNew(t, "emp-42")
	assert.Equal(t, domain.StageVerifying, next.Session.Stage)
	assert.Equal(t, h.clock.Now(), next.Session.CreatedAt)

	h.clock.Advance(3 * time.Second)
	assert.Len(t, h.records(t), 2)
}

func TestMultiUseCredentialRecordsEverySession(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.BiometricEnabled = false
	h := newVerificationHarnessWithUse(t, cfg, false)
	ctx := context.Background()

	var recorded atomic.Int32
	h.dispatcher.Subscribe(events.EventAttendanceRecorded, func(context.Context, events.Event) error {
		recorded.Add(1)
		return nil
	})

	cred, err := h.credentials.Issue(ctx, "emp-42")
	require.NoError(t, err)

	first, err := h.verifier.Redeem(ctx, cred.ID, cred.Signature)
	require.NoError(t, err)
	h.clock.Advance(3 * time.Second)

	second, err := h.verifier.Redeem(ctx, cred.ID, cred.Signature)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	h.clock.Advance(3 * time.Second)

	recs := h.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, second.Session.ID, recs[0].SessionID)
	assert.Equal(t, first.Session.ID, recs[1].SessionID)
	for _, rec := range recs {
		assert.Equal(t, cred.ID, rec.TokenID)
	}
	assert.EqualValues(t, 2, recorded.Load())
}

func TestRedeemRetriesSessionFinishedBeforeLock(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	var expired *session
	h.verifier.onAcquire = func(sess *session) {
		if expired != nil {
			return
		}
		expired = sess
		h.clock.Advance(30 * time.Second)
	}

	cred, err := h.credentials.Issue(ctx, "emp-42")
	require.NoError(t, err)
	out, err := h.verifier.Redeem(ctx, cred.ID, cred.Signature)
	require.NoError(t, err)

	require.NotNil(t, expired)
	assert.Equal(t, domain.StageFailed, h.verifier.snapshot(expired).Stage)

	assert.False(t, out.Duplicate)
	assert.Equal(t, domain.StageAwaitingBiometric, out.Session.Stage)
	assert.NotEqual(t, expired.state.ID, out.Session.ID)
	assert.Equal(t, epoch.Add(30*time.Second), out.Session.CreatedAt)
	assert.Equal(t, cred.ID, out.Session.TokenID)
}

func TestRedeemAfterDeadlineReportsTimeout(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	ctx := context.Background()

	h.redeemNew(t, "emp-42")

	// Hold the deadline timer back so the redemption observes the lapsed deadline.
	pending := h.verifier.lookup("emp-42")
	require.NotNil(t, pending)
	pending.mu.Lock()
	pending.deadline.Stop()
	pending.mu.Unlock()
	h.clock.Advance(31 * time.Second)

	cred, err := h.credentials.Issue(ctx, "emp-42")
	require.NoError(t, err)
	out, err := h.verifier.Redeem(ctx, cred.ID, cred.Signature)
	assert.ErrorIs(t, err, ErrSessionTimeout)
	assert.True(t, out.Result.Valid())
	require.NotNil(t, out.Session)
	assert.Equal(t, domain.StageFailed, out.Session.Stage)
	assert.Equal(t, domain.ReasonTimeout, out.Session.Reason)
	assert.Empty(t, h.records(t))
}

func TestPruneRetired(t *testing.T) {
	h := newVerificationHarness(t, defaultVerificationConfig())
	h.redeemNew(t, "emp-42")
	h.redeemNew(t, "emp-43")

	h.clock.Advance(30 * time.Second)
	assert.Equal(t, 0, h.verifier.PruneRetired(h.clock.Now()))
	assert.Equal(t, 2, h.verifier.Active())

	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, 2, h.verifier.PruneRetired(h.clock.Now()))
	assert.Zero(t, h.verifier.Active())
}

func TestRecorderFailuresAreRetried(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.BiometricEnabled = false
	h := newVerificationHarness(t, cfg)
	h.recorder.failures.Store(2)

	var recorded atomic.Int32
	h.dispatcher.Subscribe(events.EventAttendanceRecorded, func(context.Context, events.Event) error {
		recorded.Add(1)
		return nil
	})

	h.redeemNew(t, "emp-42")
	h.clock.Advance(3 * time.Second)

	assert.EqualValues(t, 3, h.recorder.calls.Load())
	assert.Len(t, h.records(t), 1)
	assert.EqualValues(t, 1, recorded.Load())
}

func TestRecorderExhaustionPublishesFailure(t *testing.T) {
	cfg := defaultVerificationConfig()
	cfg.BiometricEnabled = false
	h := newVerificationHarness(t, cfg)
	h.recorder.failures.Store(10)

	var failed atomic.Int32
	h.dispatcher.Subscribe(events.EventAttendanceFailed, func(_ context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.AttendancePayload)
		if ok && payload.Error != "" {
			failed.Add(1)
		}
		return nil
	})

	h.redeemNew(t, "emp-42")
	h.clock.Advance(3 * time.Second)

	assert.Empty(t, h.records(t))
	assert.EqualValues(t, 1, failed.Load())

	snap, err := h.verifier.Session("emp-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, snap.Stage)
}
