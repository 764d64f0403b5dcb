package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/config"
	"github.com/spec-kit/checkpoint-service/internal/domain"
	"github.com/spec-kit/checkpoint-service/internal/observability"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

// ErrInvalidSubject is returned when a credential is requested without a subject.
var ErrInvalidSubject = errors.New("subject id required")

// CredentialValidator redeems credentials. CredentialService is the production implementation.
type CredentialValidator interface {
	Validate(ctx context.Context, id, signature string) (domain.ValidationResult, error)
}

// CredentialService issues and redeems QR credentials.
type CredentialService struct {
	store     repository.TokenStore
	signer    *auth.Signer
	clock     clock.Clock
	metrics   *observability.Metrics
	logger    *zap.Logger
	window    time.Duration
	label     string
	singleUse bool

	newID func() (string, error)
	retry func() backoff.BackOff
}

// CredentialDependencies bundles collaborators for the credential service.
type CredentialDependencies struct {
	Store   repository.TokenStore
	Signer  *auth.Signer
	Clock   clock.Clock
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewCredentialService constructs the service. The window and label are fixed
// for the lifetime of the service.
func NewCredentialService(cfg config.CredentialConfig, deps CredentialDependencies) *CredentialService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	label := cfg.WindowLabel
	if label == "" {
		label = domain.DefaultWindowLabel
	}
	return &CredentialService{
		store:     deps.Store,
		signer:    deps.Signer,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		logger:    logger.Named("credentials"),
		window:    cfg.Window(),
		label:     label,
		singleUse: cfg.SingleUse,
		newID:     newCredentialID,
		retry:     defaultStoreRetry,
	}
}

func newCredentialID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func defaultStoreRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// SingleUse reports whether redemption consumes the credential.
func (s *CredentialService) SingleUse() bool {
	return s.singleUse
}

// Issue creates, signs and stores a fresh credential for subjectID. Transient
// store faults and id collisions are retried; a persistent fault is returned
// wrapping repository.ErrStoreUnavailable.
func (s *CredentialService) Issue(ctx context.Context, subjectID string) (*domain.Credential, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}

	var issued *domain.Credential
	op := func() error {
		cred, err := s.newCredential(subjectID)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = s.store.Put(ctx, cred)
		switch {
		case err == nil:
			issued = cred
			return nil
		case errors.Is(err, repository.ErrDuplicateID):
			s.logger.Warn("credential id collision; regenerating", zap.String("id", cred.ID))
			return err
		case errors.Is(err, repository.ErrStoreUnavailable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(s.retry(), ctx)); err != nil {
		return nil, err
	}

	s.metrics.CredentialIssued()
	s.logger.Debug("credential issued",
		zap.String("id", issued.ID),
		zap.String("subject_id", issued.SubjectID),
		zap.Time("expires_at", issued.ExpiresAt))
	return issued, nil
}

func (s *CredentialService) newCredential(subjectID string) (*domain.Credential, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	// Microsecond precision survives every store backing unchanged.
	issuedAt := s.clock.Now().UTC().Truncate(time.Microsecond)
	return &domain.Credential{
		ID:          id,
		SubjectID:   subjectID,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(s.window),
		Signature:   s.signer.Sign(id, subjectID, issuedAt),
		WindowLabel: s.label,
	}, nil
}

// Validate redeems a credential. Credential problems are reported through the
// result status; only store faults are returned as errors. SubjectID is filled
// whenever the credential exists so that the caller can route the attempt to
// the subject's session, but it is only authoritative for valid results.
func (s *CredentialService) Validate(ctx context.Context, id, signature string) (domain.ValidationResult, error) {
	result, err := s.validate(ctx, id, signature)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	s.metrics.CredentialRedeemed(result.Status)
	return result, nil
}

func (s *CredentialService) validate(ctx context.Context, id, signature string) (domain.ValidationResult, error) {
	now := s.clock.Now()
	result := domain.ValidationResult{TokenID: id}

	var cred *domain.Credential
	err := s.withRetry(ctx, func() error {
		var getErr error
		cred, getErr = s.store.Get(ctx, id)
		return getErr
	})
	if errors.Is(err, repository.ErrNotFound) {
		result.Status = domain.ValidationNotFound
		return result, nil
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}
	result.SubjectID = cred.SubjectID

	if cred.Expired(now) {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Debug("opportunistic delete of expired credential failed", zap.String("id", id), zap.Error(err))
		}
		result.Status = domain.ValidationExpired
		return result, nil
	}

	// Both comparisons always run: the stored record must carry our signature
	// and the presented signature must match it.
	storedOK := s.signer.Verify(cred.ID, cred.SubjectID, cred.IssuedAt, cred.Signature)
	presentedOK := s.signer.Verify(cred.ID, cred.SubjectID, cred.IssuedAt, signature)
	if !storedOK || !presentedOK {
		result.Status = domain.ValidationSignatureMismatch
		return result, nil
	}

	if s.singleUse {
		err := s.withRetry(ctx, func() error { return s.store.MarkConsumed(ctx, id) })
		switch {
		case errors.Is(err, repository.ErrAlreadyConsumed):
			result.Status = domain.ValidationAlreadyConsumed
			return result, nil
		case errors.Is(err, repository.ErrNotFound):
			// Swept between lookup and consumption.
			result.Status = domain.ValidationExpired
			return result, nil
		case err != nil:
			return domain.ValidationResult{}, err
		}
	}

	result.Status = domain.ValidationValid
	result.WindowLabel = cred.WindowLabel
	return result, nil
}

// withRetry retries op while the store reports itself unavailable.
func (s *CredentialService) withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, repository.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(s.retry(), ctx))
}
