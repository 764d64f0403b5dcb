package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

var (
	// ErrNotFound is returned when no credential exists for an id.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicateID is returned by Put when the id is already stored.
	ErrDuplicateID = errors.New("credential id already exists")
	// ErrAlreadyConsumed is returned by MarkConsumed when the credential was redeemed before.
	ErrAlreadyConsumed = errors.New("credential already consumed")
	// ErrStoreUnavailable wraps faults of the underlying persistence.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// TokenStore is the keyed store that owns issued credentials.
type TokenStore interface {
	Put(ctx context.Context, cred *domain.Credential) error
	Get(ctx context.Context, id string) (*domain.Credential, error)
	// MarkConsumed atomically flips consumed from false to true.
	MarkConsumed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// Sweep removes every credential with expires_at < now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
