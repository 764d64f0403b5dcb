package handlers

import (
	"errors"

	"github.com/spec-kit/checkpoint-service/internal/repository"
	"github.com/spec-kit/checkpoint-service/internal/service"
	apperrors "github.com/spec-kit/checkpoint-service/pkg/util/errorutil"
)

// mapServiceError translates service sentinels into API errors.
func mapServiceError(err error, subjectID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrStoreUnavailable):
		return apperrors.NewStoreUnavailable(err)
	case errors.Is(err, service.ErrInvalidSubject), errors.Is(err, service.ErrInvalidScore):
		return apperrors.NewValidationError(err.Error(), nil)
	case errors.Is(err, service.ErrSessionNotFound):
		return apperrors.NewNotFound("verification session", map[string]any{"subject_id": subjectID})
	case errors.Is(err, service.ErrSessionTimeout):
		return apperrors.NewSessionTimeout(subjectID)
	case errors.Is(err, service.ErrSessionClosed), errors.Is(err, service.ErrStageMismatch):
		return apperrors.NewConflict(err.Error(), map[string]any{"subject_id": subjectID})
	default:
		return err
	}
}
