package dto

import (
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// CredentialResponse is the payload rendered into the employee's QR code.
type CredentialResponse struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Signature   string    `json:"signature"`
	WindowLabel string    `json:"window_label"`
}

// RedeemRequest is what a scanner decodes from a QR code.
type RedeemRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// RedeemResponse reports a redemption. Subject and window are only set when
// Status is "valid"; Reason only when it is "invalid".
type RedeemResponse struct {
	Status      string           `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	SubjectID   string           `json:"subject_id,omitempty"`
	WindowLabel string           `json:"window_label,omitempty"`
	Duplicate   bool             `json:"duplicate,omitempty"`
	Session     *SessionResponse `json:"session,omitempty"`
}

// NewCredentialResponse maps a credential for output.
func NewCredentialResponse(cred *domain.Credential) CredentialResponse {
	return CredentialResponse{
		ID:          cred.ID,
		SubjectID:   cred.SubjectID,
		IssuedAt:    cred.IssuedAt,
		ExpiresAt:   cred.ExpiresAt,
		Signature:   cred.Signature,
		WindowLabel: cred.WindowLabel,
	}
}
