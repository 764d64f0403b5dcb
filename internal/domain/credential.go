package domain

import "time"

// DefaultWindowLabel tags credentials issued for checkpoint entry.
const DefaultWindowLabel = "entry"

// Credential is a short-lived signed QR token binding a subject to a window.
type Credential struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Signature   string    `json:"signature"`
	WindowLabel string    `json:"window_label"`
	Consumed    bool      `json:"-"`
}

// Expired reports whether the credential is no longer redeemable at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ValidationStatus is the outcome of a redemption attempt.
type ValidationStatus string

const (
	ValidationValid             ValidationStatus = "valid"
	ValidationNotFound          ValidationStatus = "not_found"
	ValidationExpired           ValidationStatus = "expired"
	ValidationSignatureMismatch ValidationStatus = "signature_mismatch"
	ValidationAlreadyConsumed   ValidationStatus = "already_consumed"
)

// ValidationResult is returned for every redemption attempt. SubjectID is set
// whenever the credential exists; WindowLabel only when Status is valid.
type ValidationResult struct {
	Status      ValidationStatus
	TokenID     string
	SubjectID   string
	WindowLabel string
}

// Valid reports whether the credential was accepted.
func (r ValidationResult) Valid() bool {
	return r.Status == ValidationValid
}
