package dto

import (
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// ScoreRequest submits a biometric similarity score for a subject.
type ScoreRequest struct {
	SubjectID string   `json:"subject_id"`
	Score     *float64 `json:"score"`
}

// SessionResponse is a verification session snapshot.
type SessionResponse struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Stage     string    `json:"stage"`
	TokenID   string    `json:"token_id,omitempty"`
	LastScore *float64  `json:"last_score"`
	Reason    string    `json:"reason,omitempty"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreResponse reports whether the score passed the threshold.
type ScoreResponse struct {
	Accepted bool            `json:"accepted"`
	Session  SessionResponse `json:"session"`
}

// NewSessionResponse maps a session snapshot for output.
func NewSessionResponse(s domain.VerificationSession) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		SubjectID: s.SubjectID,
		Stage:     string(s.Stage),
		TokenID:   s.TokenID,
		LastScore: s.LastScore,
		Reason:    string(s.Reason),
		Deadline:  s.Deadline,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
