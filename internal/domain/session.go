package domain

import "time"

// SessionStage enumerates verification session states.
type SessionStage string

const (
	StageAwaitingToken     SessionStage = "awaiting_token"
	StageAwaitingBiometric SessionStage = "awaiting_biometric"
	StageVerifying         SessionStage = "verifying"
	StageSucceeded         SessionStage = "succeeded"
	StageFailed            SessionStage = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SessionStage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// SessionReason explains a failure or a retry-eligible rejection.
type SessionReason string

const (
	ReasonNone                SessionReason = ""
	ReasonTimeout             SessionReason = "timeout"
	ReasonCancelled           SessionReason = "cancelled"
	ReasonScoreBelowThreshold SessionReason = "score_below_threshold"
)

// VerificationSession is a point-in-time view of a subject's verification progress.
type VerificationSession struct {
	ID        string        `json:"id"`
	SubjectID string        `json:"subject_id"`
	Stage     SessionStage  `json:"stage"`
	TokenID   string        `json:"token_id,omitempty"`
	LastScore *float64      `json:"last_score"`
	Reason    SessionReason `json:"reason,omitempty"`
	Deadline  time.Time     `json:"deadline"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
