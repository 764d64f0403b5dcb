package events

import (
	"time"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionSucceeded   EventType = "session_succeeded"
	EventSessionFailed      EventType = "session_failed"
	EventAttendanceRecorded EventType = "attendance_recorded"
	EventAttendanceFailed   EventType = "attendance_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionFinishedPayload accompanies session_succeeded and session_failed.
type SessionFinishedPayload struct {
	Session domain.VerificationSession `json:"session"`
}

// AttendancePayload accompanies attendance_recorded and attendance_failed.
type AttendancePayload struct {
	Record domain.AttendanceRecord `json:"record"`
	Error  string                  `json:"error,omitempty"`
}
