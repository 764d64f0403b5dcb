package domain

import "time"

// AttendanceMethod records how presence was proven.
type AttendanceMethod string

const (
	AttendanceMethodQR          AttendanceMethod = "qr_code"
	AttendanceMethodQRBiometric AttendanceMethod = "qr_biometric"
)

// AttendanceRecord is the durable result of one successful verification session.
// SessionID identifies that session; a credential may back several records
// when credentials are multi-use.
type AttendanceRecord struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	SubjectID  string           `json:"subject_id"`
	TokenID    string           `json:"token_id"`
	Score      *float64         `json:"score"`
	Method     AttendanceMethod `json:"method"`
	RecordedAt time.Time        `json:"timestamp"`
}

// AttendanceStats summarizes stored attendance records.
type AttendanceStats struct {
	Total        int                      `json:"total"`
	Today        int                      `json:"today"`
	ByMethod     map[AttendanceMethod]int `json:"methods"`
	AverageScore float64                  `json:"average_score"`
}
