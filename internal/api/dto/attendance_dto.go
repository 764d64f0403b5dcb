package dto

import "github.com/spec-kit/checkpoint-service/internal/domain"

// AttendanceListResponse is a page of attendance records.
type AttendanceListResponse struct {
	Items  []domain.AttendanceRecord `json:"items"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}
