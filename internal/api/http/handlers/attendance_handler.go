package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/checkpoint-service/internal/api/dto"
	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

// AttendanceHandler reads the attendance log.
type AttendanceHandler struct {
	records repository.AttendanceRepository
	clock   clock.Clock
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(records repository.AttendanceRepository, clk clock.Clock) *AttendanceHandler {
	return &AttendanceHandler{records: records, clock: clk}
}

// List GET /api/attendance/records.
func (h *AttendanceHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)
	items, err := h.records.List(c.UserContext(), limit, offset)
	if err != nil {
		return mapServiceError(err, "")
	}
	return c.JSON(fiber.Map{"data": dto.AttendanceListResponse{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	}})
}

// Stats GET /api/attendance/stats.
func (h *AttendanceHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.records.Stats(c.UserContext(), h.clock.Now())
	if err != nil {
		return mapServiceError(err, "")
	}
	return c.JSON(fiber.Map{"data": stats})
}
