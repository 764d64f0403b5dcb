package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/checkpoint-service/internal/api/dto"
	"github.com/spec-kit/checkpoint-service/internal/service"
	apperrors "github.com/spec-kit/checkpoint-service/pkg/util/errorutil"
)

// VerificationHandler exposes session progress to checkpoint scanners.
type VerificationHandler struct {
	service *service.VerificationService
}

// NewVerificationHandler constructs handler.
func NewVerificationHandler(verification *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{service: verification}
}

// SubmitScore POST /api/verification/scores.
func (h *VerificationHandler) SubmitScore(c *fiber.Ctx) error {
	var req dto.ScoreRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.SubjectID == "" || req.Score == nil {
		return apperrors.NewValidationError("subject_id and score required", nil)
	}

	out, err := h.service.SubmitScore(c.UserContext(), req.SubjectID, *req.Score)
	if err != nil {
		return mapServiceError(err, req.SubjectID)
	}
	return c.JSON(fiber.Map{"data": dto.ScoreResponse{
		Accepted: out.Accepted,
		Session:  dto.NewSessionResponse(out.Session),
	}})
}

// GetSession GET /api/verification/sessions/:subjectID.
func (h *VerificationHandler) GetSession(c *fiber.Ctx) error {
	subjectID := c.Params("subjectID")
	snap, err := h.service.Session(subjectID)
	if err != nil {
		return mapServiceError(err, subjectID)
	}
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(snap)})
}

// CancelSession DELETE /api/verification/sessions/:subjectID.
func (h *VerificationHandler) CancelSession(c *fiber.Ctx) error {
	subjectID := c.Params("subjectID")
	snap, err := h.service.Cancel(subjectID)
	if err != nil {
		return mapServiceError(err, subjectID)
	}
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(snap)})
}
