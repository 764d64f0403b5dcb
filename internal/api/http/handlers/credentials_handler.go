package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/checkpoint-service/internal/api/dto"
	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/service"
	apperrors "github.com/spec-kit/checkpoint-service/pkg/util/errorutil"
)

// CredentialsHandler serves credential issuance and scanner redemption.
type CredentialsHandler struct {
	credentials  *service.CredentialService
	verification *service.VerificationService
	logger       *zap.Logger
}

// NewCredentialsHandler constructs handler.
func NewCredentialsHandler(credentials *service.CredentialService, verification *service.VerificationService, logger *zap.Logger) *CredentialsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialsHandler{credentials: credentials, verification: verification, logger: logger}
}

// Issue POST /api/credentials.
func (h *CredentialsHandler) Issue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("employee required")
	}
	cred, err := h.credentials.Issue(c.UserContext(), principal.SubjectID)
	if err != nil {
		return mapServiceError(err, principal.SubjectID)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCredentialResponse(cred)})
}

// Redeem POST /api/credentials/redeem.
func (h *CredentialsHandler) Redeem(c *fiber.Ctx) error {
	var req dto.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.Signature == "" {
		return apperrors.NewValidationError("id and signature required", nil)
	}

	out, err := h.verification.Redeem(c.UserContext(), req.ID, req.Signature)
	if err != nil {
		return mapServiceError(err, out.Result.SubjectID)
	}

	if !out.Result.Valid() {
		h.logger.Debug("credential rejected",
			zap.String("id", req.ID),
			zap.String("reason", string(out.Result.Status)))
		return c.Status(http.StatusBadRequest).JSON(dto.RedeemResponse{
			Status: "invalid",
			Reason: string(out.Result.Status),
		})
	}

	resp := dto.RedeemResponse{
		Status:      "valid",
		SubjectID:   out.Result.SubjectID,
		WindowLabel: out.Result.WindowLabel,
		Duplicate:   out.Duplicate,
	}
	if out.Session != nil {
		session := dto.NewSessionResponse(*out.Session)
		resp.Session = &session
	}
	return c.JSON(resp)
}
