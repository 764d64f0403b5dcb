package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/checkpoint-service/internal/domain"
	apperrors "github.com/spec-kit/checkpoint-service/pkg/util/errorutil"
)

// RequireRole ensures the principal holds one of the allowed roles.
func RequireRole(allowed ...domain.DeviceRole) fiber.Handler {
	allowedSet := make(map[domain.DeviceRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
