// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const claimsKey = "claims"

type AuthMiddleware struct {
	logger *zap.Logger
	tokens *utils.JwtTokenGenerator
}

func NewAuthMiddleware(logger *zap.Logger, tokens *utils.JwtTokenGenerator) *AuthMiddleware {
	return &AuthMiddleware{
		logger: logger,
		tokens: tokens,
	}
}

// Handler requires a bearer token and stores the doctor and clinic it is scoped to.
func (m *AuthMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			m.logger.Debug("no authentication found", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
				"code":  "NO_TOKEN",
			})
		}

		claims, err := m.tokens.VerifyJWT(c.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			m.logger.Debug("invalid token",
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
				"code":  "TOKEN_INVALID",
			})
		}

		c.Locals(claimsKey, claims)
		c.Locals("doctorID", claims.DoctorID)
		c.Locals("clinicID", claims.ClinicID)
		return c.Next()
	}
}

// Revoke invalidates the token of the current request.
func (m *AuthMiddleware) Revoke(c *fiber.Ctx) error {
	claims, ok := c.Locals(claimsKey).(*utils.ScopeClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}
	if err := m.tokens.InvalidateToken(c.Context(), claims); err != nil {
		m.logger.Error("failed to revoke token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to revoke token"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ScopeFrom returns the doctor and clinic the request is authenticated for.
func ScopeFrom(c *fiber.Ctx) clinical.Scope {
	doctorID, _ := c.Locals("doctorID").(string)
	clinicID, _ := c.Locals("clinicID").(string)
	return clinical.Scope{DoctorID: doctorID, ClinicID: clinicID}
}
