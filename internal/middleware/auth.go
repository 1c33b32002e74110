package middleware

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTProtected verifies tokens issued by the identity provider: HS256 with a
// shared secret, or the provider's JWKS endpoint when configured.
func JWTProtected(cfg *config.Config) fiber.Handler {
	wareCfg := jwtware.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	}
	if cfg.JWTJWKSURL != "" {
		wareCfg.JWKSetURLs = []string{cfg.JWTJWKSURL}
	} else {
		wareCfg.SigningKey = jwtware.SigningKey{Key: []byte(cfg.JWTSecret)}
	}
	return jwtware.New(wareCfg)
}

// AccountProvisioning resolves the verified token into a local account,
// creating it on first contact, and stashes it for handlers.
func AccountProvisioning(svc *identity.Service, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return fiber.ErrUnauthorized
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return fiber.ErrUnauthorized
		}

		if cfg.JWTAudience != "" {
			aud, err := claims.GetAudience()
			if err != nil || !containsAudience(aud, cfg.JWTAudience) {
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
					Error:   true,
					Message: "Unauthorized: wrong token audience",
				})
			}
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			return fiber.ErrUnauthorized
		}
		email, _ := claims["email"].(string)

		account, err := svc.Provision(subject, email)
		if err != nil {
			slog.Error("account provisioning failed", "subject", subject, "error", err)
			return fiber.ErrInternalServerError
		}

		identity.SetAccount(c, account)
		return c.Next()
	}
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
