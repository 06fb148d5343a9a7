package middleware

import (
	"mietplatz/repository"
	"mietplatz/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AuthRequired verifies the bearer access token and enforces the two
// out-of-band revocation signals: the jti blacklist and the per-user
// force-reauth marker set after a token_reuse incident.
func AuthRequired(markers repository.SecurityMarkerRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := util.ExtractBearerToken(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}

		claims, err := util.ParseAccessToken(raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		if markers != nil {
			ctx := c.UserContext()

			if jti, err := uuid.Parse(claims.ID); err == nil {
				blacklisted, err := markers.IsJTIBlacklisted(ctx, jti)
				if err != nil {
					// Marker store outage is an infra fault, not a reason
					// to log everyone out
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
				}
				if blacklisted {
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
				}
			}

			needsReauth, err := markers.NeedsReauth(ctx, userID)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
			}
			if needsReauth {
				// Token is cryptographically fine but the lineage it came
				// from was compromised; only a credential login clears this
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "re-authentication required"})
			}
		}

		c.Locals("access_token", raw)
		c.Locals("user_id", userID)
		c.Locals("roles", claims.Roles)

		return c.Next()
	}
}
