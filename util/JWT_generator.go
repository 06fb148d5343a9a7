package util

import (
	"time"

	"mietplatz/dto"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessToken is the minted bearer token plus the identifiers the caller
// needs to persist or blacklist it later
type AccessToken struct {
	Token     string
	JTI       uuid.UUID // For blacklist-based revocation
	ExpiresIn int       // seconds
}

// Load the key once at startup to prevent reading env on every request
var accessSecret = []byte(getEnv("JWT_ACCESS_SECRET", "fallback-dev-secret"))

// GenerateAccessToken mints a short-lived HS256 bearer token with the user's
// roles baked in and a fresh jti for later revocation
func GenerateAccessToken(userID uuid.UUID, roles []string) (*AccessToken, error) {
	now := time.Now()
	ttl := AccessTokenTTL()
	jti := uuid.New()

	claims := dto.AuthClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        jti.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "mietplatz",
			// Audience matters once bookings/payments verify tokens on their own
			Audience: jwt.ClaimStrings{"mietplatz-api"},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(accessSecret)
	if err != nil {
		return nil, err
	}

	return &AccessToken{
		Token:     signed,
		JTI:       jti,
		ExpiresIn: int(ttl.Seconds()),
	}, nil
}
