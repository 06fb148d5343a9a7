package dto

import (
	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims will be encoded inside the access token
type AuthClaims struct {
	Roles []string `json:"roles"`
	// Standard claims (sub, jti, exp, iss, iat) are embedded here
	jwt.RegisteredClaims
}
