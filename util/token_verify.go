package util

import (
	"errors"
	"strings"

	"mietplatz/dto"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ParseAccessToken validates and returns the access token claims
func ParseAccessToken(tokenString string) (*dto.AuthClaims, error) {
	claims := &dto.AuthClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method, expected HS256")
		}
		return accessSecret, nil
	})

	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired access token")
	}

	return claims, nil
}

// ExtractBearerToken pulls the raw token out of an Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("malformed authorization header")
	}
	return parts[1], nil
}

// ExtractUserIDFromToken parses a "Bearer <token>" header and returns the subject
func ExtractUserIDFromToken(authHeader string) (uuid.UUID, error) {
	raw, err := ExtractBearerToken(authHeader)
	if err != nil {
		return uuid.Nil, err
	}

	claims, err := ParseAccessToken(raw)
	if err != nil {
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("invalid user_id format in token")
	}

	return userID, nil
}
