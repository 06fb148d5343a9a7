package util

import (
	"os"
	"time"
)

// getEnv retrieves an environment variable or returns a fallback
// It is available to ALL files in package 'util'
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getDurationEnv parses a duration env var (e.g. "720h"), falling back on
// missing or malformed values
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// RefreshTokenTTL is how long a refresh token record stays usable (default 30 days)
func RefreshTokenTTL() time.Duration {
	return getDurationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour)
}

// AccessTokenTTL is the short-lived bearer token lifetime
func AccessTokenTTL() time.Duration {
	return getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute)
}

// ReuseTurnaround is the minimum gap between two presentations of the same
// secret before the second one stops counting as a mid-rotation race
func ReuseTurnaround() time.Duration {
	return getDurationEnv("REUSE_TURNAROUND", 5*time.Second)
}

// CookiePath scopes the refresh cookie to the auth endpoints
func CookiePath() string {
	return getEnv("COOKIE_PATH", "/api/v1/auth")
}

// TokenRetention is how long dead (expired or revoked) records are kept
// before the sweep deletes them
func TokenRetention() time.Duration {
	return getDurationEnv("TOKEN_RETENTION", 30*24*time.Hour)
}
