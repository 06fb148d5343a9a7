package model

// 1. Define the custom type (underlying type is string)
type CredentialType string

// 2. Define the exact allowed values
const (
	CredTypePassword CredentialType = "password"
	CredTypeGoogle   CredentialType = "google"
	CredTypeFacebook CredentialType = "facebook" // easy to add new ones here
)

// Optional: Helper to validate if a string is a valid enum
func (ct CredentialType) IsValid() bool {
	switch ct {
	case CredTypePassword, CredTypeGoogle, CredTypeFacebook:
		return true
	}
	return false
}

// IncidentType classifies security incidents raised by the token layer
type IncidentType string

const (
	IncidentTokenReuse IncidentType = "token_reuse"
)

// IncidentSeverity follows the marketplace security team's paging levels
type IncidentSeverity string

const (
	SeverityCritical IncidentSeverity = "critical"
	SeverityWarning  IncidentSeverity = "warning"
)
