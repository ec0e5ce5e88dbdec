package config

import (
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the frontend API.
type AuthMode string

const (
	// AuthModeNone leaves the API unauthenticated. Intended for local development and
	// deployments behind an authenticating proxy.
	AuthModeNone AuthMode = "none"
	// AuthModeOIDC requires an OIDC bearer token on every /v1alpha request.
	AuthModeOIDC AuthMode = "oidc"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "none", "oidc":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: none, oidc)", v)
	}
}

// AuthConfig groups frontend authentication configuration.
type AuthConfig struct {
	Mode AuthMode `env:"AUTH_MODE" envDefault:"none"`

	// IssuerURL is the OIDC discovery base, e.g. https://login.example.com.
	IssuerURL string `env:"AUTH_ISSUER_URL"`

	// Audience is the expected token audience (client id).
	Audience string `env:"AUTH_AUDIENCE" envDefault:"aggregation-worker"`

	// AllowedSubjects optionally restricts callers to these token subjects.
	AllowedSubjects []string `env:"AUTH_ALLOWED_SUBJECTS" envSeparator:";"`
}
