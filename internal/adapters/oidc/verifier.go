// Package oidc verifies OIDC bearer tokens presented to the frontend API.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrSubjectNotAllowed is returned for a valid token whose subject is not on the allow list.
var ErrSubjectNotAllowed = errors.New("token subject is not allowed")

// Principal is the caller identified by a verified token.
type Principal struct {
	Subject string
	Email   string
	Groups  []string
	Expiry  time.Time
}

// VerifierConfig holds configuration for the token verifier.
type VerifierConfig struct {
	IssuerURL       string
	Audience        string
	AllowedSubjects []string
	HTTPClient      *http.Client // Optional, defaults to a client with a 30s timeout
}

// Verifier checks bearer tokens against the issuer's published keys.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
	allowed  []string
}

// NewVerifier fetches the issuer's discovery document and returns a Verifier for its keys.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	// Discovery and later JWKS refreshes both go through httpClient.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return newVerifier(op.Verifier(&gooidc.Config{ClientID: cfg.Audience}), cfg.AllowedSubjects), nil
}

func newVerifier(idv *gooidc.IDTokenVerifier, allowed []string) *Verifier {
	subjects := make([]string, 0, len(allowed))
	for _, s := range allowed {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}
	return &Verifier{verifier: idv, allowed: subjects}
}

// Verify validates rawToken and returns its principal.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	if rawToken == "" {
		return Principal{}, errors.New("token is required")
	}
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Principal{}, fmt.Errorf("verify token: %w", err)
	}

	var c tokenClaims
	if claimsErr := tok.Claims(&c); claimsErr != nil {
		return Principal{}, fmt.Errorf("parse token claims: %w", claimsErr)
	}
	p := mapClaims(tok.Subject, c)
	p.Expiry = tok.Expiry

	if len(v.allowed) > 0 && !slices.Contains(v.allowed, p.Subject) {
		return Principal{}, fmt.Errorf("%w: %s", ErrSubjectNotAllowed, p.Subject)
	}
	return p, nil
}

// tokenClaims is a superset of standard OIDC and AD/ADFS claim shapes.
type tokenClaims struct {
	SamAccountName string   `json:"samaccountname"`
	Email          string   `json:"email"`
	Mail           string   `json:"mail"`
	Groups         []string `json:"groups"`
	MemberOf       []string `json:"memberof"`
}

func mapClaims(sub string, c tokenClaims) Principal {
	p := Principal{
		Subject: firstNonEmpty(c.SamAccountName, sub),
		Email:   firstNonEmpty(c.Email, c.Mail),
		Groups:  c.Groups,
	}
	if len(p.Groups) == 0 {
		p.Groups = c.MemberOf
	}
	return p
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
