/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package token obtains and renews the short-lived signaling credential that
// authenticates the agent's RTC session. The credential is issued by the
// backend's credential endpoint and bound to the authenticated agent identity.
package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/joshuapaschall/agentdesk/agentsdk"
)

// DefaultValidity is the assumed credential validity window when the
// credential endpoint does not report an expiry.
const DefaultValidity = 55 * time.Minute

// Credential is a time-boxed signaling credential for one agent session.
type Credential struct {
	// Token is the opaque signaling token passed to the RTC provider.
	Token string
	// SIPUsername is the provider-side identity the token is bound to.
	SIPUsername string
	// IssuedAt is when the credential was fetched.
	IssuedAt time.Time
	// ExpiresAt is when the credential stops being accepted.
	ExpiresAt time.Time
}

// TimeToExpiry returns the remaining validity as of now. Negative when
// already expired.
func (c Credential) TimeToExpiry() time.Duration {
	return time.Until(c.ExpiresAt)
}

// Config holds configuration for the token Supplier.
type Config struct {
	// Path is the credential endpoint path relative to the core client's
	// base URL.
	Path string
	// DefaultValidity is used when the endpoint reports no expiry and the
	// token carries no readable exp claim.
	DefaultValidity time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:            "telephony/credentials",
		DefaultValidity: DefaultValidity,
	}
}

// Supplier fetches signaling credentials from the credential endpoint.
type Supplier struct {
	core   *agentsdk.Client
	config *Config
}

// NewSupplier creates a new credential Supplier.
func NewSupplier(core *agentsdk.Client, config *Config) *Supplier {
	if config == nil {
		config = DefaultConfig()
	}
	return &Supplier{core: core, config: config}
}

// credentialResponse is the wire shape of the credential endpoint.
type credentialResponse struct {
	Token       string `json:"token"`
	SIPUsername string `json:"sip_username"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// Fetch requests a fresh signaling credential for the authenticated agent.
// A response missing the token or the SIP username is a hard failure:
// session initialization must abort rather than connect half-identified.
func (s *Supplier) Fetch(ctx context.Context) (*Credential, error) {
	resp, err := s.core.RequestWithRetry(ctx, http.MethodGet, s.config.Path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("credential request failed: %w", err)
	}

	var body credentialResponse
	if err := agentsdk.ParseResponse(resp, &body); err != nil {
		return nil, fmt.Errorf("credential request failed: %w", err)
	}

	if body.Token == "" {
		return nil, fmt.Errorf("credential endpoint returned no token")
	}
	if body.SIPUsername == "" {
		return nil, fmt.Errorf("credential endpoint returned no sip_username")
	}

	now := time.Now()
	cred := &Credential{
		Token:       body.Token,
		SIPUsername: body.SIPUsername,
		IssuedAt:    now,
	}

	cred.ExpiresAt = s.resolveExpiry(body, now)
	return cred, nil
}

// resolveExpiry determines the credential expiry, in order of preference:
// the endpoint's expires_at field, the token's own exp claim (when the token
// is a JWT), then the configured default validity window.
func (s *Supplier) resolveExpiry(body credentialResponse, now time.Time) time.Time {
	if body.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, body.ExpiresAt); err == nil {
			return t
		}
		s.core.GetLogger().Printf("token: unparseable expires_at %q, falling back to token claims", body.ExpiresAt)
	}

	if exp, ok := jwtExpiry(body.Token); ok {
		return exp
	}

	validity := s.config.DefaultValidity
	if validity <= 0 {
		validity = DefaultValidity
	}
	return now.Add(validity)
}

// jwtSignatureAlgorithms lists the algorithms accepted when reading claims
// from a signaling token. The signature is never verified here: the token
// is opaque to us and validated by the provider; we only read exp to
// schedule the refresh.
var jwtSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
}

// jwtExpiry extracts the exp claim from a JWT-shaped token. Returns false
// for opaque (non-JWT) tokens or tokens without an exp claim.
func jwtExpiry(raw string) (time.Time, bool) {
	tok, err := jwt.ParseSigned(raw, jwtSignatureAlgorithms)
	if err != nil {
		return time.Time{}, false
	}

	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, false
	}
	if claims.Expiry == nil {
		return time.Time{}, false
	}
	return claims.Expiry.Time(), true
}
