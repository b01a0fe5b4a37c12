// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/valet-dev/valet/internal/secrets"
	"github.com/valet-dev/valet/internal/security"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// KeyringService is the secrets service name under which valet stores its
// own credentials.
const KeyringService = "valet"

// KeyringDevCalendarToken is the secrets key for the development calendar
// token looked up by the dev-override strategy.
const KeyringDevCalendarToken = "dev-calendar-token"

// SessionMarker prefixes tokens minted by the mini-app session bridge.
const SessionMarker = "vsess:"

// --- Dev override ---

// DevStrategy grants a fixed development identity with every known scope
// when the presented token exactly equals the configured development secret.
type DevStrategy struct {
	secret   string
	clientID string
	fallback string // static delegated calendar token
	store    secrets.Store
}

// NewDevStrategy creates a DevStrategy. fallbackToken is used when the
// keyring lookup yields nothing; store may be nil to skip the lookup.
func NewDevStrategy(secret, clientID, fallbackToken string, store secrets.Store) *DevStrategy {
	return &DevStrategy{
		secret:   secret,
		clientID: clientID,
		fallback: fallbackToken,
		store:    store,
	}
}

func (s *DevStrategy) Name() string { return "dev" }

func (s *DevStrategy) Verify(_ context.Context, cred Credential) (*Principal, bool, error) {
	if s.secret == "" || !equalConstantTime(cred.Token, s.secret) {
		return nil, false, nil
	}

	return &Principal{
		ClientID: s.clientID,
		Scopes:   security.NewScopeSet(security.AllScopes()...),
		Extra:    Extra{CalendarToken: s.calendarToken()},
	}, true, nil
}

// calendarToken resolves the development delegated secret: best-effort
// keyring lookup, static config fallback when the lookup returns nothing.
func (s *DevStrategy) calendarToken() string {
	if s.store != nil {
		tok, err := s.store.Retrieve(KeyringService, KeyringDevCalendarToken)
		if err == nil && tok != "" {
			return tok
		}
		if err != nil && !valeterr.HasCode(err, valeterr.CodeSecretNotFound) {
			slog.Debug("dev calendar token lookup failed, using fallback", "error", err)
		}
	}
	return s.fallback
}

// --- Mini-app session bridge ---

// SessionStrategy recognizes tokens carrying the mini-app session marker and
// binds identity and delegated secret from side-channel headers rather than
// the token body. Recognition is terminal: a marked token with missing
// headers is rejected, never passed on to the signed-token strategy.
type SessionStrategy struct {
	marker string
}

// NewSessionStrategy creates a SessionStrategy with the default marker.
func NewSessionStrategy() *SessionStrategy {
	return &SessionStrategy{marker: SessionMarker}
}

func (s *SessionStrategy) Name() string { return "session" }

func (s *SessionStrategy) Verify(_ context.Context, cred Credential) (*Principal, bool, error) {
	if !strings.HasPrefix(cred.Token, s.marker) {
		return nil, false, nil
	}

	if cred.SessionUserID == "" {
		return nil, true, valeterr.New(valeterr.CodeAuthSessionInvalid, "session token without surface identity header")
	}

	scopes := []string{security.ScopeReadContext, security.ScopeWriteContext}
	if cred.SessionCalendarToken != "" {
		scopes = append(scopes, security.ScopeReadCalendar, security.ScopeWriteCalendar)
	}

	return &Principal{
		ClientID: cred.SessionUserID,
		Scopes:   security.NewScopeSet(scopes...),
		Extra:    Extra{CalendarToken: cred.SessionCalendarToken},
	}, true, nil
}

// --- Signed token ---

// signedClaims are the JWT claims valet understands.
type signedClaims struct {
	jwt.RegisteredClaims
	Scopes        []string `json:"scopes,omitempty"`
	CalendarToken string   `json:"calendar_token,omitempty"`
	RunID         string   `json:"run_id,omitempty"`
}

// SignedTokenStrategy verifies HS256-signed bearer tokens. It claims every
// credential that reaches it, so it must be last in the chain.
type SignedTokenStrategy struct {
	key []byte
}

// NewSignedTokenStrategy creates a SignedTokenStrategy with the given
// symmetric signing key.
func NewSignedTokenStrategy(key []byte) *SignedTokenStrategy {
	return &SignedTokenStrategy{key: key}
}

func (s *SignedTokenStrategy) Name() string { return "signed" }

func (s *SignedTokenStrategy) Verify(_ context.Context, cred Credential) (*Principal, bool, error) {
	claims := &signedClaims{}
	_, err := jwt.ParseWithClaims(cred.Token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, valeterr.Errorf(valeterr.CodeAuthUnauthenticated, "unexpected signing method %q", t.Method.Alg())
		}
		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, true, valeterr.Wrap(err, valeterr.CodeAuthUnauthenticated, "verifying signed token")
	}

	if claims.Subject == "" {
		return nil, true, valeterr.New(valeterr.CodeAuthUnauthenticated, "signed token without subject")
	}

	scopes := claims.Scopes
	if len(scopes) == 0 {
		// No explicit grant: every verified subject may read and write its
		// own context; a delegated calendar token implies the calendar pair.
		scopes = []string{security.ScopeReadContext, security.ScopeWriteContext}
		if claims.CalendarToken != "" {
			scopes = append(scopes, security.ScopeReadCalendar, security.ScopeWriteCalendar)
		}
	}

	return &Principal{
		ClientID: claims.Subject,
		Scopes:   security.NewScopeSet(scopes...),
		Extra: Extra{
			RunID:         claims.RunID,
			CalendarToken: claims.CalendarToken,
		},
	}, true, nil
}

// equalConstantTime compares two strings without leaking length or content
// timing. Inputs are hashed first so unequal lengths still compare in
// constant time.
func equalConstantTime(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
