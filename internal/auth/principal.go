// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package auth resolves bearer credentials to authenticated principals.
// Verification is an ordered chain of strategies; the first strategy that
// recognizes the credential shape decides the outcome — there is no silent
// fallback between strategies once one has claimed the credential.
package auth

import "github.com/valet-dev/valet/internal/security"

// Extra carries delegated secrets and correlation data resolved during
// verification. It lives only for the duration of one request.
type Extra struct {
	// RunID correlates this session to the tool-call log, when the
	// credential supplies one. Empty means the loop allocates a fresh run.
	RunID string

	// CalendarToken is the third-party credential used by the calendar and
	// task executors. Empty means the principal has not linked a calendar.
	CalendarToken string
}

// Principal is the result of credential verification: an authenticated
// subject plus its granted capability scopes. Constructed fresh per inbound
// request and never persisted.
type Principal struct {
	ClientID string
	Scopes   security.ScopeSet
	Extra    Extra
}

// Credential is a presented bearer token plus any side-channel values the
// calling surface supplies alongside it (the mini-app session bridge binds
// identity and delegated secret from headers, not the token body).
type Credential struct {
	Token string

	// SessionUserID is the surface-asserted identity (X-Valet-User).
	SessionUserID string

	// SessionCalendarToken is the surface-supplied delegated secret
	// (X-Valet-Calendar-Token).
	SessionCalendarToken string
}
