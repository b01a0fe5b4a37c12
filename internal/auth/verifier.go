// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package auth

import (
	"context"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Strategy is one credential verification mechanism. Verify reports via
// handled whether the strategy recognizes the credential shape; when handled
// is true the chain stops and the strategy's outcome is final, success or
// rejection.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, cred Credential) (p *Principal, handled bool, err error)
}

// Verifier tries an ordered list of strategies and stops at the first one
// that claims the credential.
type Verifier struct {
	strategies []Strategy
}

// NewVerifier creates a Verifier trying strategies in the given order.
func NewVerifier(strategies ...Strategy) *Verifier {
	return &Verifier{strategies: strategies}
}

// Verify resolves a credential to a Principal. Absent or unrecognized
// credentials yield an explicit auth.token.unauthenticated error; the caller
// maps it to a transport-level unauthorized response.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Token == "" {
		return nil, valeterr.New(valeterr.CodeAuthUnauthenticated, "missing bearer credential")
	}

	for _, s := range v.strategies {
		p, handled, err := s.Verify(ctx, cred)
		if !handled {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, valeterr.New(valeterr.CodeAuthUnauthenticated, "credential not recognized by any verification strategy")
}
