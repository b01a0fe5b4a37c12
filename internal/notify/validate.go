// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package notify

import (
	"context"
	"io"
	"net/http"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// ValidateToken verifies a Telegram bot token against the getMe endpoint.
func ValidateToken(ctx context.Context, client *http.Client, token string) error {
	return ValidateTokenWithURL(ctx, client, defaultAPIBase+"/bot"+token+"/getMe")
}

// ValidateTokenWithURL hits url directly so tests can point it at a stub
// server instead of api.telegram.org.
func ValidateTokenWithURL(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return valeterr.Errorf(valeterr.CodeChannelTokenCheckFailed, "building token check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return valeterr.Errorf(valeterr.CodeChannelTokenCheckFailed, "reaching Telegram: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// getMe rejects bad tokens with 401/403; anything else is a
		// transport or availability problem, not a credential one.
		return valeterr.Errorf(valeterr.CodeChannelTokenInvalid, "Telegram rejected the bot token (HTTP %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return valeterr.Errorf(valeterr.CodeChannelTokenCheckFailed, "token check returned HTTP %d", resp.StatusCode)
	}

	return nil
}
