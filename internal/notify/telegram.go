// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package notify delivers fire-and-forget completion notifications over
// Telegram. Delivery failures are logged, never surfaced to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// defaultAPIBase is the Telegram Bot API root.
const defaultAPIBase = "https://api.telegram.org"

// sendTimeout bounds each notification attempt.
const sendTimeout = 10 * time.Second

// maxPreviewLen bounds the answer excerpt included in the notification.
const maxPreviewLen = 500

// Telegram sends completion notifications via the Bot API. The user id is
// used as the chat id: mini-app users are Telegram users.
type Telegram struct {
	botToken string
	apiBase  string
	http     *http.Client
}

// NewTelegram creates a Telegram notifier. An empty token disables sending;
// Done becomes a no-op so callers need no nil checks.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{
		botToken: botToken,
		apiBase:  defaultAPIBase,
		http:     &http.Client{Timeout: sendTimeout},
	}
}

// NewTelegramWithBase creates a notifier against a custom API base (tests).
func NewTelegramWithBase(botToken, apiBase string, hc *http.Client) *Telegram {
	return &Telegram{botToken: botToken, apiBase: apiBase, http: hc}
}

// Done sends "answer ready" to the user's chat in a background goroutine.
// It returns immediately and never blocks the response path.
func (t *Telegram) Done(userID, text string) {
	if t.botToken == "" || userID == "" {
		return
	}

	if len(text) > maxPreviewLen {
		text = text[:maxPreviewLen] + "…"
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := t.send(ctx, userID, text); err != nil {
			slog.Warn("completion notification failed", "error", err, "user_id", userID)
		}
	}()
}

// send calls the Bot API sendMessage method once; no retries.
func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return valeterr.Wrap(err, valeterr.CodeNotifyBackendFailure, "encoding notification")
	}

	url := t.apiBase + "/bot" + t.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return valeterr.Wrap(err, valeterr.CodeNotifyBackendFailure, "building notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return valeterr.Wrap(err, valeterr.CodeNotifyBackendFailure, "sending notification")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return valeterr.Errorf(valeterr.CodeNotifyBackendFailure, "notification rejected (HTTP %d)", resp.StatusCode)
	}
	return nil
}
