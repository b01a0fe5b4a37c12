// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/backend"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// CalendarTools returns the tools backed by the delegated calendar service.
// Each Run pulls the delegated token from the principal; a missing token is
// an execution error the loop folds into the transcript, not a crash.
func CalendarTools(client *backend.Client) []*Tool {
	return []*Tool{
		{
			Name:        "list_calendar_events",
			Title:       "List calendar events",
			Description: "List the user's calendar events, optionally within a time window.",
			Params: Params{
				"from": {
					Type:        TypeString,
					Description: "Window start, RFC 3339 (optional).",
				},
				"to": {
					Type:        TypeString,
					Description: "Window end, RFC 3339 (optional).",
				},
			},
			Run: func(ctx context.Context, args map[string]any, p *auth.Principal) (string, error) {
				token, err := delegatedToken(p)
				if err != nil {
					return "", err
				}
				events, err := client.ListEvents(ctx, token, StringArg(args, "from"), StringArg(args, "to"))
				if err != nil {
					return "", err
				}
				if len(events) == 0 {
					return "No calendar events found.", nil
				}
				var b strings.Builder
				for _, ev := range events {
					fmt.Fprintf(&b, "- %s: %s", ev.Start, ev.Title)
					if ev.End != "" {
						fmt.Fprintf(&b, " (until %s)", ev.End)
					}
					b.WriteByte('\n')
				}
				return b.String(), nil
			},
		},
		{
			Name:        "create_calendar_event",
			Title:       "Create calendar event",
			Description: "Create an event on the user's calendar.",
			Params: Params{
				"title": {
					Type:        TypeString,
					Description: "Event title.",
					Required:    true,
				},
				"start": {
					Type:        TypeString,
					Description: "Event start, RFC 3339.",
					Required:    true,
				},
				"end": {
					Type:        TypeString,
					Description: "Event end, RFC 3339 (optional).",
				},
				"description": {
					Type:        TypeString,
					Description: "Longer event description (optional).",
				},
			},
			Run: func(ctx context.Context, args map[string]any, p *auth.Principal) (string, error) {
				token, err := delegatedToken(p)
				if err != nil {
					return "", err
				}
				created, err := client.CreateEvent(ctx, token, backend.Event{
					Title:       StringArg(args, "title"),
					Start:       StringArg(args, "start"),
					End:         StringArg(args, "end"),
					Description: StringArg(args, "description"),
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created event %q at %s.", created.Title, created.Start), nil
			},
		},
	}
}

// delegatedToken extracts the calendar access token from the principal's
// extra bag.
func delegatedToken(p *auth.Principal) (string, error) {
	if p == nil || p.Extra.CalendarToken == "" {
		return "", valeterr.New(valeterr.CodeBackendTokenMissing, "calendar is not connected for this account")
	}
	return p.Extra.CalendarToken, nil
}
