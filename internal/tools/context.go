// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools

import (
	"context"
	"errors"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/store"
)

// ContextTools returns the tools operating on the user's personal context
// document.
func ContextTools(cs store.ContextStore) []*Tool {
	return []*Tool{
		{
			Name:        "get_user_context",
			Title:       "Read context",
			Description: "Read the user's personal context document: preferences, facts, and standing instructions the user has shared.",
			Params:      Params{},
			Run: func(ctx context.Context, _ map[string]any, p *auth.Principal) (string, error) {
				doc, err := cs.Read(ctx, p.ClientID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return "The context document is empty.", nil
					}
					return "", err
				}
				return doc.Content, nil
			},
		},
		{
			Name:        "update_user_context",
			Title:       "Update context",
			Description: "Replace the user's personal context document with new content. Include everything that should be remembered; the previous document is overwritten.",
			Params: Params{
				"content": {
					Type:        TypeString,
					Description: "The full new context document.",
					Required:    true,
				},
			},
			Run: func(ctx context.Context, args map[string]any, p *auth.Principal) (string, error) {
				if err := cs.Write(ctx, p.ClientID, StringArg(args, "content")); err != nil {
					return "", err
				}
				return "Context updated.", nil
			},
		},
	}
}
