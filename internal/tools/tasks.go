// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/backend"
)

// TaskTools returns the tools backed by the delegated task-list service.
// Tasks live behind the same delegated token as the calendar.
func TaskTools(client *backend.Client) []*Tool {
	return []*Tool{
		{
			Name:        "list_tasks",
			Title:       "List tasks",
			Description: "List the user's open tasks.",
			Params:      Params{},
			Run: func(ctx context.Context, _ map[string]any, p *auth.Principal) (string, error) {
				token, err := delegatedToken(p)
				if err != nil {
					return "", err
				}
				tasks, err := client.ListTasks(ctx, token)
				if err != nil {
					return "", err
				}
				if len(tasks) == 0 {
					return "No open tasks.", nil
				}
				var b strings.Builder
				for _, t := range tasks {
					b.WriteString("- " + t.Title)
					if t.Due != "" {
						fmt.Fprintf(&b, " (due %s)", t.Due)
					}
					b.WriteByte('\n')
				}
				return b.String(), nil
			},
		},
		{
			Name:        "create_task",
			Title:       "Create task",
			Description: "Add a task to the user's task list.",
			Params: Params{
				"title": {
					Type:        TypeString,
					Description: "Task title.",
					Required:    true,
				},
				"due": {
					Type:        TypeString,
					Description: "Due date, RFC 3339 (optional).",
				},
				"notes": {
					Type:        TypeString,
					Description: "Additional notes (optional).",
				},
			},
			Run: func(ctx context.Context, args map[string]any, p *auth.Principal) (string, error) {
				token, err := delegatedToken(p)
				if err != nil {
					return "", err
				}
				created, err := client.CreateTask(ctx, token, backend.Task{
					Title: StringArg(args, "title"),
					Due:   StringArg(args, "due"),
					Notes: StringArg(args, "notes"),
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created task %q.", created.Title), nil
			},
		},
	}
}
