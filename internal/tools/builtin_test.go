// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/backend"
	"github.com/valet-dev/valet/internal/store"
	"github.com/valet-dev/valet/internal/tools"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// memContextStore is an in-memory store.ContextStore.
type memContextStore struct {
	docs map[string]string
}

func (m *memContextStore) Read(_ context.Context, userID string) (*store.ContextDocument, error) {
	content, ok := m.docs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ContextDocument{UserID: userID, Content: content}, nil
}

func (m *memContextStore) Write(_ context.Context, userID, content string) error {
	m.docs[userID] = content
	return nil
}

func (m *memContextStore) Close() error { return nil }

func principal(calendarToken string) *auth.Principal {
	return &auth.Principal{ClientID: "u1", Extra: auth.Extra{CalendarToken: calendarToken}}
}

func TestContextTools(t *testing.T) {
	ctx := context.Background()
	cs := &memContextStore{docs: map[string]string{}}

	reg := tools.NewRegistry()
	reg.Register(tools.ContextTools(cs)...)

	t.Run("read empty document", func(t *testing.T) {
		result, err := reg.Execute(ctx, "get_user_context", "", principal(""))
		require.NoError(t, err)
		assert.Equal(t, "The context document is empty.", result)
	})

	t.Run("update then read", func(t *testing.T) {
		result, err := reg.Execute(ctx, "update_user_context", `{"content":"Vegetarian. Lives in Berlin."}`, principal(""))
		require.NoError(t, err)
		assert.Equal(t, "Context updated.", result)

		result, err = reg.Execute(ctx, "get_user_context", "", principal(""))
		require.NoError(t, err)
		assert.Equal(t, "Vegetarian. Lives in Berlin.", result)
	})

	t.Run("update requires content", func(t *testing.T) {
		_, err := reg.Execute(ctx, "update_user_context", `{}`, principal(""))
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolArgsInvalid, valeterr.CodeOf(err))
	})
}

func TestWeatherTool(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"current": map[string]any{
				"temperature_2m": 21.5, "wind_speed_10m": 8.0, "weather_code": 2,
			},
			"current_units": map[string]any{
				"temperature_2m": "°C", "wind_speed_10m": "km/h",
			},
		})
	}))
	defer srv.Close()

	reg := tools.NewRegistry()
	reg.Register(tools.WeatherTool(srv.URL))

	result, err := reg.Execute(ctx, "get_weather", `{"latitude":52.52,"longitude":13.405}`, principal(""))
	require.NoError(t, err)
	assert.Equal(t, "Currently 21.5°C, wind 8km/h (partly cloudy).", result)

	t.Run("service failure", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer down.Close()

		reg := tools.NewRegistry()
		reg.Register(tools.WeatherTool(down.URL))

		_, err := reg.Execute(ctx, "get_weather", `{"latitude":0,"longitude":0}`, principal(""))
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeToolExecFailure, valeterr.CodeOf(err))
	})
}

func TestCalendarTools(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cal-token", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]backend.Event{
				{ID: "e1", Title: "Standup", Start: "2026-08-26T09:00:00Z", End: "2026-08-26T09:15:00Z"},
			})
		case http.MethodPost:
			var ev backend.Event
			_ = json.NewDecoder(r.Body).Decode(&ev)
			ev.ID = "e2"
			_ = json.NewEncoder(w).Encode(ev)
		}
	}))
	defer srv.Close()

	reg := tools.NewRegistry()
	reg.Register(tools.CalendarTools(backend.NewWithHTTPClient(srv.URL, srv.Client()))...)

	t.Run("list events", func(t *testing.T) {
		result, err := reg.Execute(ctx, "list_calendar_events", `{}`, principal("cal-token"))
		require.NoError(t, err)
		assert.Contains(t, result, "Standup")
		assert.Contains(t, result, "until 2026-08-26T09:15:00Z")
	})

	t.Run("create event", func(t *testing.T) {
		result, err := reg.Execute(ctx, "create_calendar_event",
			`{"title":"Dentist","start":"2026-08-27T10:00:00Z"}`, principal("cal-token"))
		require.NoError(t, err)
		assert.Equal(t, `Created event "Dentist" at 2026-08-27T10:00:00Z.`, result)
	})

	t.Run("unlinked calendar", func(t *testing.T) {
		_, err := reg.Execute(ctx, "list_calendar_events", `{}`, principal(""))
		require.Error(t, err)
		assert.Equal(t, valeterr.CodeBackendTokenMissing, valeterr.CodeOf(err))
	})
}

func TestTaskTools(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]backend.Task{
				{ID: "t1", Title: "Buy milk", Due: "2026-08-28"},
			})
		case http.MethodPost:
			var task backend.Task
			_ = json.NewDecoder(r.Body).Decode(&task)
			task.ID = "t2"
			_ = json.NewEncoder(w).Encode(task)
		}
	}))
	defer srv.Close()

	reg := tools.NewRegistry()
	reg.Register(tools.TaskTools(backend.NewWithHTTPClient(srv.URL, srv.Client()))...)

	t.Run("list tasks", func(t *testing.T) {
		result, err := reg.Execute(ctx, "list_tasks", "", principal("cal-token"))
		require.NoError(t, err)
		assert.Contains(t, result, "Buy milk")
		assert.Contains(t, result, "due 2026-08-28")
	})

	t.Run("create task", func(t *testing.T) {
		result, err := reg.Execute(ctx, "create_task", `{"title":"Water plants"}`, principal("cal-token"))
		require.NoError(t, err)
		assert.Equal(t, `Created task "Water plants".`, result)
	})
}
