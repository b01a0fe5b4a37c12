// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valet-dev/valet/internal/auth"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// DefaultWeatherBaseURL is the public Open-Meteo forecast endpoint.
const DefaultWeatherBaseURL = "https://api.open-meteo.com"

// WeatherTool returns the unscoped weather lookup tool. It needs no
// credential; baseURL is overridable for tests.
func WeatherTool(baseURL string) *Tool {
	if baseURL == "" {
		baseURL = DefaultWeatherBaseURL
	}
	client := &http.Client{Timeout: 10 * time.Second}

	return &Tool{
		Name:        "get_weather",
		Title:       "Get weather",
		Description: "Get the current weather for a location given its coordinates.",
		Params: Params{
			"latitude": {
				Type:        TypeNumber,
				Description: "Latitude in decimal degrees.",
				Required:    true,
			},
			"longitude": {
				Type:        TypeNumber,
				Description: "Longitude in decimal degrees.",
				Required:    true,
			},
		},
		Run: func(ctx context.Context, args map[string]any, _ *auth.Principal) (string, error) {
			url := fmt.Sprintf(
				"%s/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,wind_speed_10m,weather_code",
				baseURL, NumberArg(args, "latitude"), NumberArg(args, "longitude"),
			)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", valeterr.Wrap(err, valeterr.CodeToolExecFailure, "building weather request")
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", valeterr.Wrap(err, valeterr.CodeToolExecFailure, "calling weather service")
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode >= 400 {
				return "", valeterr.Errorf(valeterr.CodeToolExecFailure, "weather service failed (HTTP %d)", resp.StatusCode)
			}

			var payload struct {
				Current struct {
					Temperature float64 `json:"temperature_2m"`
					WindSpeed   float64 `json:"wind_speed_10m"`
					WeatherCode int     `json:"weather_code"`
				} `json:"current"`
				CurrentUnits struct {
					Temperature string `json:"temperature_2m"`
					WindSpeed   string `json:"wind_speed_10m"`
				} `json:"current_units"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return "", valeterr.Wrap(err, valeterr.CodeToolExecFailure, "decoding weather response")
			}

			return fmt.Sprintf("Currently %g%s, wind %g%s (%s).",
				payload.Current.Temperature, payload.CurrentUnits.Temperature,
				payload.Current.WindSpeed, payload.CurrentUnits.WindSpeed,
				describeWeatherCode(payload.Current.WeatherCode),
			), nil
		},
	}
}

// describeWeatherCode maps WMO weather codes to a short phrase.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
