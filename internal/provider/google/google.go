// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package google

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Config holds Google provider configuration.
type Config struct {
	APIKey string
}

// Provider implements provider.Provider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, valeterr.New(valeterr.CodeConfigValidateInvalidValue, "google: missing api_key in config", valeterr.FieldProvider("google"))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, valeterr.Wrap(err, valeterr.CodeProviderUpstreamFailure, "google: creating client")
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: client,
		config: cfg,
		health: tracker,
	}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// knownModels returns the hardcoded set of known Google Gemini models.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "gemini-2.5-pro",
			Name:     "Gemini 2.5 Pro",
			Provider: "google",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  1000000,
				MaxOutputTokens:   65536,
			},
		},
		{
			ID:       "gemini-2.5-flash",
			Name:     "Gemini 2.5 Flash",
			Provider: "google",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  1000000,
				MaxOutputTokens:   65536,
			},
		},
		{
			ID:       "gemini-2.0-flash",
			Name:     "Gemini 2.0 Flash",
			Provider: "google",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  1000000,
				MaxOutputTokens:   8192,
			},
		},
	}
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return knownModels(), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, valeterr.Wrap(err, valeterr.CodeProviderRequestInvalid, "google: converting messages")
	}

	config := buildConfig(req)

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamChat(ctx, req.Model, contents, config, eventCh)
	}()

	return eventCh, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "google",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildConfig converts a provider.ChatRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Options.Temperature)
	}

	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}

	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.SystemPrompt},
			},
		}
	}

	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}

	return cfg
}

// convertMessages transforms provider.Message slices into genai.Content slices.
// System messages are excluded (handled via SystemInstruction in buildConfig).
func convertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					{Text: msg.Content},
				},
			})
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) > 0 {
				content, err := assistantToolCallContent(msg)
				if err != nil {
					return nil, err
				}
				result = append(result, content)
				continue
			}
			result = append(result, &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: msg.Content},
				},
			})
		case provider.MessageRoleTool:
			result = append(result, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					{
						FunctionResponse: &genai.FunctionResponse{
							Name:     msg.ToolName,
							Response: map[string]any{"result": msg.Content},
						},
					},
				},
			})
		case provider.MessageRoleSystem:
			// System messages are handled via SystemInstruction in config.
			continue
		default:
			return nil, valeterr.Errorf(valeterr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// assistantToolCallContent rebuilds a model turn that requested tools, so the
// follow-up request replays the full exchange.
func assistantToolCallContent(msg provider.Message) (*genai.Content, error) {
	var parts []*genai.Part
	if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				return nil, valeterr.Wrapf(err, valeterr.CodeProviderRequestInvalid, "google: decoding arguments for replayed call %q", tc.Name)
			}
		}
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   tc.ID,
				Name: tc.Name,
				Args: args,
			},
		})
	}
	return &genai.Content{Role: "model", Parts: parts}, nil
}

// convertTools transforms provider.ToolDefinition slices into genai.Tool slices.
func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{
		{FunctionDeclarations: decls},
	}
}

// streamChat runs the streaming loop, converting SDK responses into raw
// provider.ChatEvent deltas. Gemini delivers function calls whole, so each
// becomes a single tool call delta carrying the complete arguments; calls
// without an upstream id get one minted locally.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	toolOrdinal := 0
	finish := provider.FinishReasonStop

	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			p.health.RecordFailure()
			ch <- provider.ChatEvent{
				Type:  provider.EventTypeError,
				Error: err.Error(),
			}
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.FinishReason != "" {
				finish = normalizeFinishReason(string(candidate.FinishReason))
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					ch <- provider.ChatEvent{
						Type: provider.EventTypeTextDelta,
						Text: part.Text,
					}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						p.health.RecordFailure()
						ch <- provider.ChatEvent{
							Type:  provider.EventTypeError,
							Error: valeterr.Wrapf(err, valeterr.CodeProviderUpstreamFailure, "google: marshaling tool call arguments for %q", part.FunctionCall.Name).Error(),
						}
						return
					}
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = "call_" + uuid.NewString()
					}
					ch <- provider.ChatEvent{
						Type: provider.EventTypeToolCallDelta,
						ToolCallDelta: &provider.ToolCallDelta{
							Index:        toolOrdinal,
							ID:           callID,
							Name:         part.FunctionCall.Name,
							ArgsFragment: string(args),
						},
					}
					toolOrdinal++
				}
			}
		}

		if result.UsageMetadata != nil {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:     int(result.UsageMetadata.PromptTokenCount),
					OutputTokens:    int(result.UsageMetadata.CandidatesTokenCount),
					CacheReadTokens: int(result.UsageMetadata.CachedContentTokenCount),
				},
			}
		}
	}

	if toolOrdinal > 0 {
		finish = provider.FinishReasonToolCalls
	}

	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: finish}
}

// normalizeFinishReason maps Gemini finish reasons onto the provider set.
func normalizeFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "STOP":
		return provider.FinishReasonStop
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonOther
	}
}
