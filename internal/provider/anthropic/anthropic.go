// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, valeterr.New(valeterr.CodeConfigValidateInvalidValue, "anthropic: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
		health: tracker,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// knownModels returns the hardcoded set of known Anthropic models.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "claude-opus-4-1",
			Name:     "Claude Opus 4.1",
			Provider: "anthropic",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   32000,
			},
		},
		{
			ID:       "claude-sonnet-4-0",
			Name:     "Claude Sonnet 4",
			Provider: "anthropic",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   16000,
			},
		},
		{
			ID:       "claude-3-5-haiku-latest",
			Name:     "Claude 3.5 Haiku",
			Provider: "anthropic",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   8192,
			},
		},
	}
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return knownModels(), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, valeterr.Wrap(err, valeterr.CodeProviderRequestInvalid, "anthropic: building request params")
	}

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()

	return eventCh, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "anthropic",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into Anthropic SDK MessageNewParams.
func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Options.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(float64(req.Options.Temperature))
	}

	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		// One tool block at a time; downstream execution is serial.
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{
			OfAuto: &anthropicsdk.ToolChoiceAutoParam{
				DisableParallelToolUse: anthropicsdk.Bool(true),
			},
		}
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into Anthropic SDK MessageParam slices.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var result []anthropicsdk.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) > 0 {
				result = append(result, assistantToolCallMessage(msg))
				continue
			}
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.MessageRoleTool:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case provider.MessageRoleSystem:
			// System messages are handled via the top-level system param,
			// not as individual messages. Skip them here.
			continue
		default:
			return nil, valeterr.Errorf(valeterr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// assistantToolCallMessage rebuilds an assistant turn that requested tools
// as text + tool_use blocks so the follow-up request replays the exchange.
func assistantToolCallMessage(msg provider.Message) anthropicsdk.MessageParam {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, []byte(tc.Arguments), tc.Name))
	}
	return anthropicsdk.NewAssistantMessage(blocks...)
}

// convertTools transforms provider.ToolDefinition slices into Anthropic SDK tool params.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := extractSchema(t.InputSchema)
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}

// extractSchema maps a provider.ToolDefinition.InputSchema (a full JSON Schema
// object with keys like "type", "properties", "required") into the Anthropic SDK's
// ToolInputSchemaParam, which expects Properties and Required as separate fields.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := raw["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			schema.Required = strs
		}
	}
	return schema
}

// streamChat runs the streaming loop, converting SDK events into raw
// provider.ChatEvent deltas. Anthropic interleaves text and tool_use content
// blocks under one block index space, so tool blocks are renumbered to a
// dense per-turn tool ordinal before emission.
func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	toolIndex := make(map[int64]int) // block index → tool ordinal
	finish := provider.FinishReasonStop

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			cb := event.ContentBlock
			if cb.Type == "tool_use" {
				ord := len(toolIndex)
				toolIndex[event.Index] = ord
				ch <- provider.ChatEvent{
					Type: provider.EventTypeToolCallDelta,
					ToolCallDelta: &provider.ToolCallDelta{
						Index: ord,
						ID:    cb.ID,
						Name:  cb.Name,
					},
				}
			}

		case "content_block_delta":
			delta := event.Delta
			switch delta.Type {
			case "text_delta":
				ch <- provider.ChatEvent{
					Type: provider.EventTypeTextDelta,
					Text: delta.Text,
				}
			case "input_json_delta":
				if ord, ok := toolIndex[event.Index]; ok {
					ch <- provider.ChatEvent{
						Type: provider.EventTypeToolCallDelta,
						ToolCallDelta: &provider.ToolCallDelta{
							Index:        ord,
							ArgsFragment: delta.PartialJSON,
						},
					}
				}
			}

		case "message_delta":
			// message_delta carries the stop reason and final usage info.
			if event.Delta.StopReason != "" {
				finish = normalizeStopReason(string(event.Delta.StopReason))
			}
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(event.Usage.InputTokens),
					OutputTokens: int(event.Usage.OutputTokens),
				},
			}

		case "message_start":
			// Extract initial usage from the message start event.
			if event.Message.Usage.InputTokens > 0 || event.Message.Usage.OutputTokens > 0 {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeUsage,
					Usage: &provider.Usage{
						InputTokens:      int(event.Message.Usage.InputTokens),
						OutputTokens:     int(event.Message.Usage.OutputTokens),
						CacheReadTokens:  int(event.Message.Usage.CacheReadInputTokens),
						CacheWriteTokens: int(event.Message.Usage.CacheCreationInputTokens),
					},
				}
			}

		case "message_stop":
			p.health.RecordSuccess()
			ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: finish}
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		ch <- provider.ChatEvent{
			Type:  provider.EventTypeError,
			Error: err.Error(),
		}
		return
	}

	// If we exit the loop without a message_stop, still send done.
	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: finish}
}

// normalizeStopReason maps Anthropic stop reasons onto the provider set.
func normalizeStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishReasonStop
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonOther
	}
}
