// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/valet-dev/valet/internal/provider"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, valeterr.New(valeterr.CodeConfigValidateInvalidValue, "openai: missing api_key in config")
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
		client: openaisdk.NewClient(opts...),
		config: cfg,
		health: tracker,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return knownModels(), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, valeterr.Wrap(err, valeterr.CodeProviderRequestInvalid, "openai: building request params")
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
		Provider:  "openai",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// knownModels returns the hardcoded set of known OpenAI models.
func knownModels() []provider.ModelInfo {
	return []provider.ModelInfo{
		{
			ID:       "gpt-4.1",
			Name:     "GPT-4.1",
			Provider: "openai",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  128000,
				MaxOutputTokens:   32768,
			},
		},
		{
			ID:       "gpt-4.1-mini",
			Name:     "GPT-4.1 Mini",
			Provider: "openai",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsVision:    true,
				SupportsStreaming: true,
				MaxContextTokens:  128000,
				MaxOutputTokens:   16384,
			},
		},
		{
			ID:       "o4-mini",
			Name:     "o4-mini",
			Provider: "openai",
			Capabilities: provider.ModelCapabilities{
				SupportsTools:     true,
				SupportsStreaming: true,
				SupportsThinking:  true,
				MaxContextTokens:  200000,
				MaxOutputTokens:   100000,
			},
		},
	}
}

// buildParams converts a provider.ChatRequest into OpenAI SDK ChatCompletionNewParams.
// Parallel tool calls are disabled: tools run one at a time downstream, and a
// single serial batch keeps call indexes stable.
func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}

	if req.Options.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(req.Options.Temperature))
	}

	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Options.StopSequences,
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ParallelToolCalls = param.NewOpt(false)
	}

	return params, nil
}

// convertMessages transforms provider.Message slices into OpenAI SDK message param slices.
// The system prompt is prepended as a system message if present.
func convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) > 0 {
				result = append(result, assistantToolCallMessage(msg))
				continue
			}
			result = append(result, openaisdk.AssistantMessage(msg.Content))
		case provider.MessageRoleTool:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case provider.MessageRoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, valeterr.Errorf(valeterr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// assistantToolCallMessage rebuilds an assistant turn that requested tools,
// so the follow-up request replays the full exchange.
func assistantToolCallMessage(msg provider.Message) openaisdk.ChatCompletionMessageParamUnion {
	calls := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	assistant := openaisdk.ChatCompletionAssistantMessageParam{
		ToolCalls: calls,
	}
	if msg.Content != "" {
		assistant.Content.OfString = param.NewOpt(msg.Content)
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// convertTools transforms provider.ToolDefinition slices into OpenAI SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

// streamChat runs the streaming loop, forwarding SDK chunks as raw
// provider.ChatEvent deltas. Tool call fragments pass through untouched;
// accumulation happens downstream.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	finish := provider.FinishReasonStop

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.Content != "" {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeTextDelta,
					Text: delta.Content,
				}
			}

			for _, tc := range delta.ToolCalls {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeToolCallDelta,
					ToolCallDelta: &provider.ToolCallDelta{
						Index:        int(tc.Index),
						ID:           tc.ID,
						Name:         tc.Function.Name,
						ArgsFragment: tc.Function.Arguments,
					},
				}
			}

			if choice.FinishReason != "" {
				finish = normalizeFinishReason(choice.FinishReason)
			}
		}

		// Usage chunk (typically last chunk with stream_options.include_usage).
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:     int(chunk.Usage.PromptTokens),
					OutputTokens:    int(chunk.Usage.CompletionTokens),
					CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				},
			}
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

	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: finish}
}

// normalizeFinishReason maps OpenAI finish reasons onto the provider set.
func normalizeFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishReasonStop
	case "tool_calls", "function_call":
		return provider.FinishReasonToolCalls
	case "length":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonOther
	}
}
