// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/valet-dev/valet/internal/agent"
	"github.com/valet-dev/valet/internal/auth"
	"github.com/valet-dev/valet/internal/provider"
	"github.com/valet-dev/valet/internal/store"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// ChatService runs the agent loop for one inbound message.
type ChatService interface {
	ProcessMessage(ctx context.Context, msg agent.InboundMessage, p *auth.Principal) (*agent.OutboundMessage, error)
}

// StatusLister reports health for registered model providers.
type StatusLister interface {
	Statuses(ctx context.Context) []provider.ProviderStatus
}

// Services bundles the dependencies behind the REST routes.
type Services struct {
	Chat       ChatService
	Transcript store.TranscriptStore
	ToolLog    store.ToolCallLog
	Providers  StatusLister
}

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat",
		Summary:     "Send a message to the agent",
		Tags:        []string{"chat"},
	}, s.handleSendMessage)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transcript",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcript",
		Summary:     "Read the caller's recent transcript",
		Tags:        []string{"transcript"},
	}, s.handleGetTranscript)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-transcript",
		Method:      http.MethodDelete,
		Path:        "/api/v1/transcript",
		Summary:     "Delete the caller's entire transcript",
		Tags:        []string{"transcript"},
	}, s.handleResetTranscript)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-run-tools",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{runId}/tools",
		Summary:     "List tool invocations recorded for a run",
		Tags:        []string{"runs"},
	}, s.handleListRunTools)

	huma.Register(s.api, huma.Operation{
		OperationID: "runtime-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Runtime and provider status",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

type sendMessageInput struct {
	Body struct {
		Content string `json:"content" minLength:"1" doc:"Message content"`
		Model   string `json:"model,omitempty" doc:"Optional provider/model override"`
	}
}
type sendMessageOutput struct {
	Body struct {
		MessageID string     `json:"message_id" doc:"Finalized assistant message"`
		Content   string     `json:"content" doc:"Agent response"`
		Usage     *usageBody `json:"usage,omitempty" doc:"Token usage across all passes"`
	}
}

type usageBody struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type getTranscriptInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Number of most recent messages"`
}
type getTranscriptOutput struct {
	Body struct {
		Messages []transcriptMessage `json:"messages"`
	}
}

type transcriptMessage struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Streaming  bool           `json:"streaming,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type resetTranscriptOutput struct {
	Body struct {
		Status string `json:"status" example:"reset"`
	}
}

type listRunToolsInput struct {
	RunID string `path:"runId" doc:"Run identifier"`
}
type listRunToolsOutput struct {
	Body struct {
		Calls []toolCallEntry `json:"calls"`
	}
}

type toolCallEntry struct {
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	Arguments string    `json:"arguments,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type statusOutput struct {
	Body struct {
		Status    string           `json:"status" example:"ok" doc:"Runtime status"`
		Providers []providerStatus `json:"providers"`
	}
}

type providerStatus struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// --- Handlers ---

func (s *Server) handleSendMessage(ctx context.Context, input *sendMessageInput) (*sendMessageOutput, error) {
	p := principalFrom(ctx)
	if p == nil {
		return nil, huma.Error401Unauthorized("missing principal")
	}
	if s.services == nil || s.services.Chat == nil {
		return nil, huma.Error503ServiceUnavailable("agent not configured")
	}

	result, err := s.services.Chat.ProcessMessage(ctx, agent.InboundMessage{
		UserID:  p.ClientID,
		Content: input.Body.Content,
		Model:   input.Body.Model,
	}, p)
	if err != nil {
		return nil, apiError(err)
	}

	out := &sendMessageOutput{}
	out.Body.MessageID = result.MessageID
	out.Body.Content = result.Content
	if result.Usage != nil {
		out.Body.Usage = &usageBody{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		}
	}
	return out, nil
}

func (s *Server) handleGetTranscript(ctx context.Context, input *getTranscriptInput) (*getTranscriptOutput, error) {
	p := principalFrom(ctx)
	if p == nil {
		return nil, huma.Error401Unauthorized("missing principal")
	}

	msgs, err := s.services.Transcript.ListRecent(ctx, p.ClientID, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}

	out := &getTranscriptOutput{}
	out.Body.Messages = make([]transcriptMessage, 0, len(msgs))
	for _, m := range msgs {
		out.Body.Messages = append(out.Body.Messages, transcriptMessage{
			ID:         m.ID,
			Role:       string(m.Role),
			Type:       string(m.Type),
			Content:    m.Content,
			Streaming:  m.Streaming,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
			Metadata:   m.Metadata,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}

func (s *Server) handleResetTranscript(ctx context.Context, _ *struct{}) (*resetTranscriptOutput, error) {
	p := principalFrom(ctx)
	if p == nil {
		return nil, huma.Error401Unauthorized("missing principal")
	}

	if err := s.services.Transcript.Reset(ctx, p.ClientID); err != nil {
		return nil, apiError(err)
	}

	out := &resetTranscriptOutput{}
	out.Body.Status = "reset"
	return out, nil
}

func (s *Server) handleListRunTools(ctx context.Context, input *listRunToolsInput) (*listRunToolsOutput, error) {
	p := principalFrom(ctx)
	if p == nil {
		return nil, huma.Error401Unauthorized("missing principal")
	}

	records, err := s.services.ToolLog.ListByRun(ctx, input.RunID)
	if err != nil {
		return nil, apiError(err)
	}

	out := &listRunToolsOutput{}
	out.Body.Calls = make([]toolCallEntry, 0, len(records))
	for _, rec := range records {
		out.Body.Calls = append(out.Body.Calls, toolCallEntry{
			CallID:    rec.CallID,
			ToolName:  rec.ToolName,
			Arguments: rec.Arguments,
			Status:    string(rec.Status),
			Error:     rec.Error,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = "ok"
	if s.services != nil && s.services.Providers != nil {
		for _, ps := range s.services.Providers.Statuses(ctx) {
			out.Body.Providers = append(out.Body.Providers, providerStatus{
				Provider:  ps.Provider,
				Available: ps.Available,
				Message:   ps.Message,
			})
		}
	}
	return out, nil
}

// apiError maps an internal error to a huma status error using the
// error-code taxonomy.
func apiError(err error) error {
	return huma.NewError(valeterr.HTTPStatus(err), err.Error())
}
