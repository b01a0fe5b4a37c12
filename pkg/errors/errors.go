// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreMessageNotFound      Code = "store.message.get.not_found"
	CodeStoreMessageInsertInvalid Code = "store.message.insert.invalid_input"
	CodeStoreContextNotFound      Code = "store.context.get.not_found"
	CodeStoreDatabaseFailure      Code = "store.database.failure"
	CodeStoreBackendUnsupported   Code = "store.backend.unsupported"
	CodeStoreInvalidInput         Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSecretInvalidInput   Code = "secret.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeAuthUnauthenticated Code = "auth.token.unauthenticated"
	CodeAuthSessionInvalid  Code = "auth.session.unauthenticated"

	CodeToolNotFound    Code = "tool.registry.not_found"
	CodeToolArgsInvalid Code = "tool.args.invalid_input"
	CodeToolExecFailure Code = "tool.exec.failure"
	CodeToolForbidden   Code = "tool.scope.forbidden"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"
	CodeProviderKeyInvalid      Code = "provider.key.invalid"
	CodeProviderKeyCheckFailed  Code = "provider.key_check.failure"

	CodeAgentLoopInvalidInput  Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure       Code = "agent.loop.failure"
	CodeAgentLoopLimitExceeded Code = "agent.loop.limit_exceeded"
	CodeAgentProtocolViolation Code = "agent.stream.protocol_violation"

	CodeNotifyBackendFailure Code = "notify.backend.failure"
	CodeBackendCallFailure   Code = "backend.call.failure"
	CodeBackendTokenMissing  Code = "backend.token.unauthenticated"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerAuthForbidden   Code = "server.auth.forbidden"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeChannelTokenInvalid     Code = "channel.token.unauthenticated"
	CodeChannelTokenCheckFailed Code = "channel.token_check.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldRunID(value string) Attr {
	return Field("run_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

// codedError pins the classification code at the frame that assigned it.
// The oops getters prefer the deepest code in a wrapped chain; rewrapping
// must instead re-classify, so the code rides outside the oops chain where
// the shallowest frame wins.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func coded(code Code, err error) error {
	return &codedError{code: code, err: err}
}

func New(code Code, msg string, fields ...Attr) error {
	return coded(code, oops.Code(code).With(flatten(fields)...).New(msg))
}

func Errorf(code Code, format string, args ...any) error {
	return coded(code, oops.Code(code).Errorf(format, args...))
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return coded(code, oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg))
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return coded(code, oops.Code(code).Wrapf(err, format, args...))
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return coded(code, oops.Code(code).With(flatten(fields)...).Wrap(err))
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var ce *codedError
	if stderrors.As(err, &ce) {
		return ce.code
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_model_ref"
}

// IsUnauthenticated reports whether the error represents a missing or
// unverifiable credential (transport 401).
func IsUnauthenticated(err error) bool {
	return reason(CodeOf(err)) == "unauthenticated"
}

// IsForbidden reports whether the error represents a verified but
// under-scoped principal (transport 403).
func IsForbidden(err error) bool {
	r := reason(CodeOf(err))
	return r == "forbidden" || r == "denied"
}

func IsLimitExceeded(err error) bool {
	return reason(CodeOf(err)) == "limit_exceeded"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthenticated(err):
		return http.StatusUnauthorized
	case IsForbidden(err):
		return http.StatusForbidden
	case IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}

	return coded(CodeServerInternalFailure, oops.Code(CodeServerInternalFailure).Wrap(joined))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
