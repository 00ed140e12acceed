// Package errors provides coded errors for Resemble. Every code ends in a
// reason segment ("invalid", "unavailable", "not_found", ...) so callers can
// classify failures without inspecting messages.
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
	CodeEmbeddingInputInvalid        Code = "embedding.input.invalid"
	CodeEmbeddingUnavailable         Code = "embedding.upstream.unavailable"
	CodeEmbeddingResponseMalformed   Code = "embedding.response.malformed"
	CodeEmbeddingProviderConfig      Code = "embedding.provider.misconfigured"
	CodeVectorIndexNotFound          Code = "vectorindex.record.not_found"
	CodeVectorIndexUnavailable       Code = "vectorindex.upstream.unavailable"
	CodeVectorIndexResponseMalformed Code = "vectorindex.response.malformed"
	CodeVectorIndexRequestInvalid    Code = "vectorindex.request.invalid"

	CodeSimilarRequestInvalid Code = "similar.request.invalid"
	CodeStorePostNotFound     Code = "store.post.not_found"
	CodeStoreDatabaseFailure  Code = "store.database.failure"

	CodeRateLimited Code = "ratelimit.request.limited"

	CodeConfigInvalid Code = "config.validate.invalid"

	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerInternalFailure  Code = "server.internal.failure"
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

func FieldPostID(value string) Attr {
	return Field("post_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code recorded in err's chain, or "" for plain errors.
// oops resolves nested codes to the deepest one, so wrapping never hides the
// original kind.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsInvalidInput(err error) bool {
	return reason(CodeOf(err)) == "invalid"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsMalformed(err error) bool {
	return reason(CodeOf(err)) == "malformed"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "limited"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden"
}

// HTTPStatus maps an error to the status the API layer should respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case HasCode(err, CodeServerAuthForbidden):
		return http.StatusForbidden
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsMalformed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
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
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
