package oltsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an API failure for presentation.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindServer       Kind = "server"
	KindClient       Kind = "client"
)

// FieldError is one entry of a 422 validation response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for every failed API call. StatusCode is 0 for
// network failures.
type APIError struct {
	StatusCode int
	Kind       Kind
	Message    string
	Fields     []FieldError

	// Err is the underlying transport error for KindNetwork.
	Err error
}

func (e *APIError) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// UserMessage renders the operator-facing text for the error.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Network error: unable to reach the server. Please check your connection."
	case KindUnauthorized:
		return "Your session has expired. Please log in again."
	case KindForbidden:
		return "You do not have permission to perform this action."
	case KindNotFound:
		return "The requested resource was not found."
	case KindValidation:
		if len(e.Fields) > 0 {
			parts := make([]string, 0, len(e.Fields))
			for _, f := range e.Fields {
				if f.Field == "" {
					parts = append(parts, f.Message)
					continue
				}
				parts = append(parts, f.Field+": "+f.Message)
			}
			return "Validation error: " + strings.Join(parts, "; ")
		}
		return orDefault(e.Message, "Validation error")
	case KindServer:
		return "Server error. Please try again later."
	default:
		return orDefault(e.Message, "An unexpected error occurred")
	}
}

// IsUnauthorized reports whether err is a 401 APIError.
func IsUnauthorized(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Kind == KindUnauthorized
}

// KindFor maps an HTTP status onto a Kind.
func KindFor(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// parseErrorResponse builds an APIError from a non-2xx response. It
// understands the stock FastAPI body ({"detail": "..."} or a list of
// {"loc","msg"} entries) and the backend's wrapped form
// ({"message": "...", "details": [...]}).
func parseErrorResponse(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Kind: KindFor(status)}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Details []locMessage    `json:"details"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if len(apiErr.Message) > 200 {
			apiErr.Message = apiErr.Message[:200]
		}
		return apiErr
	}

	apiErr.Message = envelope.Message
	apiErr.Fields = fieldErrors(envelope.Details)

	if len(envelope.Detail) > 0 {
		var detail string
		var items []locMessage
		switch {
		case json.Unmarshal(envelope.Detail, &detail) == nil:
			apiErr.Message = detail
		case json.Unmarshal(envelope.Detail, &items) == nil:
			apiErr.Fields = append(apiErr.Fields, fieldErrors(items)...)
		}
	}

	if apiErr.Message == "" && len(apiErr.Fields) > 0 {
		apiErr.Message = "Validation error"
	}
	return apiErr
}

type locMessage struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func fieldErrors(items []locMessage) []FieldError {
	if len(items) == 0 {
		return nil
	}

	out := make([]FieldError, 0, len(items))
	for _, it := range items {
		out = append(out, FieldError{Field: fieldName(it.Loc), Message: it.Msg})
	}
	return out
}

// fieldName joins a FastAPI location, dropping the leading "body"/"query".
func fieldName(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		s := fmt.Sprint(p)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
