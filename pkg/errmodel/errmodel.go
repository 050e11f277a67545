package errmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryAPI        = "api"
	CategoryTool       = "tool"
	CategoryPolicy     = "policy"
	CategorySystem     = "system"
)

// Auth failure reasons (Category == CategoryAuth).
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonUnreachable        = "unreachable"
)

// API error kinds (Category == CategoryAPI).
const (
	KindUnauthorized = "unauthorized"
	KindUnavailable  = "unavailable"
	KindRejected     = "rejected"
	KindTransport    = "transport"
)

// Error is the compact error payload returned to tool callers and used internally.
// It implements the error interface. The underlying cause, if any, is reachable
// through errors.Unwrap but is never serialized.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Status   int            `json:"status,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	// Unknown errors are reported as internal without echoing their text.
	return &Error{Category: CategorySystem, Code: "internal", Message: "internal error", cause: err}
}

// Convenience constructors.
func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Policy(code, message string, ctx map[string]any) *Error {
	return New(CategoryPolicy, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	ce := New(CategorySystem, code, message, ctx)
	ce.cause = cause
	return ce
}

// AuthFailure reports a failed credential exchange. The cause is kept for logs
// and errors.Is checks but stays out of the serialized payload.
func AuthFailure(reason, message string, status int, cause error) *Error {
	ce := New(CategoryAuth, reason, message, nil)
	ce.Status = status
	ce.cause = cause
	return ce
}

// API reports a failed platform call of the given kind.
func API(kind, message string, status int, ctx map[string]any, cause error) *Error {
	ce := New(CategoryAPI, kind, message, ctx)
	ce.Status = status
	ce.cause = cause
	return ce
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int64, float64, bool:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	var ce *Error
	return errors.As(err, &ce) && strings.EqualFold(ce.Category, category)
}

// Is reports whether err is a compact error with the given category and code.
func Is(err error, category, code string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Category == category && ce.Code == code
}
