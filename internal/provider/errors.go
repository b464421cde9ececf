package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindUnavailable      Kind = "unavailable"
	KindNotSupported     Kind = "not_supported"
	KindTimeout          Kind = "timeout"
	KindInsufficientData Kind = "insufficient_data"
)

// Error is the typed failure every provider returns.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost provider error, or unavailable.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// Kinds lists the kind of every provider error in err's tree, outermost first.
func Kinds(err error) []Kind {
	var out []Kind
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if pe, ok := e.(*Error); ok {
			out = append(out, pe.Kind)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

// HasKind reports whether any provider error in err's tree has the kind.
func HasKind(err error, kind Kind) bool {
	for _, k := range Kinds(err) {
		if k == kind {
			return true
		}
	}
	return false
}

func newError(provider string, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// classify wraps a transport-level failure.
func classify(provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindUnavailable, Provider: provider, Err: err}
}

type apiError struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError maps a non-200 response onto the taxonomy.
func statusError(provider string, status int, payload []byte) *Error {
	detail := strings.TrimSpace(string(payload))
	var body apiError
	if err := json.Unmarshal(payload, &body); err == nil {
		switch {
		case body.Message != "":
			detail = body.Message
		case body.Error != "":
			detail = body.Error
		}
	}

	kind := KindUnavailable
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// plan does not include the endpoint
		kind = KindNotSupported
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		kind = KindTimeout
	}

	if detail == "" {
		return newError(provider, kind, "http %d", status)
	}
	return newError(provider, kind, "http %d: %s", status, detail)
}
