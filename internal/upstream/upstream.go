// Package upstream defines the error taxonomy and classification rules
// shared by every AI provider adapter. The Router depends only on this
// package and the Generator contract, never on a provider SDK directly.
package upstream

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bobmcallan/sumqueue/internal/interfaces"
)

// Generator is re-exported from interfaces so adapters can depend on one
// canonical name while the Router keeps its dependency on interfaces.
type Generator = interfaces.Generator

// Kind classifies an upstream failure for backoff and retry decisions.
type Kind string

const (
	KindQuota        Kind = "quota"
	KindAuth         Kind = "auth"
	KindTransient    Kind = "transient"
	KindInputInvalid Kind = "input_invalid"
	KindEmpty        Kind = "empty"
	KindOther        Kind = "other"
)

// Error is the typed failure every Generator implementation returns.
// Adapters classify Status and Message into Kind via NewError; the Router
// branches on Kind and never pattern-matches against a raw third-party
// error value.
type Error struct {
	Status  int
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return strconv.Itoa(e.Status) + ": " + e.Message
	}
	return e.Message
}

// sentinel kinds so callers can errors.Is against a stable value.
var (
	ErrQuota        = &Error{Kind: KindQuota}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrTransient    = &Error{Kind: KindTransient}
	ErrInputInvalid = &Error{Kind: KindInputInvalid}
	ErrEmpty        = &Error{Kind: KindEmpty}
)

// Is lets errors.Is(err, upstream.ErrQuota) match any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError classifies (status, message) into a typed *Error per spec §4.4.1.
// Adapters call this once at the SDK boundary; everything downstream of the
// adapter operates on Kind, never on substring matching.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message, Kind: Classify(status, message)}
}

// Classify maps an HTTP-like status code and message to an error Kind.
// Case-insensitive substring matching on message, per spec §4.4.1's table.
func Classify(status int, message string) Kind {
	lower := strings.ToLower(message)

	switch {
	case status == 429, strings.Contains(lower, "quota"), strings.Contains(lower, "rate limit"):
		return KindQuota
	case status == 401, status == 403,
		strings.Contains(lower, "auth"), strings.Contains(lower, "api key"), strings.Contains(lower, "unauthorized"):
		return KindAuth
	case status == 500, status == 502, status == 503, status == 504,
		strings.Contains(lower, "service unavailable"), strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return KindTransient
	case strings.Contains(lower, "invalid") && strings.Contains(lower, "prompt"):
		return KindInputInvalid
	case message == "":
		return KindEmpty
	default:
		return KindOther
	}
}

// AsError unwraps err into an *Error if possible, classifying generic
// errors as KindOther/KindTransient by inspecting context deadline/timeout.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	msg := err.Error()
	kind := KindOther
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		kind = KindTransient
	}
	return &Error{Message: msg, Kind: kind}
}
