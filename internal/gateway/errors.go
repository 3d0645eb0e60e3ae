package gateway

import (
	"errors"
	"fmt"

	"github.com/huddle/chat-server/internal/message"
)

// Code classifies a request failure. Every code is terminal for the single
// request that caused it; none of them closes the session.
type Code string

const (
	CodeAuth          Code = "auth_error"
	CodeValidation    Code = "validation_error"
	CodeNotFound      Code = "not_found"
	CodeRateLimited   Code = "rate_limited"
	CodeBlocked       Code = "blocked_content"
	CodeSessionClosed Code = "session_closed"
)

// Error is a request failure reported to the requester only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of err if it is an *Error, or "" otherwise.
func CodeOf(err error) Code {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ""
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Not-found and not-authorized deletions share one message so callers
// cannot probe for message ids they are not entitled to.
var (
	errRecipientNotFound = newError(CodeNotFound, "recipient not found", nil)
	errMessageNotFound   = newError(CodeNotFound, "message not found", message.ErrNotFound)
	errSessionClosed     = newError(CodeSessionClosed, "session is closed", nil)
	errRateLimited       = newError(CodeRateLimited, "too many messages, slow down", nil)
)

// Ack is the outcome of a request-scoped operation. It is delivered to the
// requester only and never broadcast.
type Ack struct {
	RequestID string
	Op        string
	Err       *Error
	Direct    *message.Direct // set on a successful direct send
}

// Success reports whether the operation was applied.
func (a Ack) Success() bool { return a.Err == nil }
