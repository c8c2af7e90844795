package rocketchat

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// KindTransport covers unreachable servers, timeouts and 5xx answers. Safe to retry.
	KindTransport Kind = iota + 1
	// KindAuth means the session or the credentials were rejected (401, or a
	// refused login).
	KindAuth
	// KindSemantic means the server understood the request and refused it.
	KindSemantic
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

const maxRemoteMessage = 200

// Error is returned by every Client call. Its text never includes session
// tokens, passwords or request bodies.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rocketchat %s: %s (%s, status %d)", e.Op, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("rocketchat %s: %s (%s)", e.Op, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf returns the Kind of a *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var rcErr *Error
	if errors.As(err, &rcErr) {
		return rcErr.Kind
	}
	return 0
}

func IsAuth(err error) bool      { return KindOf(err) == KindAuth }
func IsTransport(err error) bool { return KindOf(err) == KindTransport }
func IsSemantic(err error) bool  { return KindOf(err) == KindSemantic }

func transportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Message: "workspace unreachable", err: err}
}

func statusError(op string, status int, remote string) *Error {
	e := &Error{Op: op, Status: status, Message: truncate(remote)}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
		if e.Message == "" {
			e.Message = "unauthorized"
		}
	case status >= 500:
		e.Kind = KindTransport
		if e.Message == "" {
			e.Message = "workspace unavailable"
		}
	default:
		// 403 is a permission refusal for a valid session.
		e.Kind = KindSemantic
		if e.Message == "" {
			e.Message = "request rejected"
		}
	}
	return e
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxRemoteMessage {
		return string(r[:maxRemoteMessage]) + "…"
	}
	return s
}
