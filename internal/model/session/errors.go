package session

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies errors surfaced to the user.
type Kind string

const (
	KindPermission Kind = "permission"
	KindConnection Kind = "connection"
	KindProtocol   Kind = "protocol"
	KindRemote     Kind = "remote"
	KindPlayback   Kind = "playback"
)

var (
	ErrPermission = errors.New("capability permission denied")
	ErrConnection = errors.New("connection unavailable")
	ErrProtocol   = errors.New("protocol violation")
	ErrRemote     = errors.New("remote service error")
	ErrPlayback   = errors.New("playback failed")
)

var sentinels = map[Kind]error{
	KindPermission: ErrPermission,
	KindConnection: ErrConnection,
	KindProtocol:   ErrProtocol,
	KindRemote:     ErrRemote,
	KindPlayback:   ErrPlayback,
}

// Error carries the kind of a session failure and the operation that hit it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err as a session error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, sentinels[e.Kind])
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf extracts the kind of err, reporting false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var sessionErr *Error
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind, true
	}
	return "", false
}

// Notice is a user-visible report of a surfaced error. None of them end the session.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NoticeFrom converts an error into a notice; foreign errors are reported as connection errors.
func NoticeFrom(err error, at time.Time) Notice {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindConnection
	}

	message := err.Error()
	var sessionErr *Error
	if kind == KindRemote && errors.As(err, &sessionErr) && sessionErr.Err != nil {
		// remote messages are shown verbatim
		message = sessionErr.Err.Error()
	}
	return Notice{Kind: kind, Message: message, At: at}
}
