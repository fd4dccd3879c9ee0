package call

import (
	"errors"
	"fmt"
)

var (
	ErrJoinRejected       = errors.New("server rejected join")
	ErrSignalingClosed    = errors.New("signaling connection closed")
	ErrSignalingError     = errors.New("signaling server error")
	ErrUnexpectedSignal   = errors.New("unexpected signal type")
	ErrUnknownPeer        = errors.New("unknown peer")
	ErrChannelNotOpen     = errors.New("channel not open")
	ErrUnknownMessageType = errors.New("unknown data channel message type")
	ErrEmptyChat          = errors.New("chat message is empty")
)

// CallError records the operation and peer a failure belongs to.
type CallError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *CallError {
	return &CallError{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
