package ws

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/origin"
)

var (
	// ErrSessionUnreachable is returned when a command cannot be handed to
	// the target session's emitter.
	ErrSessionUnreachable = errors.New("session unreachable")
	// ErrQueueOverflow marks a full per-connection queue.
	ErrQueueOverflow = errors.New("queue overflow")
	// ErrHandshakeTimeout is returned when a client does not say hello in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrHeartbeatTimeout is returned when a peer has been silent for two
	// heartbeat intervals.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrTooManyConnections is returned when the connection limit is reached.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrRateLimited is returned when a connection sends faster than allowed.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized is returned when a token is required and missing.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedMessage is returned for frames that cannot be understood.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrReplaced closes an emitter whose session got a newer emitter.
	ErrReplaced = errors.New("replaced by newer emitter")
)

// Wire error codes.
const (
	CodeSessionUnreachable = "SessionUnreachable"
	CodeQueueOverflow      = "QueueOverflow"
	CodeHandshakeTimeout   = "HandshakeTimeout"
	CodeHeartbeatTimeout   = "HeartbeatTimeout"
	CodeTooManyConnections = "TooManyConnections"
	CodeRateLimited        = "RateLimited"
	CodeUnauthorized       = "Unauthorized"
	CodeMalformedMessage   = "MalformedMessage"
	CodeMalformedSignal    = "MalformedSignal"
	CodeUnknownOrigin      = "UnknownOrigin"
	CodeReplaced           = "Replaced"
)

var errorCodes = []struct {
	err  error
	code string
}{
	// Order matters: unreachable wraps overflow for full emitter queues.
	{ErrSessionUnreachable, CodeSessionUnreachable},
	{ErrQueueOverflow, CodeQueueOverflow},
	{ErrHandshakeTimeout, CodeHandshakeTimeout},
	{ErrHeartbeatTimeout, CodeHeartbeatTimeout},
	{ErrTooManyConnections, CodeTooManyConnections},
	{ErrRateLimited, CodeRateLimited},
	{ErrUnauthorized, CodeUnauthorized},
	{classify.ErrMalformedSignal, CodeMalformedSignal},
	{origin.ErrUnknownOrigin, CodeUnknownOrigin},
	{ErrReplaced, CodeReplaced},
	{ErrMalformedMessage, CodeMalformedMessage},
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeMalformedMessage
}

// CodeError turns a wire code back into the matching sentinel so clients can
// use errors.Is.
func CodeError(code, message string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			if message == "" {
				return ec.err
			}
			return &remoteError{sentinel: ec.err, message: message}
		}
	}
	return errors.New(code + ": " + message)
}

type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.sentinel }

// isExpectedClose reports errors that are a normal end of a connection and
// not worth logging as failures.
func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, ErrReplaced)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
