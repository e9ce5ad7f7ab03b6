// Package reply implements the single-use correlation token that ties an inbound
// XML-RPC request to the event that will eventually answer it.
//
// The server creates one Token per request and hands it to the listening node,
// which forwards it inside a message. Whichever node finally calls Send resolves
// the request. A Token resolves at most once:
//
//	pending ──Send──────► sent       (caller receives result or fault)
//	   │
//	   ├──deadline──────► expired    (caller receives ErrExpired as a fault)
//	   │
//	   └──Abandon───────► abandoned  (caller went away, nothing is written)
//
// Send on an expired or abandoned token consumes it silently; any further Send
// reports ErrAlreadySent.
package reply

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	// ErrAlreadySent is returned by Send when the token was already consumed.
	ErrAlreadySent = errors.ConstError("response already sent")

	// ErrExpired is the outcome of a token whose deadline passed before Send.
	ErrExpired = errors.ConstError("response deadline expired")
)

// State is the lifecycle state of a Token.
type State int

const (
	StatePending State = iota
	StateSent
	StateExpired
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateExpired:
		return "expired"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Config holds the parameters of a new Token.
type Config struct {
	// Method is the XML-RPC method name the token answers.
	Method string

	// Timeout bounds how long the token waits for Send. Zero disables it.
	Timeout time.Duration

	// Clock drives the deadline. Defaults to the wall clock.
	Clock clock.Clock
}

// Token is a PendingResponse: it is resolved exactly once with (error, result).
type Token struct {
	id     string
	method string

	mu       sync.Mutex
	state    State
	consumed bool // Send was called after expiry/abandon
	result   any
	err      error
	timer    clock.Timer
	done     chan struct{}
}

// New creates a pending token and starts its deadline, if any.
func New(cfg Config) *Token {
	t := &Token{
		id:     uuid.NewString(),
		method: cfg.Method,
		done:   make(chan struct{}),
	}
	if cfg.Timeout > 0 {
		clk := cfg.Clock
		if clk == nil {
			clk = clock.WallClock
		}
		t.timer = clk.AfterFunc(cfg.Timeout, t.expire)
	}
	return t
}

// ID returns the unique identifier of the token.
func (t *Token) ID() string {
	return t.id
}

// Method returns the method name of the request the token answers.
func (t *Token) Method() string {
	return t.method
}

// Send resolves the token. err, when non-nil, is delivered to the caller as a
// fault; otherwise result is delivered as the method response.
func (t *Token) Send(err error, result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StatePending:
	case StateExpired:
		if t.consumed {
			return ErrAlreadySent
		}
		t.consumed = true
		return ErrExpired
	case StateAbandoned:
		if t.consumed {
			return ErrAlreadySent
		}
		t.consumed = true
		return nil
	default:
		return ErrAlreadySent
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.state = StateSent
	t.result = result
	t.err = err
	close(t.done)
	return nil
}

// Abandon marks the token as no longer awaited by the caller. It is a no-op
// if the token already left the pending state.
func (t *Token) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.state = StateAbandoned
	close(t.done)
}

func (t *Token) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return
	}
	t.state = StateExpired
	t.err = ErrExpired
	close(t.done)
}

// Done is closed when the token leaves the pending state.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// State returns the current state.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the outcome once Done is closed: the value passed to Send and
// the error passed to Send, or ErrExpired.
func (t *Token) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}
