package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// State is where a command is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateWaiting
	StateExecuting
	StateSucceeded
	StateFailed
	StateTimedOut
	StateInvalid
)

var stateNames = map[State]string{
	StatePending:   "PENDING",
	StateWaiting:   "WAITING",
	StateExecuting: "EXECUTING",
	StateSucceeded: "SUCCEEDED",
	StateFailed:    "FAILED",
	StateTimedOut:  "TIMED_OUT",
	StateInvalid:   "INVALID",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether s ends a run of the command.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// DefaultFailureMessage is reported when a command fails without saying why.
const DefaultFailureMessage = "failed"

// TimeoutMessage is reported for a command whose timeout fired first.
const TimeoutMessage = "timeout"

// Outcome is the terminal result of one run of a command.
type Outcome struct {
	Record   Record
	State    State
	Message  string
	Duration time.Duration
}

// Listener applies outcomes.
type Listener interface {
	OnOutcome(ctx context.Context, o Outcome) error
}

// Store is the command queue the engine consumes.
type Store interface {
	Next(ctx context.Context) (Record, bool, error)
	Save(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id int64) (bool, error)
}

// ErrNotTerminal is returned for an outcome whose state does not end a run.
var ErrNotTerminal = errors.New("command: outcome state is not terminal")

// DefaultMaxRetries caps how many failed runs a command gets.
const DefaultMaxRetries = 5

// QueueListener applies outcomes to the command queue: success and invalid
// commands are deleted; failures are retried until the retry count passes
// MaxRetries.
type QueueListener struct {
	Queue      Store
	MaxRetries int
}

func (l QueueListener) OnOutcome(ctx context.Context, o Outcome) error {
	if !o.State.Terminal() {
		return fmt.Errorf("%w: id=%d state=%s", ErrNotTerminal, o.Record.ID, o.State)
	}
	r := o.Record
	switch o.State {
	case StateFailed, StateTimedOut:
		r.Retries++
		limit := l.MaxRetries
		if limit <= 0 {
			limit = DefaultMaxRetries
		}
		if r.Retries > limit {
			logs.Warnf("command.QueueListener dropping id=%d kind=%s retries=%d", r.ID, r.Type, r.Retries)
			_, err := l.Queue.Delete(ctx, r.ID)
			return err
		}
		return l.Queue.Save(ctx, &r)
	default:
		_, err := l.Queue.Delete(ctx, r.ID)
		return err
	}
}

// finalizer records the first finish call of a run and wakes the waiter.
type finalizer struct {
	once  sync.Once
	done  chan struct{}
	state State
	msg   string
}

func newFinalizer() *finalizer {
	return &finalizer{done: make(chan struct{})}
}

// finish reports whether this call was the one that took effect.
func (f *finalizer) finish(state State, msg string) bool {
	if !f.claim(state, msg) {
		return false
	}
	f.release()
	return true
}

// claim fixes the outcome without waking the waiter, so the winner can run
// cleanup before release.
func (f *finalizer) claim(state State, msg string) bool {
	won := false
	f.once.Do(func() {
		if state != StateSucceeded && msg == "" {
			msg = DefaultFailureMessage
		}
		f.state = state
		f.msg = msg
		won = true
	})
	return won
}

func (f *finalizer) release() {
	close(f.done)
}

func (f *finalizer) result() (State, string) {
	<-f.done
	return f.state, f.msg
}
