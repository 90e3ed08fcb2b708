// Package command runs remote commands one at a time: each waits for its
// device preconditions, then executes under an optional timeout, and its
// outcome decides whether it is deleted or retried.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
)

// Conditions is the live device context commands wait on.
type Conditions interface {
	IgnitionOn() bool
	NetworkConnected() bool
}

type EngineConfig struct {
	PollInterval time.Duration
	MaxRetries   int
	Listener     Listener
}

const DefaultPollInterval = time.Second

// Snapshot is the engine's view of the active command.
type Snapshot struct {
	Record Record
	State  State
	Since  time.Time
}

// Engine consumes the command queue. At most one command is active.
type Engine struct {
	queue    Store
	cond     Conditions
	build    Builder
	listener Listener
	poll     time.Duration

	notify chan struct{}

	mu     sync.Mutex
	active *Snapshot
}

func NewEngine(q Store, cond Conditions, build Builder, cfg EngineConfig) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Listener == nil {
		cfg.Listener = QueueListener{Queue: q, MaxRetries: cfg.MaxRetries}
	}
	return &Engine{
		queue:    q,
		cond:     cond,
		build:    build,
		listener: cfg.Listener,
		poll:     cfg.PollInterval,
		notify:   make(chan struct{}, 1),
	}
}

// Notify wakes the engine: a command was queued or the device context
// changed.
func (e *Engine) Notify() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Active returns the command currently being handled.
func (e *Engine) Active() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return Snapshot{}, false
	}
	return *e.active, true
}

func (e *Engine) setActive(r Record, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = &Snapshot{Record: r, State: s, Since: time.Now()}
}

func (e *Engine) clearActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = nil
}

// Run handles queued commands until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	logs.Infof("command.Engine.Run start poll=%s", e.poll)
	for {
		o, ok, err := e.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logs.Errf("command.Engine.Run err=%v", err)
		}
		if ok && (o.State == StateSucceeded || o.State == StateInvalid) {
			continue
		}
		if err := e.wait(ctx); err != nil {
			return err
		}
	}
}

// RunOnce handles the oldest queued command, if any, to its outcome. It
// reports false when the queue was empty. A canceled ctx leaves the
// command queued.
func (e *Engine) RunOnce(ctx context.Context) (Outcome, bool, error) {
	rec, ok, err := e.queue.Next(ctx)
	if err != nil || !ok {
		return Outcome{}, false, err
	}
	defer e.clearActive()
	e.setActive(rec, StatePending)
	start := time.Now()

	exec, err := e.build.Build(rec)
	if err != nil {
		logs.Warnf("command.Engine.RunOnce invalid id=%d kind=%q err=%v", rec.ID, rec.Type, err)
		o := Outcome{Record: rec, State: StateInvalid, Message: err.Error()}
		return o, true, e.apply(ctx, o)
	}
	policy := exec.Policy()

	e.setActive(rec, StateWaiting)
	logs.Debugf("command.Engine.RunOnce waiting id=%d kind=%s ignition=%s network=%t", rec.ID, rec.Type, policy.Ignition, policy.RequireNetwork)
	if err := e.awaitPreconditions(ctx, policy); err != nil {
		return Outcome{}, false, err
	}

	e.setActive(rec, StateExecuting)
	logs.Infof("command.Engine.RunOnce executing id=%d kind=%s params=%q", rec.ID, rec.Type, rec.Parameters)
	state, msg, err := e.execute(ctx, exec, policy)
	if err != nil {
		return Outcome{}, false, err
	}
	o := Outcome{Record: rec, State: state, Message: msg, Duration: time.Since(start)}
	return o, true, e.apply(ctx, o)
}

func (e *Engine) execute(ctx context.Context, exec Executor, policy Policy) (State, string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := newFinalizer()
	if policy.Timeout > 0 {
		timer := time.AfterFunc(policy.Timeout, func() {
			if f.claim(StateTimedOut, TimeoutMessage) {
				exec.HandleTimeout()
				f.release()
			}
		})
		defer timer.Stop()
	}
	go exec.Execute(runCtx, func(ok bool, msg string) {
		if ok {
			f.finish(StateSucceeded, msg)
			return
		}
		f.finish(StateFailed, msg)
	})

	select {
	case <-f.done:
		state, msg := f.result()
		return state, msg, nil
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}
}

func (e *Engine) apply(ctx context.Context, o Outcome) error {
	e.setActive(o.Record, o.State)
	observability.RecordCommand(o.Record.Type, o.State.String(), o.Duration)
	if o.State == StateSucceeded {
		logs.Infof("command.Engine finished id=%d kind=%s state=%s", o.Record.ID, o.Record.Type, o.State)
	} else {
		logs.Warnf("command.Engine finished id=%d kind=%s state=%s msg=%q", o.Record.ID, o.Record.Type, o.State, o.Message)
	}
	if err := e.listener.OnOutcome(ctx, o); err != nil {
		return fmt.Errorf("command: apply outcome id=%d: %w", o.Record.ID, err)
	}
	return nil
}

// awaitPreconditions blocks until policy is satisfied, checking on every
// poll tick and every Notify. It is not bounded by the command timeout.
func (e *Engine) awaitPreconditions(ctx context.Context, policy Policy) error {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for !policy.Satisfied(e.cond.IgnitionOn(), e.cond.NetworkConnected()) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.notify:
		}
	}
	return nil
}

func (e *Engine) wait(ctx context.Context) error {
	t := time.NewTimer(e.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	case <-e.notify:
	}
	return nil
}
