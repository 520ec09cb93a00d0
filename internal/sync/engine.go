// Package sync provides the synchronization engine between the local store
// and the remote sync service: a debounced push-then-pull cycle that
// tolerates intermittent connectivity and concurrent edits across devices.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sproutlabs/sproutsync/internal/logger"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// Status is the engine's externally observable state.
type Status string

const (
	// StatusIdle means no cycle is running and the last one succeeded.
	StatusIdle Status = "idle"
	// StatusSyncing means a push-then-pull cycle is in flight.
	StatusSyncing Status = "syncing"
	// StatusError means the last cycle aborted on a full-cycle fault.
	// Per-record failures do not put the engine here; they live on the
	// records' own sync_status.
	StatusError Status = "error"
)

// RemoteService is the abstract remote contract the engine consumes. It is
// satisfied by *remote.Client.
type RemoteService interface {
	UpsertChild(ctx context.Context, child remote.Child) error
	UpsertEvent(ctx context.Context, event remote.Event) error
	FetchChildrenSince(ctx context.Context, since *string) ([]remote.Child, error)
	FetchEventsSince(ctx context.Context, since *string) ([]remote.Event, error)
}

const (
	defaultDebounce    = 500 * time.Millisecond
	defaultCallTimeout = 15 * time.Second
)

// Engine coordinates push-then-pull cycles against the remote service.
// Construct one per process and pass it by reference; there is no hidden
// package-level instance.
type Engine struct {
	store       *store.DB
	remote      RemoteService
	debounce    time.Duration
	callTimeout time.Duration

	mu            gosync.Mutex
	status        Status
	authenticated bool
	timer         *time.Timer
	subs          map[int]func(Status)
	nextSub       int
}

// NewEngine creates a sync engine. A zero debounce or callTimeout selects
// the default (500ms debounce, 15s per remote call).
func NewEngine(db *store.DB, svc RemoteService, debounce, callTimeout time.Duration) *Engine {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &Engine{
		store:       db,
		remote:      svc,
		debounce:    debounce,
		callTimeout: callTimeout,
		status:      StatusIdle,
		subs:        make(map[int]func(Status)),
	}
}

// Status returns the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe registers a listener that receives every state transition.
// The returned function removes the listener.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// SetAuthenticated gates the engine on the session signal. Becoming
// authenticated triggers a cycle immediately; becoming unauthenticated
// suppresses all triggers until re-authenticated. Already-synced data is
// left untouched.
func (e *Engine) SetAuthenticated(authenticated bool) {
	e.mu.Lock()
	e.authenticated = authenticated
	if !authenticated && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	if authenticated {
		go e.Run(context.Background())
	}
}

// Nudge schedules a debounced sync cycle. Rapid nudges collapse into a
// single cycle a short fixed delay after the last one: each call replaces
// any pending timer, so at most one timer is ever in flight.
func (e *Engine) Nudge() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authenticated {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}

	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		e.timer = nil
		e.mu.Unlock()
		e.Run(context.Background())
	})

	logger.Debug("sync: debounce timer started/reset (%s)", e.debounce)
}

// Run executes one push-then-pull cycle. A trigger while a cycle is already
// running, or while unauthenticated, is a no-op. The cycle's error is
// reflected in the engine status and returned for callers that want it;
// per-record failures are persisted on the records themselves and never
// surface here.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if !e.authenticated || e.status == StatusSyncing {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusSyncing
	fns := e.listenersLocked()
	e.mu.Unlock()
	notify(fns, StatusSyncing)

	err := e.push(ctx)
	if err == nil {
		err = e.pull(ctx)
	}

	final := StatusIdle
	if err != nil {
		logger.Error("sync: cycle failed: %v", err)
		final = StatusError
	}

	e.mu.Lock()
	e.status = final
	fns = e.listenersLocked()
	e.mu.Unlock()
	notify(fns, final)

	return err
}

// Stop cancels any pending debounce timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	logger.Debug("sync: engine stopped")
}

// listenersLocked snapshots the subscriber set. Callers hold e.mu; the
// snapshot is invoked after the lock is released so listeners may re-enter
// the engine without deadlocking.
func (e *Engine) listenersLocked() []func(Status) {
	fns := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(Status), status Status) {
	for _, fn := range fns {
		fn(status)
	}
}
