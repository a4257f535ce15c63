// Package watcher polls a contract for named events behind a finality cutoff
// and hands every event to its listeners exactly once per namespace.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/devblac/event-watcher/internal/event"
	"github.com/devblac/event-watcher/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrChainUnreachable is returned by RunOnce when the node does not answer.
var ErrChainUnreachable = errors.New("chain unreachable")

// ListenerError records a listener that failed or panicked. It is logged and
// never stops delivery to the remaining listeners.
type ListenerError struct {
	Event string
	Index int
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d for %s: %v", e.Index, e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// ChainClient is the chain capability the watcher needs.
type ChainClient interface {
	Connected(ctx context.Context) bool
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	GetPastEvents(ctx context.Context, eventName string, from, to uint64) ([]event.RawEvent, error)
	HasAddress() bool
	Address() string
}

// Store is the sync state the watcher reads and advances.
type Store interface {
	GetLastLoggedEventBlock(ctx context.Context, eventName string) (int64, error)
	SetLastLoggedEventBlock(ctx context.Context, eventName string, block int64) error
	GetLastSyncedBlock(ctx context.Context) (int64, error)
	SetLastSyncedBlock(ctx context.Context, block int64) error
	AddEvents(ctx context.Context, events []event.Event) error
	HasEvent(ctx context.Context, ev event.Event) (bool, error)
}

// State is the lifecycle state of a Watcher.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultFinalityDepth = 12
	DefaultPollInterval  = 15 * time.Second
)

// Options tunes the polling loop.
type Options struct {
	FinalityDepth uint64
	PollInterval  time.Duration
	// Manual keeps Subscribe from starting the loop; the caller drives it
	// with Start or RunOnce.
	Manual bool
}

// Watcher owns one polling loop over one contract.
type Watcher struct {
	chain   ChainClient
	store   Store
	reg     *Registry
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New wires a watcher. metrics may be nil.
func New(chain ChainClient, store Store, opts Options, log *slog.Logger, m *metrics.Metrics) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		chain:   chain,
		store:   store,
		reg:     NewRegistry(),
		opts:    opts,
		log:     log,
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Registry exposes the subscription registry.
func (w *Watcher) Registry() *Registry { return w.reg }

// Subscribe registers fn for eventName and starts the loop if it is idle.
func (w *Watcher) Subscribe(eventName string, fn Listener) SubscriptionID {
	id := w.reg.Add(eventName, fn)
	w.log.Info("subscribed", "event", eventName, "id", id)
	if !w.opts.Manual {
		w.Start(context.Background())
	}
	return id
}

// Unsubscribe removes one listener. The loop keeps running; an event without
// listeners is simply no longer checked and its cursor stays where it is.
func (w *Watcher) Unsubscribe(eventName string, id SubscriptionID) bool {
	ok := w.reg.Remove(eventName, id)
	if ok {
		w.log.Info("unsubscribed", "event", eventName, "id", id, "active", w.reg.IsActive(eventName))
	}
	return ok
}

// Start launches the loop. Only the first call from the idle state has an
// effect. Cancelling ctx stops the loop like Stop does.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle {
		return
	}
	w.state = StateRunning
	go w.loop(ctx)
}

// Stop requests the loop to end after the current cycle. Stopped is terminal.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateIdle:
		w.state = StateStopped
		close(w.done)
	case StateRunning:
		w.stopOnce.Do(func() { close(w.stop) })
	}
}

// Done is closed once the watcher is stopped and no cycle is in flight.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		close(w.done)
	}()

	cycleCtx := context.WithoutCancel(ctx)
	w.log.Info("watcher started", "finality_depth", w.opts.FinalityDepth, "poll_interval", w.opts.PollInterval)
	for {
		if w.stopRequested(ctx) {
			w.log.Info("watcher stopped")
			return
		}
		if err := w.RunOnce(cycleCtx); err != nil && !errors.Is(err, ErrChainUnreachable) {
			w.log.Error("cycle failed", "error", err)
			w.metrics.Errors()
		}

		timer := time.NewTimer(w.opts.PollInterval)
		select {
		case <-timer.C:
		case <-w.stop:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func (w *Watcher) stopRequested(ctx context.Context) bool {
	select {
	case <-w.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Cutoff is the highest block considered final at height.
func Cutoff(height, finalityDepth uint64) uint64 {
	if height < finalityDepth {
		return 0
	}
	return height - finalityDepth
}

// RunOnce performs a single polling cycle.
func (w *Watcher) RunOnce(ctx context.Context) error {
	if !w.chain.Connected(ctx) {
		w.log.Warn("chain node unreachable, skipping cycle")
		w.metrics.ChainUnreachable()
		return ErrChainUnreachable
	}
	if !w.chain.HasAddress() {
		w.log.Debug("contract address not known yet, skipping cycle")
		return nil
	}

	height, err := w.chain.CurrentBlockNumber(ctx)
	if err != nil {
		return err
	}
	cutoff := Cutoff(height, w.opts.FinalityDepth)
	w.metrics.Cutoff(int64(cutoff))

	var g errgroup.Group
	for _, name := range w.reg.Active() {
		g.Go(func() error {
			return w.checkEvent(ctx, name, cutoff)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	last, err := w.store.GetLastSyncedBlock(ctx)
	if err != nil {
		return err
	}
	if int64(cutoff) > last {
		if err := w.store.SetLastSyncedBlock(ctx, int64(cutoff)); err != nil {
			return err
		}
	}
	w.metrics.Cycle()
	return nil
}

func (w *Watcher) checkEvent(ctx context.Context, name string, cutoff uint64) error {
	last, err := w.store.GetLastLoggedEventBlock(ctx, name)
	if err != nil {
		return fmt.Errorf("%s cursor: %w", name, err)
	}
	first := last + 1
	if first > int64(cutoff) {
		return nil
	}

	raws, err := w.chain.GetPastEvents(ctx, name, uint64(first), cutoff)
	if err != nil {
		return fmt.Errorf("%s past events [%d,%d]: %w", name, first, cutoff, err)
	}

	batch := make([]event.Event, 0, len(raws))
	inBatch := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		ev, err := event.Canonicalize(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := inBatch[ev.Hash]; dup {
			continue
		}
		inBatch[ev.Hash] = struct{}{}
		seen, err := w.store.HasEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("%s seen check: %w", name, err)
		}
		if !seen {
			batch = append(batch, ev)
		}
	}

	if len(batch) > 0 {
		// A crash between here and the listeners loses the batch rather than
		// delivering it twice.
		if err := w.store.AddEvents(ctx, batch); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		w.dispatch(ctx, name, batch)
		w.metrics.EventsDelivered(name, len(batch))
	}

	if err := w.store.SetLastLoggedEventBlock(ctx, name, int64(cutoff)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	w.metrics.Cursor(name, int64(cutoff))
	w.log.Debug("event checked", "event", name, "from", first, "to", cutoff, "new", len(batch))
	return nil
}

func (w *Watcher) dispatch(ctx context.Context, name string, batch []event.Event) {
	for i, fn := range w.reg.Listeners(name) {
		if err := invoke(ctx, fn, slices.Clone(batch)); err != nil {
			lerr := &ListenerError{Event: name, Index: i, Err: err}
			w.log.Error("listener failed", "event", name, "error", lerr)
			w.metrics.ListenerError(name)
		}
	}
}

func invoke(ctx context.Context, fn Listener, batch []event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, batch)
}
