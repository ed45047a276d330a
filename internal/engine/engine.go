// Package engine implements the Simulation Engine: windowed discrete-event
// advancement, the worker barrier, the global object Registry, and the
// Initialized -> Running -> Draining -> Killed lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okdaichi/shadowsim/internal/event"
	"github.com/okdaichi/shadowsim/internal/observability"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
	"github.com/okdaichi/shadowsim/internal/simtime"
	"github.com/okdaichi/shadowsim/internal/worker"
)

var metricsRecorder = observability.NewRecorder("engine")

// HostHandler processes one due event for a host. It may call
// Engine.PushEvent to emit follow-up events, which must satisfy the
// minTimeJump constraint enforced by PushEvent itself. w is the dispatching
// worker's private scratch state.
type HostHandler func(ctx context.Context, eng *Engine, hostID shadowaddr.ID, ev *event.Event, w *worker.State) error

// Engine is the windowed discrete-event scheduler. Construct with New,
// attach host queues with RegisterHost, seed initial events with
// PushEvent before calling Run, then call Run once.
type Engine struct {
	cfg Config

	clock              atomic.Int64 // simtime.Time
	executeWindowStart atomic.Int64 // simtime.Time
	executeWindowEnd   atomic.Int64 // simtime.Time

	state              atomic.Int32 // State
	killed             atomic.Bool
	forceShadowContext atomic.Bool

	registry *Registry
	pool     *worker.Pool
	seq      event.SequenceSource

	hostsMu    sync.RWMutex
	hostQueues map[shadowaddr.ID]*event.Queue
	hostOrder  []shadowaddr.ID // stable dispatch order
	globalQ    *event.Queue

	handler HostHandler

	log *slog.Logger

	startedAt time.Time
	runtime   time.Duration
}

// New constructs an Engine in the Initialized state. handler processes due
// events; it is the out-of-scope "per-host application code" collaborator's
// contract, supplied by the caller (typically cmd/shadowsim-run).
func New(cfg Config, handler HostHandler, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:        cfg,
		registry:   NewRegistry(),
		pool:       worker.NewPool(cfg.WorkerThreads),
		hostQueues: make(map[shadowaddr.ID]*event.Queue),
		globalQ:    event.NewQueue(),
		handler:    handler,
		log:        log,
	}
	e.pool.OnAllProcessed = func() {
		e.log.Debug("engine: window barrier satisfied", "clock", e.Clock())
	}
	return e
}

// Registry exposes the Engine's global object store.
func (e *Engine) Registry() *Registry { return e.registry }

// State reports the Engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsKilled reports whether the Engine has been killed (by a DispatchError
// or by running to completion and tearing down).
func (e *Engine) IsKilled() bool { return e.killed.Load() }

// Clock returns the current simulated time.
func (e *Engine) Clock() simtime.Time { return simtime.Time(e.clock.Load()) }

// GetMinTimeJump returns the configured window length.
func (e *Engine) GetMinTimeJump() simtime.Duration { return e.cfg.MinTimeJump }

// GetExecutionBarrier returns the current window's end (executeWindowEnd).
func (e *Engine) GetExecutionBarrier() simtime.Time {
	return simtime.Time(e.executeWindowEnd.Load())
}

// CurrentWindow returns the half-open [executeWindowStart, executeWindowEnd)
// interval the Engine is presently executing. Between windows, Start has
// already advanced to the finished window's End, so the result is the empty
// interval [End, End).
func (e *Engine) CurrentWindow() simtime.Window {
	return simtime.Window{
		Start: simtime.Time(e.executeWindowStart.Load()),
		End:   simtime.Time(e.executeWindowEnd.Load()),
	}
}

// Runtime reports accumulated wall-clock runtime, recovered from the
// original's GTimer* runTimer. Only meaningful after Run returns.
func (e *Engine) Runtime() time.Duration { return e.runtime }

// RegisterHost attaches a per-host event queue. Call before Run.
func (e *Engine) RegisterHost(id shadowaddr.ID) {
	e.hostsMu.Lock()
	defer e.hostsMu.Unlock()
	if _, ok := e.hostQueues[id]; ok {
		return
	}
	e.hostQueues[id] = event.NewQueue()
	e.hostOrder = append(e.hostOrder, id)
}

func (e *Engine) hostQueue(id shadowaddr.ID) *event.Queue {
	e.hostsMu.RLock()
	defer e.hostsMu.RUnlock()
	return e.hostQueues[id]
}

// PushEvent enqueues ev to its destination host's queue (or the global
// queue, if DestinationHostID names no registered host). While the Engine
// is Running, ev.FireTime must be no earlier than the current window's end
// — the minTimeJump invariant — violating it is a programming error in the
// emitting handler, not a recoverable runtime condition.
func (e *Engine) PushEvent(ev *event.Event) error {
	if e.State() == Running {
		windowEnd := simtime.Time(e.executeWindowEnd.Load())
		if ev.FireTime < windowEnd {
			return fmt.Errorf("engine: event for host %v fires at %v, before window end %v (minTimeJump violation)", ev.DestinationHostID, ev.FireTime, windowEnd)
		}
	}
	if ev.SequenceTag == 0 {
		ev.SequenceTag = e.seq.Next()
	}

	if q := e.hostQueue(ev.DestinationHostID); q != nil {
		q.Push(ev)
		return nil
	}
	e.globalQ.Push(ev)
	return nil
}

// Put stores item under (namespace, id) in the Registry.
func (e *Engine) Put(ns Namespace, id int, item any) { e.registry.Put(ns, id, item) }

// Get retrieves the entry at (namespace, id) from the Registry.
func (e *Engine) Get(ns Namespace, id int) (any, bool) { return e.registry.Get(ns, id) }

// GenerateWorkerID delegates to the Registry's monotonic worker counter.
func (e *Engine) GenerateWorkerID() int { return e.registry.GenerateWorkerID() }

// GenerateNodeID delegates to the Registry's monotonic object counter.
func (e *Engine) GenerateNodeID() int { return e.registry.GenerateNodeID() }

func (e *Engine) totalQueuedEvents() int {
	e.hostsMu.RLock()
	defer e.hostsMu.RUnlock()
	n := e.globalQ.Len()
	for _, q := range e.hostQueues {
		n += q.Len()
	}
	return n
}

// Run advances simulated time in windows of length GetMinTimeJump until the
// clock reaches EndTime (or returns at once if no event is queued when Run
// starts; queues emptying later do not end the run), dispatching due events to the
// worker pool each window and blocking on the pool's barrier between
// windows. It returns 0 on normal completion, nonzero if a worker failed
// abnormally (DispatchError).
func (e *Engine) Run(ctx context.Context) int {
	if !e.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		e.log.Error("engine: run called from non-Initialized state", "state", e.State())
		return 1
	}
	e.startedAt = time.Now()
	observability.IncEnginesRunning()
	defer observability.DecEnginesRunning()

	exitCode := 0

	// A run that never had any event to begin with has nothing to drain;
	// otherwise the clock always advances window-by-window to EndTime
	// regardless of whether the queues empty out partway through, since a
	// future window's dispatch is never ruled out by an instantaneously
	// empty queue (a handler earlier in the run may yet schedule more).
	if e.totalQueuedEvents() == 0 {
		goto teardown
	}

runLoop:
	for {
		start := simtime.Time(e.executeWindowStart.Load())
		if start >= e.cfg.EndTime {
			break runLoop
		}
		end := start.Add(e.cfg.MinTimeJump)
		if end > e.cfg.EndTime {
			end = e.cfg.EndTime
		}
		window := simtime.Window{Start: start, End: end}
		e.executeWindowEnd.Store(int64(window.End))
		e.log.Debug("engine: opening window", "start", window.Start, "end", window.End, "len", window.Len())

		tasks := e.collectDueTasks(window)
		metricsRecorder.SetLiveHosts(len(tasks))
		if len(tasks) > 0 {
			windowStarted := time.Now()
			err := e.pool.RunWindow(ctx, tasks)
			metricsRecorder.WindowAdvanced(time.Since(windowStarted))
			if err != nil {
				e.log.Error("engine: window dispatch failed", "err", err)
				e.killed.Store(true)
				exitCode = 1
				break runLoop
			}
		}

		e.clock.Store(int64(window.End))
		e.executeWindowStart.Store(int64(window.End))

		if window.End >= e.cfg.EndTime {
			break runLoop
		}
		select {
		case <-ctx.Done():
			e.killed.Store(true)
			exitCode = 1
			break runLoop
		default:
		}
	}

teardown:
	e.state.Store(int32(Draining))
	e.forceShadowContext.Store(true)
	e.state.Store(int32(Killed))
	e.killed.Store(true)
	e.runtime = time.Since(e.startedAt)

	return exitCode
}

// collectDueTasks builds one worker.HostTask per host with at least one
// event due inside window, in stable registration order. A due event is one
// whose FireTime falls in window's half-open [Start, End) interval — in
// practice the same as FireTime < window.End, since a host's own prior
// windows have already drained anything below window.Start.
func (e *Engine) collectDueTasks(window simtime.Window) []worker.HostTask {
	e.hostsMu.RLock()
	order := make([]shadowaddr.ID, len(e.hostOrder))
	copy(order, e.hostOrder)
	e.hostsMu.RUnlock()

	var tasks []worker.HostTask
	for _, hostID := range order {
		q := e.hostQueue(hostID)
		if q == nil {
			continue
		}
		peek, ok := q.Peek()
		if !ok || !window.Contains(peek.FireTime) {
			continue
		}
		hostID := hostID
		tasks = append(tasks, worker.HostTask{
			HostID: hostID,
			Process: func(ctx context.Context, w *worker.State) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = &DispatchError{HostID: hostID, Err: fmt.Errorf("handler panic: %v", r)}
					}
				}()
				due := q.DrainDue(window.End)
				for _, ev := range due {
					if e.handler == nil {
						continue
					}
					if err := e.handler(ctx, e, hostID, ev, w); err != nil {
						return &DispatchError{HostID: hostID, Err: err}
					}
				}
				return nil
			},
		})
	}
	return tasks
}
