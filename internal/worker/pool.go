// Package worker implements the Engine's worker pool: a fixed number of
// cooperating workers that drain per-host event queues within a window and
// signal the Engine once every dispatched host has finished.
//
// The original scheduler used a hand-rolled condition variable guarded by
// an "engineIdle" mutex and a volatile nNodesToProcess counter. Here
// golang.org/x/sync/errgroup supplies the barrier directly — the Engine's
// wait on "all workers idle" is simply g.Wait() — while nNodesToProcess
// survives as a real atomic.Int64, decremented with Add(-1) and compared
// against the post-decrement value (never a separate read then write), kept
// for observability and test parity with the documented barrier protocol.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/okdaichi/shadowsim/internal/shadowaddr"
)

// State is a worker's private per-goroutine scratch space: a stable numeric
// ID and a reusable buffer, reassigned to a new host task every window
// instead of being allocated fresh each time.
type State struct {
	ID      int
	Scratch []byte
}

// HostTask is one host's unit of work for the current window. Process runs
// on a pool worker and may return an error to abort the whole window
// (surfaced as a DispatchError by the Engine).
type HostTask struct {
	HostID  shadowaddr.ID
	Process func(ctx context.Context, w *State) error
}

// Pool runs HostTasks across a fixed number of worker slots, one window at a
// time. It is not torn down between windows; the same State slice is reused.
type Pool struct {
	states []State
	slots  chan int // exclusive state indices on loan to in-flight tasks

	nNodesToProcess atomic.Int64

	// OnAllProcessed, if set, is invoked exactly once per window by
	// whichever worker's decrement makes nNodesToProcess reach zero.
	OnAllProcessed func()
}

// NewPool constructs a pool with the given number of worker slots.
func NewPool(workerThreads int) *Pool {
	if workerThreads < 1 {
		workerThreads = 1
	}
	states := make([]State, workerThreads)
	slots := make(chan int, workerThreads)
	for i := range states {
		states[i].ID = i
		slots <- i
	}
	return &Pool{states: states, slots: slots}
}

// Threads reports the configured worker count.
func (p *Pool) Threads() int {
	return len(p.states)
}

// NodesRemaining reports the current nNodesToProcess value. Only meaningful
// while a RunWindow call is in flight; zero between windows.
func (p *Pool) NodesRemaining() int64 {
	return p.nNodesToProcess.Load()
}

// RunWindow dispatches one task per host, bounded to Threads() concurrent
// workers via errgroup.SetLimit, and blocks until every task has returned.
// Cancelling ctx, or a task error, cancels the context handed to the tasks
// but does not cut the wait short. This call itself is the barrier the
// Engine waits on between windows.
//
// The slots channel, buffered to exactly Threads(), is the exclusivity
// guarantee: a goroutine must receive a slot index before touching
// p.states[slot] and returns it via a deferred send the instant it's done,
// so no two concurrently running tasks ever observe the same *State — a
// round-robin counter mod Threads() cannot promise that, since a slow task
// can still be holding slot K when the counter wraps back onto K.
func (p *Pool) RunWindow(ctx context.Context, tasks []HostTask) error {
	p.nNodesToProcess.Store(int64(len(tasks)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Threads())

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			slot := <-p.slots
			defer func() { p.slots <- slot }()
			state := &p.states[slot]

			err := task.Process(gctx, state)

			remaining := p.nNodesToProcess.Add(-1)
			if remaining < 0 {
				return fmt.Errorf("worker: nNodesToProcess went negative processing host %v", task.HostID)
			}
			if remaining == 0 && p.OnAllProcessed != nil {
				p.OnAllProcessed()
			}
			return err
		})
	}

	return g.Wait()
}
