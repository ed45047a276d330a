package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okdaichi/shadowsim/internal/event"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
	"github.com/okdaichi/shadowsim/internal/simtime"
	"github.com/okdaichi/shadowsim/internal/worker"
)

// Scenario 5: minTimeJump=1000ns, endTime=5000ns, one event at t=500 that
// schedules another at t=2000. Run terminates at clock=5000 after 5
// windows; the second event fires in window [2000,3000).
func TestScenario_WindowedRunToCompletion(t *testing.T) {
	var windowsSeen []simtime.Time

	host := shadowaddr.ID(1)
	handler := func(ctx context.Context, eng *Engine, hostID shadowaddr.ID, ev *event.Event, w *worker.State) error {
		windowsSeen = append(windowsSeen, eng.GetExecutionBarrier())
		if ev.FireTime == 500 {
			return eng.PushEvent(&event.Event{FireTime: 2000, DestinationHostID: host})
		}
		return nil
	}

	eng := New(Config{
		WorkerThreads: 2,
		MinTimeJump:   1000,
		EndTime:       5000,
	}, handler, nil)
	eng.RegisterHost(host)
	require.NoError(t, eng.PushEvent(&event.Event{FireTime: 500, DestinationHostID: host}))

	code := eng.Run(context.Background())
	require.Equal(t, 0, code)
	require.Equal(t, simtime.Time(5000), eng.Clock())
	require.Equal(t, Killed, eng.State())

	require.Len(t, windowsSeen, 2)
	require.Equal(t, simtime.Time(1000), windowsSeen[0]) // first event processed in [0,1000)
	require.Equal(t, simtime.Time(3000), windowsSeen[1]) // second event processed in [2000,3000)
}

func TestPushEvent_RejectsMinTimeJumpViolationWhileRunning(t *testing.T) {
	host := shadowaddr.ID(1)
	var violation error
	handler := func(ctx context.Context, eng *Engine, hostID shadowaddr.ID, ev *event.Event, w *worker.State) error {
		violation = eng.PushEvent(&event.Event{FireTime: ev.FireTime, DestinationHostID: host})
		return nil
	}

	eng := New(Config{WorkerThreads: 1, MinTimeJump: 1000, EndTime: 2000}, handler, nil)
	eng.RegisterHost(host)
	require.NoError(t, eng.PushEvent(&event.Event{FireTime: 0, DestinationHostID: host}))

	eng.Run(context.Background())
	require.Error(t, violation)
}

func TestRegistry_WorkerAndNodeIDsAreMonotonic(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, 1, r.GenerateWorkerID())
	require.Equal(t, 2, r.GenerateWorkerID())
	require.Equal(t, 1, r.GenerateNodeID())

	r.Put(NamespaceSoftware, 1, "handler-a")
	v, ok := r.Get(NamespaceSoftware, 1)
	require.True(t, ok)
	require.Equal(t, "handler-a", v)

	_, ok = r.Get(NamespaceCDFs, 99)
	require.False(t, ok)
}

func TestRun_NoEventsCompletesImmediately(t *testing.T) {
	eng := New(Config{WorkerThreads: 1, MinTimeJump: 100, EndTime: 1000}, nil, nil)
	code := eng.Run(context.Background())
	require.Equal(t, 0, code)
	require.Equal(t, Killed, eng.State())
}

func TestCurrentWindow_ReflectsLastExecutedWindow(t *testing.T) {
	host := shadowaddr.ID(1)
	var windows []simtime.Window
	handler := func(ctx context.Context, eng *Engine, hostID shadowaddr.ID, ev *event.Event, w *worker.State) error {
		windows = append(windows, eng.CurrentWindow())
		return nil
	}

	eng := New(Config{WorkerThreads: 1, MinTimeJump: 1000, EndTime: 2000}, handler, nil)
	eng.RegisterHost(host)
	require.NoError(t, eng.PushEvent(&event.Event{FireTime: 0, DestinationHostID: host}))

	eng.Run(context.Background())

	require.Len(t, windows, 1)
	require.Equal(t, simtime.Window{Start: 0, End: 1000}, windows[0])
	require.Equal(t, simtime.Duration(1000), windows[0].Len())
}
