package kohzu

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-kohzu/comm"
	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
)

// testRig wires a MotorController to a mock transport for in-memory protocol tests.
type testRig struct {
	transport  *comm.MockTransport
	writer     *comm.Writer
	dispatcher *Dispatcher
	controller *MotorController
}

func newTestRig(t *testing.T) *testRig {
	return newTestRigWithLogger(t, logger.GetLogger())
}

func newTestRigWithLogger(t *testing.T, l logger.Logger) *testRig {
	t.Helper()

	ctx := context.Background()

	transport := comm.NewMockTransport()
	require.NoError(t, transport.Connect(ctx, "127.0.0.1", 12321))

	dispatcher, err := NewDispatcher(ctx, l, 2)
	require.NoError(t, err)

	writer := comm.NewWriter(ctx, transport, 16, l)
	controller := NewMotorController(ctx, transport, writer, dispatcher, DefaultMovementCommands(), false, l)

	require.NoError(t, controller.Start())

	t.Cleanup(func() {
		controller.Stop()
		dispatcher.Close()
	})

	return &testRig{
		transport:  transport,
		writer:     writer,
		dispatcher: dispatcher,
		controller: controller,
	}
}

// reflectDevice scripts the mock device: for every outbound line whose prefix matches,
// the mapped reply lines are injected back.
func (r *testRig) reflectDevice(replies map[string][]string) {
	r.transport.SetSendHook(func(line string) {
		for prefix, lines := range replies {
			if strings.HasPrefix(line, prefix) {
				for _, reply := range lines {
					r.transport.InjectLine(reply)
				}
				return
			}
		}
	})
}

func TestControllerSendSync(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)
	rig.reflectDevice(map[string][]string{
		"RDP\t9": {"C\tRDP9\t7"},
	})

	reply, err := rig.controller.SendSync("RDP", []string{"9"}, time.Second)
	require.NoError(err)
	require.Equal("RDP", reply.Cmd)
	require.Equal("9", reply.Axis)
	require.Equal([]string{"7"}, reply.Params)
}

func TestControllerInterleavedSameKey(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	// register both waiters before any reply arrives
	first := rig.controller.SendAsync("RDP", []string{"2"})
	second := rig.controller.SendAsync("RDP", []string{"2"})

	// both lines were written in order
	require.Eventually(func() bool {
		return len(rig.transport.SentLines()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal([]string{"RDP\t2\r\n", "RDP\t2\r\n"}, rig.transport.SentLines())

	rig.transport.InjectLine("C\tRDP2\t42")
	rig.transport.InjectLine("C\tRDP2\t43")

	res := recvResult(t, first)
	require.NoError(res.Err)
	require.Equal([]string{"42"}, res.Reply.Params)

	res = recvResult(t, second)
	require.NoError(res.Err)
	require.Equal([]string{"43"}, res.Reply.Params)
}

func TestControllerTimeout(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	spontaneous := make(chan string, 1)
	rig.controller.RegisterSpontaneous(func(reply *protocol.Reply) { spontaneous <- reply.Raw })

	start := time.Now()
	_, err := rig.controller.SendSync("RDP", []string{"9"}, 100*time.Millisecond)
	require.ErrorIs(err, ErrTimeout)
	require.WithinDuration(start.Add(100*time.Millisecond), time.Now(), 80*time.Millisecond)

	// a late reply finds no waiter and is routed to the spontaneous handlers
	rig.transport.InjectLine("C\tRDP9\t7")

	select {
	case raw := <-spontaneous:
		require.Equal("C\tRDP9\t7", raw)
	case <-time.After(time.Second):
		t.Fatal("late reply was not routed to spontaneous handlers")
	}
}

func TestControllerSpontaneousSys(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	got := make(chan *protocol.Reply, 1)
	rig.controller.RegisterSpontaneous(func(reply *protocol.Reply) { got <- reply })

	rig.transport.InjectLine("E\tSYS\t0x1234")

	select {
	case reply := <-got:
		require.Equal(byte('E'), reply.Type)
		require.Equal("SYS", reply.Cmd)
		require.Equal("", reply.Axis)
		require.Equal([]string{"0x1234"}, reply.Params)
	case <-time.After(time.Second):
		t.Fatal("spontaneous handler was not invoked")
	}

	require.Equal(0, rig.dispatcher.PendingCount())
}

func TestControllerInvalidLineDropped(t *testing.T) {
	require := require.New(t)

	rec := logger.NewRecorder()
	rig := newTestRigWithLogger(t, rec)

	spontaneous := make(chan string, 1)
	rig.controller.RegisterSpontaneous(func(reply *protocol.Reply) { spontaneous <- reply.Raw })

	handle := rig.controller.SendAsync("RDP", []string{"1"})

	rig.transport.InjectLine("Z\tFOO1")

	// neither the pending slot nor the spontaneous path sees the invalid line
	select {
	case <-handle:
		t.Fatal("invalid line must not resolve a pending request")
	case <-spontaneous:
		t.Fatal("invalid line must not reach spontaneous handlers")
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(1, rig.dispatcher.PendingCount())

	// the drop leaves a protocol-error log entry with an escaped raw line
	require.True(rec.Has(logger.WarnLevel, "dropping invalid reply line"))
}

func TestControllerDisconnectFailsPending(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	handle := rig.controller.SendAsync("APS", []string{"1", "0", "1000", "0"})

	rig.transport.TriggerDisconnect()

	res := recvResult(t, handle)
	require.ErrorIs(res.Err, ErrDisconnected)
}

func TestControllerEnqueueFailure(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	// a stopped writer rejects the enqueue; the slot fails synchronously
	rig.writer.Stop(false)

	handle := rig.controller.SendAsync("RDP", []string{"1"})
	res := recvResult(t, handle)
	require.ErrorIs(res.Err, comm.ErrWriterStopped)
	require.Equal(0, rig.dispatcher.PendingCount())
}

func TestControllerKeyFallback(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)
	rig.reflectDevice(map[string][]string{
		"CER": {"C\tCER\t0"},
	})

	// a command without parameters correlates on the "-1" axis slot
	reply, err := rig.controller.SendSync("CER", nil, time.Second)
	require.NoError(err)
	require.Equal("CER", reply.Cmd)
	require.Equal("", reply.Axis)
}

func TestControllerMovementCallbacks(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	var mu sync.Mutex
	var events []string

	rig.controller.RegisterOperationCallbacks(
		func(axis int) {
			mu.Lock()
			events = append(events, "start")
			mu.Unlock()
		},
		func(axis int) {
			mu.Lock()
			events = append(events, "finish")
			mu.Unlock()
		},
	)

	done := make(chan struct{})
	rig.controller.SendAsyncCallback("APS", []string{"1", "0", "1000", "0"}, func(reply *protocol.Reply, err error) {
		mu.Lock()
		events = append(events, "callback")
		mu.Unlock()
		close(done)
	})

	// onStart fires before enqueue, synchronously with the send call
	mu.Lock()
	require.Equal([]string{"start"}, events)
	mu.Unlock()

	rig.transport.InjectLine("C\tAPS1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("user callback was not invoked")
	}

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal([]string{"start", "callback", "finish"}, events)
	mu.Unlock()
}

func TestControllerMovementCallbacksOnError(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	finished := make(chan int, 1)
	rig.controller.RegisterOperationCallbacks(nil, func(axis int) { finished <- axis })

	cbErr := make(chan error, 1)
	rig.controller.SendAsyncCallback("RPS", []string{"3", "0", "-10", "0"}, func(reply *protocol.Reply, err error) {
		cbErr <- err
	})

	// drop the transport so the pending request fails
	rig.transport.TriggerDisconnect()

	select {
	case err := <-cbErr:
		require.ErrorIs(err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("user callback was not invoked on error")
	}

	// onFinish fires even when the reply is an error
	select {
	case axis := <-finished:
		require.Equal(3, axis)
	case <-time.After(time.Second):
		t.Fatal("onFinish was not invoked on error")
	}
}

func TestControllerNonMovementNoCallbacks(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)
	rig.reflectDevice(map[string][]string{
		"RDP\t1": {"C\tRDP1\t5"},
	})

	started := make(chan int, 1)
	rig.controller.RegisterOperationCallbacks(func(axis int) { started <- axis }, nil)

	done := make(chan struct{})
	rig.controller.SendAsyncCallback("RDP", []string{"1"}, func(reply *protocol.Reply, err error) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}

	select {
	case <-started:
		t.Fatal("read command must not trigger operation callbacks")
	default:
	}

	require.Equal(0, rig.dispatcher.PendingCount())
}

func TestControllerStopFailsPending(t *testing.T) {
	require := require.New(t)

	rig := newTestRig(t)

	handle := rig.controller.SendAsync("RDP", []string{"4"})
	rig.controller.Stop()

	res := recvResult(t, handle)
	require.ErrorIs(res.Err, ErrStopped)

	// requests after stop fail immediately
	res = recvResult(t, rig.controller.SendAsync("RDP", []string{"4"}))
	require.ErrorIs(res.Err, ErrStopped)
}
