package kohzu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(context.Background(), logger.GetLogger(), 2)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	return d
}

func recvResult(t *testing.T, handle WaitHandle) Result {
	t.Helper()

	select {
	case res := <-handle:
		return res
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
		return Result{}
	}
}

func TestDispatcherFulfillFIFO(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	first := d.AddPending("RDP:2")
	second := d.AddPending("RDP:2")
	require.Equal(2, d.PendingCount())

	reply42 := protocol.DecodeReply("C\tRDP2\t42")
	reply43 := protocol.DecodeReply("C\tRDP2\t43")

	require.True(d.TryFulfill("RDP:2", reply42))
	require.True(d.TryFulfill("RDP:2", reply43))
	require.Equal(0, d.PendingCount())

	res := recvResult(t, first.Wait())
	require.NoError(res.Err)
	require.Equal([]string{"42"}, res.Reply.Params)

	res = recvResult(t, second.Wait())
	require.NoError(res.Err)
	require.Equal([]string{"43"}, res.Reply.Params)
}

func TestDispatcherNoMatch(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	require.False(d.TryFulfill("RDP:9", protocol.DecodeReply("C\tRDP9\t7")))

	d.AddPending("RDP:1")
	require.False(d.TryFulfill("RDP:2", protocol.DecodeReply("C\tRDP2\t7")))
	require.Equal(1, d.PendingCount())
}

func TestDispatcherFailOne(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	req := d.AddPending("APS:1")
	d.FailOne("APS:1", ErrTimeout)

	res := recvResult(t, req.Wait())
	require.ErrorIs(res.Err, ErrTimeout)
	require.Nil(res.Reply)

	// failing an empty key is a no-op
	d.FailOne("APS:1", ErrTimeout)
}

func TestDispatcherFailPendingPrecise(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	first := d.AddPending("RDP:2")
	second := d.AddPending("RDP:2")
	third := d.AddPending("RDP:2")

	// failing the middle slot must not disturb its neighbors or their order
	d.FailPending(second, ErrTimeout)
	require.Equal(2, d.PendingCount())

	res := recvResult(t, second.Wait())
	require.ErrorIs(res.Err, ErrTimeout)

	require.True(d.TryFulfill("RDP:2", protocol.DecodeReply("C\tRDP2\t1")))
	require.True(d.TryFulfill("RDP:2", protocol.DecodeReply("C\tRDP2\t2")))

	require.Equal([]string{"1"}, recvResult(t, first.Wait()).Reply.Params)
	require.Equal([]string{"2"}, recvResult(t, third.Wait()).Reply.Params)
}

func TestDispatcherFailAll(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	reqs := []*PendingRequest{
		d.AddPending("RDP:1"),
		d.AddPending("RDP:2"),
		d.AddPending("STR:1"),
	}

	d.FailAll(ErrDisconnected)
	require.Equal(0, d.PendingCount())

	for _, req := range reqs {
		res := recvResult(t, req.Wait())
		require.ErrorIs(res.Err, ErrDisconnected)
	}
}

func TestDispatcherSpontaneous(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	got := make(chan *protocol.Reply, 4)
	d.RegisterSpontaneous(func(reply *protocol.Reply) { got <- reply })

	reply := protocol.DecodeReply("E\tSYS\t0x1234")
	d.NotifySpontaneous(reply)

	select {
	case r := <-got:
		require.Equal("SYS", r.Cmd)
		require.Equal("", r.Axis)
		require.Equal([]string{"0x1234"}, r.Params)
	case <-time.After(time.Second):
		t.Fatal("spontaneous handler was not invoked")
	}

	// pending map state is untouched
	require.Equal(0, d.PendingCount())
}

func TestDispatcherSpontaneousHandlerPanic(t *testing.T) {
	require := require.New(t)

	d := newTestDispatcher(t)

	got := make(chan struct{}, 2)
	d.RegisterSpontaneous(func(reply *protocol.Reply) { panic("boom") })
	d.RegisterSpontaneous(func(reply *protocol.Reply) { got <- struct{}{} })

	// a panicking handler must not poison the worker pool or skip later handlers
	d.NotifySpontaneous(protocol.DecodeReply("W\tSYS\t1"))
	d.NotifySpontaneous(protocol.DecodeReply("W\tSYS\t2"))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("worker pool stopped delivering after a handler panic")
		}
	}

	require.Equal(0, d.PendingCount())
}

func TestDispatcherClose(t *testing.T) {
	require := require.New(t)

	d, err := NewDispatcher(context.Background(), logger.GetLogger(), 0)
	require.NoError(err)

	req := d.AddPending("RDP:1")
	d.Close()

	res := recvResult(t, req.Wait())
	require.ErrorIs(res.Err, ErrStopped)

	// Close is idempotent and late notifications are dropped quietly
	d.Close()
	d.NotifySpontaneous(protocol.DecodeReply("W\tSYS\t1"))
}
