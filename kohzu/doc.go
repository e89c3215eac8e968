// Package kohzu implements a client-side driver for Kohzu ARIES/LYNX multi-axis motion
// controllers speaking the line-oriented ASCII protocol over TCP.
//
// The driver hides the transport, request/response correlation, spontaneous device
// events, automatic reconnection and periodic polling behind a high-level API: move an
// axis, query its state.
//
// Architecture:
//   - Dispatcher: correlates inbound replies to outstanding requests by a
//     "<CMD>:<axis>" key, FIFO per key, and fans out unmatched messages as
//     spontaneous events on a bounded worker pool.
//   - StateCache: thread-safe per-axis store of last known position, running flag,
//     raw line and update timestamp; retained across reconnects.
//   - Poller: interrogates watched axes at a slow cadence while idle and a fast
//     cadence while an operation is outstanding, with at most one position read in
//     flight per axis.
//   - MotorController: composes transport, writer and dispatcher into synchronous and
//     callback request APIs and emits operation start/finish signals.
//   - Manager: lifecycle owner; reconnection loop, poll-axis list, active-operation
//     counter and the user-facing movement API.
//
// Usage example:
//
//	cfg, err := kohzu.NewConfig("192.168.1.120", 12321,
//	    kohzu.WithAutoReconnect(true),
//	    kohzu.WithPollInterval(500*time.Millisecond),
//	)
//	// ... handle error ...
//
//	mgr, err := kohzu.NewManager(ctx, cfg)
//	// ... handle error ...
//	defer mgr.Stop()
//
//	mgr.SetPollAxes([]int{1, 2})
//	err = mgr.Start()
//	// ... handle error, wait for connection ...
//
//	err = mgr.MoveAbsoluteAsync(1, 1000, 0, 0, func(reply *protocol.Reply, err error) {
//	    // ... inspect the completion reply ...
//	})
//
//	state, ok := mgr.AxisState(1)
//	// ... read state.Position, state.Running ...
package kohzu
