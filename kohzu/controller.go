package kohzu

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-kohzu/comm"
	"github.com/arloliu/go-kohzu/internal/pool"
	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
	"github.com/arloliu/go-kohzu/task"
)

// callbackQueueSize bounds the backlog of callback requests awaiting their replies.
const callbackQueueSize = 256

// Callback receives the outcome of a callback-style request: the reply on success, or a
// non-nil error.
type Callback func(reply *protocol.Reply, err error)

// OperationCallback is notified when a movement operation starts or finishes on an axis.
type OperationCallback func(axis int)

// controller lifecycle states.
const (
	ctrlConstructed int32 = iota
	ctrlStarted
	ctrlStopped
)

// callbackTask pairs a pending request with the user callback that consumes its result.
type callbackTask struct {
	handle WaitHandle
	cb     Callback
	axis   int // -1 when the command is not a movement command
}

// MotorController composes the Transport, Writer and Dispatcher into the user-facing
// request API. It turns commands into protocol traffic, routes inbound lines to pending
// requests or spontaneous handlers, and emits operation start/finish signals for
// movement commands.
//
// A controller belongs to exactly one connection generation: once stopped it cannot be
// restarted, a new one is created on reconnect.
type MotorController struct {
	transport  comm.Transport
	writer     *comm.Writer
	dispatcher *Dispatcher
	logger     logger.Logger
	taskMgr    *task.Manager

	withSTX      bool
	movementCmds map[string]struct{}

	opMutex  sync.RWMutex
	onStart  OperationCallback
	onFinish OperationCallback

	cbMutex sync.Mutex
	cbChan  chan callbackTask

	state atomic.Int32
}

// NewMotorController creates a controller over the given transport, writer and
// dispatcher. movementCmds is the set of mnemonics that trigger operation-lifecycle
// callbacks; withSTX selects STX framing for outbound lines.
func NewMotorController(ctx context.Context, transport comm.Transport, writer *comm.Writer, dispatcher *Dispatcher, movementCmds []string, withSTX bool, l logger.Logger) *MotorController {
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "controller")

	mc := &MotorController{
		transport:    transport,
		writer:       writer,
		dispatcher:   dispatcher,
		logger:       l,
		taskMgr:      task.NewManager(ctx, l),
		withSTX:      withSTX,
		movementCmds: make(map[string]struct{}, len(movementCmds)),
		cbChan:       make(chan callbackTask, callbackQueueSize),
	}
	for _, cmd := range movementCmds {
		mc.movementCmds[cmd] = struct{}{}
	}

	return mc
}

// RegisterOperationCallbacks sets the movement operation start/finish callbacks.
// onStart fires before a movement command is enqueued; onFinish fires after the user
// callback for that command has run, even if the reply is an error.
func (mc *MotorController) RegisterOperationCallbacks(onStart, onFinish OperationCallback) {
	mc.opMutex.Lock()
	defer mc.opMutex.Unlock()

	mc.onStart = onStart
	mc.onFinish = onFinish
}

// RegisterSpontaneous registers a handler for replies that match no pending request.
func (mc *MotorController) RegisterSpontaneous(fn SpontaneousHandler) {
	mc.dispatcher.RegisterSpontaneous(fn)
}

// Start installs the transport handlers, launches the writer and the callback worker.
func (mc *MotorController) Start() error {
	if !mc.state.CompareAndSwap(ctrlConstructed, ctrlStarted) {
		return nil
	}

	if err := mc.writer.Start(); err != nil {
		return err
	}

	mc.writer.OnError(func(err error) {
		mc.logger.Error("writer error, failing pending requests", "error", err)
		mc.dispatcher.FailAll(ErrDisconnected)
	})

	mc.transport.SetLineHandler(mc.handleLine)
	mc.transport.SetDisconnectHandler(func() {
		mc.logger.Warn("transport disconnected, failing pending requests")
		mc.dispatcher.FailAll(ErrDisconnected)
	})

	return task.StartDrain(mc.taskMgr, "callbackWorker", mc.callbackTask, nil, mc.cbChan)
}

// Stop tears the controller down: handlers are unregistered, the writer stopped, the
// callback queue drained and every pending request failed. It is idempotent; a stopped
// controller cannot be restarted.
func (mc *MotorController) Stop() {
	prev := mc.state.Swap(ctrlStopped)
	if prev == ctrlStopped {
		return
	}

	// detach from the transport before failing waiters so no new lines race in
	mc.transport.SetLineHandler(nil)
	mc.transport.SetDisconnectHandler(nil)

	mc.writer.Stop(false)

	mc.dispatcher.FailAll(ErrStopped)

	if prev == ctrlStarted {
		// close the callback queue so the worker drains the remaining tasks
		// (their handles are already resolved) and terminates
		mc.cbMutex.Lock()
		close(mc.cbChan)
		mc.cbMutex.Unlock()

		mc.taskMgr.Wait()
	}
}

// SendAsync registers a pending request and submits the encoded command to the writer.
// The returned handle resolves with the matching reply, or with an error on enqueue
// failure, timeout (via SendSync), disconnect or teardown.
//
// For commands issued with response method 1 (ack-only), a later completion reply from
// the device finds no pending slot and is routed to the spontaneous handlers.
func (mc *MotorController) SendAsync(cmd string, params []string) WaitHandle {
	handle, _ := mc.sendAsync(cmd, params)
	return handle
}

// SendSync wraps SendAsync with a bounded wait.
// On expiry the pending slot is failed with ErrTimeout and the connection stays up; a
// late reply is then routed to the spontaneous handlers.
func (mc *MotorController) SendSync(cmd string, params []string, timeout time.Duration) (*protocol.Reply, error) {
	handle, req := mc.sendAsync(cmd, params)
	if req == nil {
		res := <-handle
		return nil, res.Err
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case res := <-handle:
		return res.Reply, res.Err

	case <-timer.C:
		mc.dispatcher.FailPending(req, ErrTimeout)
		res := <-handle

		return res.Reply, res.Err
	}
}

// SendAsyncCallback is SendAsync with the result routed to cb on the callback worker.
//
// If cmd is in the movement set and params[0] parses as an axis number, the onStart
// callback fires before enqueue and onFinish fires after cb has run, even if the reply
// is an error.
func (mc *MotorController) SendAsyncCallback(cmd string, params []string, cb Callback) {
	axis := -1
	if _, ok := mc.movementCmds[cmd]; ok {
		if v, err := strconv.Atoi(firstParam(params)); err == nil && v >= 0 {
			axis = v
		}
	}

	if axis >= 0 {
		mc.opMutex.RLock()
		onStart := mc.onStart
		mc.opMutex.RUnlock()
		if onStart != nil {
			onStart(axis)
		}
	}

	handle, _ := mc.sendAsync(cmd, params)

	mc.cbMutex.Lock()
	if mc.state.Load() == ctrlStopped {
		mc.cbMutex.Unlock()
		go mc.runCallbackTask(callbackTask{handle: handle, cb: cb, axis: axis})

		return
	}

	select {
	case mc.cbChan <- callbackTask{handle: handle, cb: cb, axis: axis}:
		mc.cbMutex.Unlock()
	default:
		mc.cbMutex.Unlock()
		// backlog full; run this one off-queue rather than block the caller
		go mc.runCallbackTask(callbackTask{handle: handle, cb: cb, axis: axis})
	}
}

// sendAsync is the common request path: register the pending slot, encode, enqueue.
// On any failure the slot is failed immediately and the handle resolves with the error.
func (mc *MotorController) sendAsync(cmd string, params []string) (WaitHandle, *PendingRequest) {
	command := protocol.NewCommand(cmd, params...)
	req := mc.dispatcher.AddPending(command.Key())

	if mc.state.Load() != ctrlStarted {
		mc.dispatcher.FailPending(req, ErrStopped)
		return req.Wait(), nil
	}

	line, err := command.Encode(mc.withSTX)
	if err != nil {
		mc.dispatcher.FailPending(req, err)
		return req.Wait(), nil
	}

	if err := mc.writer.Enqueue(line); err != nil {
		mc.dispatcher.FailPending(req, err)
		return req.Wait(), nil
	}

	return req.Wait(), req
}

// handleLine decodes one inbound line and routes it: matched replies fulfill the head
// pending slot for their key, everything else goes to the spontaneous handlers.
// Invalid lines are logged and dropped; they never fail a pending request.
func (mc *MotorController) handleLine(line string) {
	reply := protocol.DecodeReply(line)
	if !reply.Valid {
		mc.logger.Warn("dropping invalid reply line", "raw", logger.EscapeLine(line))
		return
	}

	if mc.dispatcher.TryFulfill(reply.Key(), reply) {
		return
	}

	mc.dispatcher.NotifySpontaneous(reply)
}

// callbackTask waits for one request's result and delivers it to the user callback.
func (mc *MotorController) callbackTask(t callbackTask) bool {
	mc.runCallbackTask(t)
	return true
}

func (mc *MotorController) runCallbackTask(t callbackTask) {
	res := <-t.handle

	if t.cb != nil {
		mc.callUserCallback(t.cb, res)
	}

	if t.axis >= 0 {
		mc.opMutex.RLock()
		onFinish := mc.onFinish
		mc.opMutex.RUnlock()
		if onFinish != nil {
			onFinish(t.axis)
		}
	}
}

func (mc *MotorController) callUserCallback(cb Callback, res Result) {
	defer func() {
		if r := recover(); r != nil {
			mc.logger.Error("panic in user callback", "panic", r)
		}
	}()

	cb(res.Reply, res.Err)
}

func firstParam(params []string) string {
	if len(params) == 0 {
		return ""
	}
	return params[0]
}
