package kohzu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-kohzu/internal/queue"
	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
	"github.com/arloliu/go-kohzu/task"
)

// defaultSpontaneousWorkers is the size of the worker pool that invokes spontaneous
// message handlers.
const defaultSpontaneousWorkers = 2

// spontaneousQueueSize bounds the backlog of undelivered spontaneous messages.
const spontaneousQueueSize = 128

// Result carries the outcome of one request: a parsed reply or an error, never both.
type Result struct {
	Reply *protocol.Reply
	Err   error
}

// WaitHandle resolves exactly once with the request's Result.
type WaitHandle <-chan Result

// SpontaneousHandler processes an inbound reply that matched no pending request.
type SpontaneousHandler func(reply *protocol.Reply)

// PendingRequest is a one-shot completion slot registered under a correlation key.
// Ownership is singular: either the dispatcher fulfills the slot or the waiter fails it,
// exactly once.
type PendingRequest struct {
	key  string
	ch   chan Result
	done atomic.Bool
}

// Wait returns the channel that resolves with the request's Result.
func (p *PendingRequest) Wait() WaitHandle {
	return p.ch
}

// resolve delivers res exactly once; later calls are no-ops.
func (p *PendingRequest) resolve(res Result) bool {
	if !p.done.CompareAndSwap(false, true) {
		return false
	}
	p.ch <- res
	close(p.ch)

	return true
}

// Dispatcher correlates inbound replies to outstanding requests by a composite
// "<CMD>:<axis-or--1>" key and fans out unmatched messages as spontaneous events.
//
// For a given key, pending requests form a FIFO queue: the n-th matching reply completes
// the n-th registered request. Spontaneous handlers run on a small bounded worker pool so
// a slow handler can never stall the line-delivery path.
type Dispatcher struct {
	logger  logger.Logger
	taskMgr *task.Manager

	mu      sync.Mutex
	pending map[string]queue.Queue[*PendingRequest]

	handlerMutex sync.RWMutex
	handlers     []SpontaneousHandler

	spontChan chan *protocol.Reply
	closed    atomic.Bool
}

// NewDispatcher creates a Dispatcher and starts its spontaneous-handler worker pool.
// If workers is zero or less, defaultSpontaneousWorkers is used.
func NewDispatcher(ctx context.Context, l logger.Logger, workers int) (*Dispatcher, error) {
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "dispatcher")
	if workers <= 0 {
		workers = defaultSpontaneousWorkers
	}

	d := &Dispatcher{
		logger:    l,
		taskMgr:   task.NewManager(ctx, l),
		pending:   make(map[string]queue.Queue[*PendingRequest]),
		spontChan: make(chan *protocol.Reply, spontaneousQueueSize),
	}

	for i := 0; i < workers; i++ {
		name := "spontaneousWorker"
		if err := task.StartDrain(d.taskMgr, name, d.spontaneousTask, nil, d.spontChan); err != nil {
			d.taskMgr.Stop()
			return nil, err
		}
	}

	return d, nil
}

// AddPending registers a new completion slot at the tail of the queue for key.
func (d *Dispatcher) AddPending(key string) *PendingRequest {
	req := &PendingRequest{key: key, ch: make(chan Result, 1)}

	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.pending[key]
	if !ok {
		q = queue.NewSliceQueue[*PendingRequest](2)
		d.pending[key] = q
	}
	q.Enqueue(req)

	return req
}

// TryFulfill pops the head slot for key, if any, and resolves it with reply.
// It returns whether a match occurred.
func (d *Dispatcher) TryFulfill(key string, reply *protocol.Reply) bool {
	req := d.popHead(key)
	if req == nil {
		return false
	}

	return req.resolve(Result{Reply: reply})
}

// FailOne pops the head slot for key, if any, and resolves it with err.
func (d *Dispatcher) FailOne(key string, err error) {
	if req := d.popHead(key); req != nil {
		req.resolve(Result{Err: err})
	}
}

// FailPending removes the given slot from its key's queue, if still registered, and
// resolves it with err. Unlike FailOne it can never fail a different waiter's slot.
func (d *Dispatcher) FailPending(req *PendingRequest, err error) {
	d.mu.Lock()
	q, ok := d.pending[req.key]
	if ok {
		// rebuild the queue without the target slot, preserving FIFO order
		n := q.Length()
		for i := 0; i < n; i++ {
			item, _ := q.Dequeue()
			if item != req {
				q.Enqueue(item)
			}
		}
		if q.IsEmpty() {
			delete(d.pending, req.key)
		}
	}
	d.mu.Unlock()

	req.resolve(Result{Err: err})
}

// FailAll resolves every pending slot with err and clears the map.
func (d *Dispatcher) FailAll(err error) {
	var reqs []*PendingRequest

	d.mu.Lock()
	for _, q := range d.pending {
		for {
			req, ok := q.Dequeue()
			if !ok {
				break
			}
			reqs = append(reqs, req)
		}
	}
	d.pending = make(map[string]queue.Queue[*PendingRequest])
	d.mu.Unlock()

	for _, req := range reqs {
		req.resolve(Result{Err: err})
	}
}

// PendingCount returns the total number of unresolved slots across all keys.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, q := range d.pending {
		count += q.Length()
	}

	return count
}

// RegisterSpontaneous registers a handler for messages with no matching pending request.
func (d *Dispatcher) RegisterSpontaneous(fn SpontaneousHandler) {
	d.handlerMutex.Lock()
	defer d.handlerMutex.Unlock()

	d.handlers = append(d.handlers, fn)
}

// NotifySpontaneous hands reply to the worker pool for handler dispatch.
// It never blocks the caller; when the backlog is full the reply is dropped with a log.
func (d *Dispatcher) NotifySpontaneous(reply *protocol.Reply) {
	if d.closed.Load() {
		return
	}

	select {
	case d.spontChan <- reply:
	default:
		d.logger.Warn("spontaneous backlog full, dropping message", "raw", logger.EscapeLine(reply.Raw))
	}
}

// Close stops the worker pool and fails every pending slot with ErrStopped.
// It is idempotent.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}

	// the channel is left open so late NotifySpontaneous calls cannot panic;
	// canceling the task manager unblocks and terminates the workers
	d.taskMgr.Stop()
	d.taskMgr.Wait()

	d.FailAll(ErrStopped)
}

// popHead removes and returns the head slot for key, or nil when none is registered.
func (d *Dispatcher) popHead(key string) *PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.pending[key]
	if !ok {
		return nil
	}

	req, ok := q.Dequeue()
	if !ok {
		return nil
	}
	if q.IsEmpty() {
		delete(d.pending, key)
	}

	return req
}

// spontaneousTask invokes every registered handler for one reply.
// Handler panics are recovered and logged per handler by callHandler, so later
// handlers still run.
func (d *Dispatcher) spontaneousTask(reply *protocol.Reply) bool {
	d.handlerMutex.RLock()
	handlers := make([]SpontaneousHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.handlerMutex.RUnlock()

	for _, handler := range handlers {
		d.callHandler(handler, reply)
	}

	return true
}

func (d *Dispatcher) callHandler(handler SpontaneousHandler, reply *protocol.Reply) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in spontaneous handler", "panic", r, "raw", logger.EscapeLine(reply.Raw))
		}
	}()

	handler(reply)
}
