package comm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/task"
)

// DefaultWriterQueueSize is the default capacity of the outbound writer queue.
const DefaultWriterQueueSize = 1000

// WriterErrorHandler is notified once per send failure with the underlying error.
type WriterErrorHandler func(err error)

// Writer is a bounded FIFO of outbound lines drained by a single goroutine that calls
// Transport.SendLine once per entry. It decouples callers from socket latency and
// guarantees wire ordering equals enqueue ordering.
//
// On a send failure the worker stops consuming and reports the error through the
// registered error handler; the owner is expected to tear the generation down via the
// transport's disconnect edge.
type Writer struct {
	transport Transport
	logger    logger.Logger
	taskMgr   *task.Manager

	mu      sync.Mutex
	queue   chan string
	started bool
	stopped bool

	failed atomic.Bool

	errMutex   sync.Mutex
	errHandler WriterErrorHandler
}

// NewWriter creates a Writer with the given queue capacity.
// A capacity of zero or less falls back to DefaultWriterQueueSize.
func NewWriter(ctx context.Context, transport Transport, capacity int, l logger.Logger) *Writer {
	if capacity <= 0 {
		capacity = DefaultWriterQueueSize
	}
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "writer")

	return &Writer{
		transport: transport,
		logger:    l,
		taskMgr:   task.NewManager(ctx, l),
		queue:     make(chan string, capacity),
	}
}

// Start launches the drain goroutine. It is idempotent.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return nil
	}
	w.started = true

	return task.StartDrain(w.taskMgr, "writerDrain", w.sendTask, nil, w.queue)
}

// Stop shuts the writer down. It is idempotent.
//
// With flush=true the worker drains the remaining entries before exiting; with
// flush=false the worker is canceled and pending entries are dropped.
func (w *Writer) Stop(flush bool) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if flush {
		// closing the queue lets the worker drain the backlog and terminate
		close(w.queue)
		if started {
			w.taskMgr.Wait()
		}

		return
	}

	w.taskMgr.Stop()
	if started {
		w.taskMgr.Wait()
	}

	// no worker and no producers remain; discard whatever is left
	close(w.queue)
	for range w.queue { //nolint:revive // drain to release the buffered lines
	}
}

// Enqueue submits a line for transmission without blocking.
// It returns ErrWriterStopped when the writer is shut down or has hit a send failure,
// and ErrWriterOverflow when the queue is at capacity.
func (w *Writer) Enqueue(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || !w.started || w.failed.Load() {
		return ErrWriterStopped
	}

	select {
	case w.queue <- line:
		return nil
	default:
		return ErrWriterOverflow
	}
}

// OnError registers the single error callback fired once per send failure.
func (w *Writer) OnError(fn WriterErrorHandler) {
	w.errMutex.Lock()
	defer w.errMutex.Unlock()

	w.errHandler = fn
}

// Len returns the number of queued, unsent lines.
func (w *Writer) Len() int {
	return len(w.queue)
}

// sendTask transmits one queued line. Returning false stops the drain goroutine.
func (w *Writer) sendTask(line string) bool {
	err := w.transport.SendLine(line)
	if err == nil {
		return true
	}

	// enter the error state before notifying so Enqueue rejects immediately
	w.failed.Store(true)
	w.logger.Error("writer send failed", "error", err)

	w.errMutex.Lock()
	handler := w.errHandler
	w.errMutex.Unlock()

	if handler != nil {
		go handler(err)
	}

	return false
}
