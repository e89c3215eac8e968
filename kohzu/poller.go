package kohzu

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
	"github.com/arloliu/go-kohzu/task"
)

const (
	// pollTick is the fixed wake-up interval of the poll loop.
	pollTick = 50 * time.Millisecond

	// finalReadTimeout bounds each of the two synchronous reads performed after an
	// operation finishes.
	finalReadTimeout = 5 * time.Second
)

// commander is the slice of the MotorController API the Poller depends on.
type commander interface {
	SendAsync(cmd string, params []string) WaitHandle
	SendSync(cmd string, params []string, timeout time.Duration) (*protocol.Reply, error)
}

// Poller interrogates the watched axes at two cadences and maintains the StateCache.
//
// Axes with an outstanding operation are polled at the fast cadence; idle axes at the
// slow cadence. At most one position read is in flight per axis at any time, bounding
// pipeline depth independent of network latency.
type Poller struct {
	cmdr    commander
	cache   *StateCache
	logger  logger.Logger
	taskMgr *task.Manager

	slowInterval time.Duration
	fastInterval time.Duration

	axesMutex     sync.Mutex
	axes          []int
	lastScheduled map[int]time.Time

	activeMutex sync.Mutex
	active      map[int]struct{}

	inflight *xsync.MapOf[int, WaitHandle]

	running atomic.Bool
}

// NewPoller creates a Poller bound to the given commander and cache.
func NewPoller(ctx context.Context, cmdr commander, cache *StateCache, axes []int, slow, fast time.Duration, l logger.Logger) *Poller {
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "poller")

	p := &Poller{
		cmdr:          cmdr,
		cache:         cache,
		logger:        l,
		taskMgr:       task.NewManager(ctx, l),
		slowInterval:  slow,
		fastInterval:  fast,
		lastScheduled: make(map[int]time.Time),
		active:        make(map[int]struct{}),
		inflight:      xsync.NewMapOf[int, WaitHandle](),
	}
	p.SetAxes(axes)

	return p
}

// Start launches the poll loop. It is idempotent.
func (p *Poller) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	_, err := p.taskMgr.StartInterval("pollLoop", p.pollTask, pollTick, true)
	if err != nil {
		p.running.Store(false)
		return err
	}

	return nil
}

// Stop terminates the poll loop and discards in-flight reads. It is idempotent.
func (p *Poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	p.taskMgr.Stop()
	p.taskMgr.Wait()

	p.inflight.Clear()
}

// IsRunning reports whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

// SetAxes replaces the watched axis set.
func (p *Poller) SetAxes(axes []int) {
	p.axesMutex.Lock()
	defer p.axesMutex.Unlock()

	p.axes = slices.Clone(axes)
	now := time.Now()
	for _, axis := range p.axes {
		if _, ok := p.lastScheduled[axis]; !ok {
			// backdate so the first tick polls immediately
			p.lastScheduled[axis] = now.Add(-p.slowInterval)
		}
	}
}

// AddAxis adds one axis to the watched set. Adding a watched axis is a no-op.
func (p *Poller) AddAxis(axis int) {
	p.axesMutex.Lock()
	defer p.axesMutex.Unlock()

	if slices.Contains(p.axes, axis) {
		return
	}
	p.axes = append(p.axes, axis)
	p.lastScheduled[axis] = time.Now().Add(-p.slowInterval)
}

// RemoveAxis removes one axis from the watched set, discarding its in-flight read and
// active-set membership.
func (p *Poller) RemoveAxis(axis int) {
	p.axesMutex.Lock()
	p.axes = slices.DeleteFunc(p.axes, func(a int) bool { return a == axis })
	delete(p.lastScheduled, axis)
	p.axesMutex.Unlock()

	p.activeMutex.Lock()
	delete(p.active, axis)
	p.activeMutex.Unlock()

	p.inflight.Delete(axis)
}

// Axes returns a copy of the watched axis set.
func (p *Poller) Axes() []int {
	p.axesMutex.Lock()
	defer p.axesMutex.Unlock()

	return slices.Clone(p.axes)
}

// NotifyOperationStarted marks axis active (fast cadence) and schedules an immediate
// position read.
func (p *Poller) NotifyOperationStarted(axis int) {
	p.activeMutex.Lock()
	p.active[axis] = struct{}{}
	p.activeMutex.Unlock()

	p.scheduleRead(axis)
}

// NotifyOperationFinished removes axis from the active set and performs two bounded
// synchronous final reads (position and status) so the cache reflects the end state of
// the operation. Final-read failures are logged, never propagated.
func (p *Poller) NotifyOperationFinished(axis int) {
	p.activeMutex.Lock()
	delete(p.active, axis)
	p.activeMutex.Unlock()

	axisParam := []string{strconv.Itoa(axis)}

	reply, err := p.cmdr.SendSync("RDP", axisParam, finalReadTimeout)
	if err != nil {
		p.logger.Warn("final position read failed", "axis", axis, "error", err)
	} else {
		p.applyPosition(axis, reply)
	}

	reply, err = p.cmdr.SendSync("STR", axisParam, finalReadTimeout)
	if err != nil {
		p.logger.Warn("final status read failed", "axis", axis, "error", err)
	} else if reply != nil {
		if driving, perr := reply.IntParam(0); perr == nil {
			p.cache.UpdateRunning(axis, driving != 0, reply.Raw)
		} else {
			p.logger.Warn("final status read unparsable", "axis", axis, "raw", logger.EscapeLine(reply.Raw))
			p.cache.UpdateRaw(axis, reply.Raw)
		}
	}

	p.inflight.Delete(axis)
}

// pollTask runs once per tick: reap completed reads, then schedule due reads.
func (p *Poller) pollTask() bool {
	p.reapInflight()

	p.axesMutex.Lock()
	axes := slices.Clone(p.axes)
	p.axesMutex.Unlock()

	now := time.Now()
	for _, axis := range axes {
		interval := p.slowInterval
		if p.isActive(axis) {
			interval = p.fastInterval
		}

		if _, busy := p.inflight.Load(axis); busy {
			continue
		}

		p.axesMutex.Lock()
		last := p.lastScheduled[axis]
		due := now.Sub(last) >= interval
		if due {
			p.lastScheduled[axis] = now
		}
		p.axesMutex.Unlock()

		if due {
			p.scheduleRead(axis)
		}
	}

	return true
}

// reapInflight consumes completed reads without blocking and updates the cache.
func (p *Poller) reapInflight() {
	p.inflight.Range(func(axis int, handle WaitHandle) bool {
		select {
		case res, ok := <-handle:
			p.inflight.Delete(axis)
			if !ok {
				return true
			}
			if res.Err != nil {
				p.logger.Debug("poll read failed", "axis", axis, "error", res.Err)
				return true
			}
			p.applyPosition(axis, res.Reply)
		default:
		}

		return true
	})
}

// scheduleRead issues one RDP for axis unless one is already in flight.
func (p *Poller) scheduleRead(axis int) {
	if _, busy := p.inflight.Load(axis); busy {
		return
	}

	handle := p.cmdr.SendAsync("RDP", []string{strconv.Itoa(axis)})
	p.inflight.Store(axis, handle)
}

// applyPosition extracts params[0] as a signed position and updates the cache;
// unparsable replies are retained raw.
func (p *Poller) applyPosition(axis int, reply *protocol.Reply) {
	if reply == nil {
		return
	}

	pos, err := reply.IntParam(0)
	if err != nil {
		p.cache.UpdateRaw(axis, reply.Raw)
		return
	}

	p.cache.UpdatePosition(axis, pos, reply.Raw)
}

func (p *Poller) isActive(axis int) bool {
	p.activeMutex.Lock()
	defer p.activeMutex.Unlock()

	_, ok := p.active[axis]

	return ok
}
