package kohzu

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// AxisState is the last known state of one axis.
//
// Position and Running are optional: the Has flags report whether the field has ever
// been observed. UpdatedAt carries Go's monotonic clock reading of the last update.
type AxisState struct {
	Position    int64
	HasPosition bool
	Running     bool
	HasRunning  bool
	RawLast     string
	UpdatedAt   time.Time
}

// StateCache is a thread-safe per-axis store of the last known position, running flag,
// raw line and update timestamp.
//
// The cache is never cleared on disconnect: last-known state is retained for
// observability across connection generations.
type StateCache struct {
	states *xsync.MapOf[int, AxisState]
}

// NewStateCache creates an empty StateCache.
func NewStateCache() *StateCache {
	return &StateCache{
		states: xsync.NewMapOf[int, AxisState](),
	}
}

// UpdatePosition stores the position for axis and refreshes the update timestamp.
func (c *StateCache) UpdatePosition(axis int, position int64, raw string) {
	c.states.Compute(axis, func(state AxisState, _ bool) (AxisState, bool) {
		state.Position = position
		state.HasPosition = true
		state.RawLast = raw
		state.UpdatedAt = time.Now()

		return state, false
	})
}

// UpdateRunning stores the running flag for axis and refreshes the update timestamp.
func (c *StateCache) UpdateRunning(axis int, running bool, raw string) {
	c.states.Compute(axis, func(state AxisState, _ bool) (AxisState, bool) {
		state.Running = running
		state.HasRunning = true
		state.RawLast = raw
		state.UpdatedAt = time.Now()

		return state, false
	})
}

// UpdateRaw stores a raw line that could not be decoded into position or status.
func (c *StateCache) UpdateRaw(axis int, raw string) {
	c.states.Compute(axis, func(state AxisState, _ bool) (AxisState, bool) {
		state.RawLast = raw
		state.UpdatedAt = time.Now()

		return state, false
	})
}

// Update stores position and running state together in one timestamp refresh.
func (c *StateCache) Update(axis int, position int64, running bool, raw string) {
	c.states.Compute(axis, func(state AxisState, _ bool) (AxisState, bool) {
		state.Position = position
		state.HasPosition = true
		state.Running = running
		state.HasRunning = true
		state.RawLast = raw
		state.UpdatedAt = time.Now()

		return state, false
	})
}

// Get returns a copy of the state for axis and whether the axis has ever been updated.
func (c *StateCache) Get(axis int) (AxisState, bool) {
	return c.states.Load(axis)
}

// Snapshot returns a copy of the state of every known axis.
func (c *StateCache) Snapshot() map[int]AxisState {
	snapshot := make(map[int]AxisState, c.states.Size())
	c.states.Range(func(axis int, state AxisState) bool {
		snapshot[axis] = state
		return true
	})

	return snapshot
}
