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

// monitorInterval is the cadence at which the reconnection loop checks a live
// connection for loss.
const monitorInterval = 500 * time.Millisecond

// ConnectionHandler is notified on every connect success/failure edge and on stop.
type ConnectionHandler func(connected bool, msg string)

// generation is one connected lifetime's worth of components. It is constructed as a
// unit on connect and torn down as a unit on disconnect or stop; the shared StateCache
// is the only piece that survives across generations.
type generation struct {
	transport  *comm.TCPClient
	writer     *comm.Writer
	dispatcher *Dispatcher
	controller *MotorController
	poller     *Poller
}

// Manager owns the connection lifecycle and exposes the user-facing driver API.
//
// It runs a reconnection loop that constructs a fresh generation per connected lifetime,
// tracks outstanding movement operations, and keeps the Poller running only while at
// least one operation is outstanding.
type Manager struct {
	cfg     *Config
	logger  logger.Logger
	pctx    context.Context
	taskMgr *task.Manager
	cache   *StateCache

	genMutex sync.RWMutex
	gen      *generation

	axesMutex sync.Mutex
	pollAxes  []int

	handlerMutex  sync.Mutex
	connHandlers  []ConnectionHandler
	spontHandlers []SpontaneousHandler

	activeOps atomic.Int32
	running   atomic.Bool
}

// NewManager creates a Manager with the given configuration.
// All background goroutines are children of ctx.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	l := cfg.logger.With("component", "manager")

	return &Manager{
		cfg:     cfg,
		logger:  l,
		pctx:    ctx,
		taskMgr: task.NewManager(ctx, l),
		cache:   NewStateCache(),
	}, nil
}

// Start launches the connection loop in the background. It is idempotent.
//
// With auto-reconnect enabled the loop keeps retrying failed attempts and reconnecting
// after a detected loss; otherwise it exits after the first failure or loss.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := m.taskMgr.Start("connectLoop", m.connectLoop); err != nil {
		m.running.Store(false)
		return err
	}

	return nil
}

// Stop cancels the connection loop and tears down the current generation.
// Every outstanding request resolves with an error; the state cache is retained.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	m.taskMgr.Stop()
	m.taskMgr.Wait()

	m.teardownGeneration()

	m.notifyConnection(false, "stopped")
}

// IsConnected reports whether a live, connected generation exists.
func (m *Manager) IsConnected() bool {
	gen := m.currentGeneration()
	return gen != nil && gen.transport.IsConnected()
}

// ActiveOperations returns the number of outstanding movement operations.
func (m *Manager) ActiveOperations() int {
	return int(m.activeOps.Load())
}

// RegisterConnectionHandler adds a callback notified on connection state edges.
func (m *Manager) RegisterConnectionHandler(fn ConnectionHandler) {
	m.handlerMutex.Lock()
	defer m.handlerMutex.Unlock()

	m.connHandlers = append(m.connHandlers, fn)
}

// RegisterSpontaneousHandler adds a handler for replies matching no pending request.
// The registration survives reconnection: it is re-installed on every new generation.
func (m *Manager) RegisterSpontaneousHandler(fn SpontaneousHandler) {
	m.handlerMutex.Lock()
	m.spontHandlers = append(m.spontHandlers, fn)
	m.handlerMutex.Unlock()

	if gen := m.currentGeneration(); gen != nil {
		gen.controller.RegisterSpontaneous(fn)
	}
}

// MoveAbsoluteAsync issues an absolute move (APS) on axis to position pos.
//
// speed selects the controller speed table; responseMethod 0 makes the device reply on
// motion complete, 1 on command acceptance. The running flag is optimistically set in
// the cache so observers see motion at once; after cb runs, a final position and status
// read refresh the cache and the operation is accounted finished.
func (m *Manager) MoveAbsoluteAsync(axis int, pos int64, speed, responseMethod int, cb Callback) error {
	return m.moveAsync("APS", axis, pos, speed, responseMethod, cb)
}

// MoveRelativeAsync issues a relative move (RPS) on axis by delta pulses.
// It is identical to MoveAbsoluteAsync except for the command mnemonic.
func (m *Manager) MoveRelativeAsync(axis int, delta int64, speed, responseMethod int, cb Callback) error {
	return m.moveAsync("RPS", axis, delta, speed, responseMethod, cb)
}

// OriginReturnAsync issues an origin return (ORG) on axis.
// Origin return is not in the default movement set, so it does not drive the
// operation-lifecycle bookkeeping unless configured via WithMovementCommands.
func (m *Manager) OriginReturnAsync(axis, speed, responseMethod int, cb Callback) error {
	if axis < 1 {
		return ErrInvalidAxis
	}

	gen := m.connectedGeneration()
	if gen == nil {
		return ErrNotConnected
	}

	params := []string{strconv.Itoa(axis), strconv.Itoa(speed), strconv.Itoa(responseMethod)}
	gen.controller.SendAsyncCallback("ORG", params, cb)

	return nil
}

// ReadPosition reads the absolute position of axis (RDP) synchronously and refreshes
// the cache on success.
func (m *Manager) ReadPosition(axis int) (int64, error) {
	if axis < 1 {
		return 0, ErrInvalidAxis
	}

	reply, err := m.SendCommand("RDP", strconv.Itoa(axis))
	if err != nil {
		return 0, err
	}

	pos, err := reply.IntParam(0)
	if err != nil {
		return 0, err
	}
	m.cache.UpdatePosition(axis, pos, reply.Raw)

	return pos, nil
}

// ReadStatus reads the driving status of axis (STR) synchronously and refreshes the
// cache's running flag on success.
func (m *Manager) ReadStatus(axis int) (protocol.Status, error) {
	if axis < 1 {
		return protocol.Status{}, ErrInvalidAxis
	}

	reply, err := m.SendCommand("STR", strconv.Itoa(axis))
	if err != nil {
		return protocol.Status{}, err
	}

	status, err := protocol.ParseStatus(reply.Params)
	if err != nil {
		return protocol.Status{}, err
	}
	m.cache.UpdateRunning(axis, status.Running(), reply.Raw)

	return status, nil
}

// ReadLastError reads the controller's last error code (CERR).
func (m *Manager) ReadLastError() (*protocol.Reply, error) {
	return m.SendCommand("CERR")
}

// SetSystemParam writes system parameter no on axis to value (WSY).
func (m *Manager) SetSystemParam(axis, no int, value int64) error {
	if axis < 1 {
		return ErrInvalidAxis
	}

	_, err := m.SendCommand("WSY", strconv.Itoa(axis), strconv.Itoa(no), strconv.FormatInt(value, 10))

	return err
}

// SendCommand sends an arbitrary command synchronously with the configured response
// timeout.
func (m *Manager) SendCommand(cmd string, params ...string) (*protocol.Reply, error) {
	gen := m.connectedGeneration()
	if gen == nil {
		return nil, ErrNotConnected
	}

	return gen.controller.SendSync(cmd, params, m.cfg.responseTimeout)
}

// SendCommandAsync sends an arbitrary command and routes the result to cb.
func (m *Manager) SendCommandAsync(cmd string, params []string, cb Callback) error {
	gen := m.connectedGeneration()
	if gen == nil {
		return ErrNotConnected
	}

	gen.controller.SendAsyncCallback(cmd, params, cb)

	return nil
}

// SetPollAxes replaces the set of axes the Poller watches.
func (m *Manager) SetPollAxes(axes []int) {
	m.axesMutex.Lock()
	m.pollAxes = append([]int(nil), axes...)
	m.axesMutex.Unlock()

	if gen := m.currentGeneration(); gen != nil {
		gen.poller.SetAxes(axes)
	}
}

// AddPollAxis adds one axis to the Poller's watch set.
func (m *Manager) AddPollAxis(axis int) {
	m.axesMutex.Lock()
	found := false
	for _, a := range m.pollAxes {
		if a == axis {
			found = true
			break
		}
	}
	if !found {
		m.pollAxes = append(m.pollAxes, axis)
	}
	m.axesMutex.Unlock()

	if gen := m.currentGeneration(); gen != nil {
		gen.poller.AddAxis(axis)
	}
}

// RemovePollAxis removes one axis from the Poller's watch set.
func (m *Manager) RemovePollAxis(axis int) {
	m.axesMutex.Lock()
	kept := m.pollAxes[:0]
	for _, a := range m.pollAxes {
		if a != axis {
			kept = append(kept, a)
		}
	}
	m.pollAxes = kept
	m.axesMutex.Unlock()

	if gen := m.currentGeneration(); gen != nil {
		gen.poller.RemoveAxis(axis)
	}
}

// PollAxes returns a copy of the configured poll axis list.
func (m *Manager) PollAxes() []int {
	m.axesMutex.Lock()
	defer m.axesMutex.Unlock()

	return append([]int(nil), m.pollAxes...)
}

// SnapshotState returns a copy of the last known state of every axis.
func (m *Manager) SnapshotState() map[int]AxisState {
	return m.cache.Snapshot()
}

// AxisState returns the last known state of one axis.
func (m *Manager) AxisState(axis int) (AxisState, bool) {
	return m.cache.Get(axis)
}

// moveAsync is the shared path of MoveAbsoluteAsync and MoveRelativeAsync.
func (m *Manager) moveAsync(cmd string, axis int, value int64, speed, responseMethod int, cb Callback) error {
	if axis < 1 {
		return ErrInvalidAxis
	}

	gen := m.connectedGeneration()
	if gen == nil {
		return ErrNotConnected
	}

	// show motion immediately; the poller refines it on the next fast read
	m.cache.UpdateRunning(axis, true, "cmd-started")

	params := []string{
		strconv.Itoa(axis),
		strconv.Itoa(speed),
		strconv.FormatInt(value, 10),
		strconv.Itoa(responseMethod),
	}
	gen.controller.SendAsyncCallback(cmd, params, cb)

	return nil
}

// operationStarted is installed as the controller's onStart callback. The 0-to-1 edge
// of the active-operations counter starts the Poller.
func (m *Manager) operationStarted(axis int) {
	if m.activeOps.Add(1) == 1 {
		if gen := m.currentGeneration(); gen != nil {
			if err := gen.poller.Start(); err != nil {
				m.logger.Error("failed to start poller", "error", err)
			}
		}
	}

	if gen := m.currentGeneration(); gen != nil {
		gen.poller.NotifyOperationStarted(axis)
	}
}

// operationFinished is installed as the controller's onFinish callback. It runs the
// final-reads shim off the callback worker, then decrements the counter; the 1-to-0
// edge stops the Poller.
func (m *Manager) operationFinished(axis int) {
	go func() {
		gen := m.currentGeneration()
		if gen != nil {
			gen.poller.NotifyOperationFinished(axis)
		}

		if m.activeOps.Add(-1) <= 0 {
			m.activeOps.Store(0)
			if gen != nil {
				gen.poller.Stop()
			}
		}
	}()
}

// connectLoop is one iteration of the reconnection task: tear down, attempt, monitor.
func (m *Manager) connectLoop() bool {
	err := m.connectOnce()
	if err != nil {
		m.logger.Warn("connect attempt failed",
			"host", m.cfg.host, "port", m.cfg.port, "error", err,
		)
		m.notifyConnection(false, "connect failed: "+err.Error())

		if !m.cfg.autoReconnect {
			return false
		}

		return m.sleep(m.cfg.reconnectInterval)
	}

	m.notifyConnection(true, "connected")

	// monitor phase: watch for loss while honoring stop requests promptly
	for m.IsConnected() {
		if !m.sleep(monitorInterval) {
			return false
		}
	}

	m.logger.Warn("connection lost", "host", m.cfg.host, "port", m.cfg.port)
	m.notifyConnection(false, "connection lost")
	m.teardownGeneration()

	if !m.cfg.autoReconnect {
		return false
	}

	return m.sleep(m.cfg.reconnectInterval)
}

// connectOnce constructs a fresh generation and attempts to connect it.
func (m *Manager) connectOnce() error {
	m.teardownGeneration()

	transport := comm.NewTCPClient(m.pctx, m.cfg.logger)

	if err := transport.Connect(m.pctx, m.cfg.host, m.cfg.port); err != nil {
		return err
	}

	dispatcher, err := NewDispatcher(m.pctx, m.cfg.logger, defaultSpontaneousWorkers)
	if err != nil {
		transport.Stop()
		return err
	}

	writer := comm.NewWriter(m.pctx, transport, m.cfg.writerQueueSize, m.cfg.logger)
	controller := NewMotorController(m.pctx, transport, writer, dispatcher, m.cfg.movementCommands, m.cfg.withSTX, m.cfg.logger)
	controller.RegisterOperationCallbacks(m.operationStarted, m.operationFinished)

	m.handlerMutex.Lock()
	for _, fn := range m.spontHandlers {
		controller.RegisterSpontaneous(fn)
	}
	m.handlerMutex.Unlock()

	poller := NewPoller(m.pctx, controller, m.cache, m.PollAxes(), m.cfg.pollInterval, m.cfg.fastPollInterval, m.cfg.logger)

	if err := controller.Start(); err != nil {
		controller.Stop()
		dispatcher.Close()
		transport.Stop()

		return err
	}

	// the controller's handlers are installed; now start delivering lines
	if err := transport.Start(); err != nil {
		controller.Stop()
		dispatcher.Close()
		transport.Stop()

		return err
	}

	m.genMutex.Lock()
	m.gen = &generation{
		transport:  transport,
		writer:     writer,
		dispatcher: dispatcher,
		controller: controller,
		poller:     poller,
	}
	m.genMutex.Unlock()

	m.logger.Info("connected to controller", "host", m.cfg.host, "port", m.cfg.port)

	return nil
}

// teardownGeneration releases the current generation as a unit: poller, controller,
// dispatcher, then transport. Outstanding requests resolve with an error.
func (m *Manager) teardownGeneration() {
	m.genMutex.Lock()
	gen := m.gen
	m.gen = nil
	m.genMutex.Unlock()

	if gen == nil {
		return
	}

	gen.poller.Stop()
	gen.controller.Stop()
	gen.dispatcher.Close()
	gen.transport.Stop()
}

func (m *Manager) currentGeneration() *generation {
	m.genMutex.RLock()
	defer m.genMutex.RUnlock()

	return m.gen
}

// connectedGeneration returns the current generation only when it is connected.
func (m *Manager) connectedGeneration() *generation {
	gen := m.currentGeneration()
	if gen == nil || !gen.transport.IsConnected() {
		return nil
	}

	return gen
}

// sleep waits for d, returning false when the manager is being stopped.
func (m *Manager) sleep(d time.Duration) bool {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-m.taskMgr.Context().Done():
		return false
	case <-timer.C:
		return true
	}
}

// notifyConnection delivers a connection edge to every registered handler.
func (m *Manager) notifyConnection(connected bool, msg string) {
	m.handlerMutex.Lock()
	handlers := make([]ConnectionHandler, len(m.connHandlers))
	copy(handlers, m.connHandlers)
	m.handlerMutex.Unlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("panic in connection handler", "panic", r)
				}
			}()

			fn(connected, msg)
		}()
	}
}
