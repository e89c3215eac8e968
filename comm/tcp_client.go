package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/task"
)

// TCPClient is the production Transport implementation: a TCP connection with a
// background receive goroutine that splits the inbound stream on CRLF.
type TCPClient struct {
	logger  logger.Logger
	taskMgr *task.Manager

	connMutex sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader

	writeMutex sync.Mutex // serializes outbound writes on the socket

	connected atomic.Bool

	handlerMutex      sync.RWMutex
	lineHandler       LineHandler
	disconnectHandler DisconnectHandler

	dialTimeout  time.Duration
	writeTimeout time.Duration
}

var _ Transport = (*TCPClient)(nil)

// NewTCPClient creates a TCPClient. All background goroutines are children of ctx.
func NewTCPClient(ctx context.Context, l logger.Logger) *TCPClient {
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "transport")

	return &TCPClient{
		logger:       l,
		taskMgr:      task.NewManager(ctx, l),
		dialTimeout:  3 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

// Connect dials host:port and disables Nagle's algorithm to minimize per-command latency.
func (c *TCPClient) Connect(ctx context.Context, host string, port int) error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: c.dialTimeout, KeepAlive: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			c.logger.Warn("failed to disable Nagle", "error", err)
		}
	}

	c.connMutex.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connMutex.Unlock()

	c.connected.Store(true)

	c.logger.Debug("connected to controller",
		"host", host,
		"port", port,
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	return nil
}

// Start begins the background receive loop. It requires a prior successful Connect.
func (c *TCPClient) Start() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	return c.taskMgr.Start("recvLoop", c.recvTask)
}

// Stop ceases I/O, closes the socket and fires the disconnect edge if one is pending.
// It is idempotent and waits for the receive goroutine to terminate.
func (c *TCPClient) Stop() {
	c.markDisconnected()

	c.taskMgr.Stop()
	c.taskMgr.Wait()
}

// IsConnected reports whether the transport currently holds a live connection.
func (c *TCPClient) IsConnected() bool {
	return c.connected.Load()
}

// SetLineHandler registers the handler for inbound lines.
func (c *TCPClient) SetLineHandler(fn LineHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.lineHandler = fn
}

// SetDisconnectHandler registers the handler for the disconnect edge.
func (c *TCPClient) SetDisconnectHandler(fn DisconnectHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.disconnectHandler = fn
}

// SendLine writes one already-framed line to the socket.
// Concurrent calls are serialized; a write failure transitions the transport to
// disconnected and fires the disconnect edge.
func (c *TCPClient) SendLine(line string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.connMutex.Lock()
	conn := c.conn
	c.connMutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.markDisconnected()
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := io.WriteString(conn, line); err != nil {
		c.markDisconnected()
		return fmt.Errorf("send line: %w", err)
	}

	return nil
}

// recvTask reads one line per iteration and delivers it to the line handler.
func (c *TCPClient) recvTask() bool {
	c.connMutex.Lock()
	reader := c.reader
	c.connMutex.Unlock()
	if reader == nil {
		return false
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		if err != io.EOF && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "connection reset by peer") {
			c.logger.Error("socket read failed", "error", err)
		}
		c.markDisconnected()

		return false
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	c.handlerMutex.RLock()
	handler := c.lineHandler
	c.handlerMutex.RUnlock()

	if handler != nil {
		handler(line)
	}

	return true
}

// markDisconnected performs the connected-to-disconnected edge exactly once:
// it closes the socket and dispatches the disconnect handler asynchronously so
// the handler can safely re-enter the transport.
func (c *TCPClient) markDisconnected() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}

	c.connMutex.Lock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("socket close failed", "error", err)
		}
		c.conn = nil
		c.reader = nil
	}
	c.connMutex.Unlock()

	c.handlerMutex.RLock()
	handler := c.disconnectHandler
	c.handlerMutex.RUnlock()

	if handler != nil {
		go handler()
	}
}
