package comm

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-kohzu/logger"
)

// startEchoServer starts a loopback TCP server that forwards accepted connections to fn.
func startEchoServer(t *testing.T, fn func(conn net.Conn)) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		fn(conn)
	}()

	addr := listener.Addr().(*net.TCPAddr)

	return "127.0.0.1", addr.Port
}

func TestTCPClientLineDelivery(t *testing.T) {
	require := require.New(t)

	host, port := startEchoServer(t, func(conn net.Conn) {
		// two complete lines split across three writes to exercise reassembly
		_, _ = conn.Write([]byte("C\tRDP1\t4"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("2\r\nE\tSYS\t0x12"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("34\r\n"))
	})

	client := NewTCPClient(context.Background(), logger.GetLogger())

	lines := make(chan string, 4)
	client.SetLineHandler(func(line string) { lines <- line })

	require.NoError(client.Connect(context.Background(), host, port))
	require.True(client.IsConnected())
	require.NoError(client.Start())
	defer client.Stop()

	require.Equal("C\tRDP1\t42", recvLine(t, lines))
	require.Equal("E\tSYS\t0x1234", recvLine(t, lines))
}

func TestTCPClientSendLine(t *testing.T) {
	require := require.New(t)

	received := make(chan string, 1)
	host, port := startEchoServer(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		line, err := reader.ReadString('\n')
		if err == nil {
			received <- line
		}
	})

	client := NewTCPClient(context.Background(), logger.GetLogger())
	require.NoError(client.Connect(context.Background(), host, port))
	require.NoError(client.Start())
	defer client.Stop()

	require.NoError(client.SendLine("APS\t1/0/1000/0\r\n"))
	require.Equal("APS\t1/0/1000/0\r\n", recvLine(t, received))
}

func TestTCPClientDisconnectEdge(t *testing.T) {
	require := require.New(t)

	host, port := startEchoServer(t, func(conn net.Conn) {
		// close immediately to trigger EOF on the client
		_ = conn.Close()
	})

	client := NewTCPClient(context.Background(), logger.GetLogger())

	var edges atomic.Int32
	disconnected := make(chan struct{}, 4)
	client.SetDisconnectHandler(func() {
		edges.Add(1)
		disconnected <- struct{}{}
	})

	require.NoError(client.Connect(context.Background(), host, port))
	require.NoError(client.Start())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler was not invoked")
	}

	require.False(client.IsConnected())
	require.ErrorIs(client.SendLine("RDP\t1\r\n"), ErrNotConnected)

	// explicit stop after the edge must not fire the handler again
	client.Stop()
	time.Sleep(50 * time.Millisecond)
	require.Equal(int32(1), edges.Load())
}

func TestTCPClientNotConnected(t *testing.T) {
	require := require.New(t)

	client := NewTCPClient(context.Background(), logger.GetLogger())

	require.False(client.IsConnected())
	require.ErrorIs(client.SendLine("RDP\t1\r\n"), ErrNotConnected)
	require.ErrorIs(client.Start(), ErrNotConnected)

	// stopping a never-connected client is a no-op
	client.Stop()
}

func TestTCPClientConnectFailure(t *testing.T) {
	require := require.New(t)

	// grab a port and close it so the dial is refused
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(listener.Close())

	client := NewTCPClient(context.Background(), logger.GetLogger())
	require.Error(client.Connect(context.Background(), "127.0.0.1", port))
	require.False(client.IsConnected())
}

func recvLine(t *testing.T, ch <-chan string) string {
	t.Helper()

	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for line")
		return ""
	}
}
