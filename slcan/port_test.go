package slcan

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notnil/simwheel/canbus"
)

// fakeAdapter is the device end of a serial line. Every command line the
// port writes is forwarded on lines, and transmit commands are answered
// with txReply when it is set.
type fakeAdapter struct {
	conn  net.Conn
	lines chan string
}

func newFakeAdapter(t *testing.T, txReply string) (*fakeAdapter, net.Conn) {
	t.Helper()
	host, dev := net.Pipe()
	a := &fakeAdapter{conn: dev, lines: make(chan string, 32)}
	go func() {
		r := bufio.NewReader(dev)
		for {
			s, err := r.ReadString('\r')
			if err != nil {
				close(a.lines)
				return
			}
			a.lines <- s
			if txReply != "" && strings.ContainsRune("tTrR", rune(s[0])) {
				_, _ = io.WriteString(dev, txReply)
			}
		}
	}()
	t.Cleanup(func() { dev.Close() })
	return a, host
}

func (a *fakeAdapter) next(t *testing.T) string {
	t.Helper()
	select {
	case s, ok := <-a.lines:
		require.True(t, ok, "adapter line closed")
		return s
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for adapter line")
	}
	return ""
}

func (a *fakeAdapter) reply(t *testing.T, s string) {
	t.Helper()
	_, err := io.WriteString(a.conn, s)
	require.NoError(t, err)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPortInit(t *testing.T) {
	a, host := newFakeAdapter(t, "")
	p, err := New(host, Options{Bitrate: 500000, Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, "C\r", a.next(t))
	require.Equal(t, "S6\r", a.next(t))
	require.Equal(t, "O\r", a.next(t))
	require.True(t, p.Ready())
}

func TestPortInitListenOnly(t *testing.T) {
	a, host := newFakeAdapter(t, "")
	p, err := New(host, Options{ListenOnly: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, "C\r", a.next(t))
	require.Equal(t, "L\r", a.next(t))
}

func TestPortRejectsBitrate(t *testing.T) {
	_, host := newFakeAdapter(t, "")
	_, err := New(host, Options{Bitrate: 42})
	require.Error(t, err)
}

func TestPortSendReceive(t *testing.T) {
	a, host := newFakeAdapter(t, "z\r")
	p, err := New(host, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()
	a.next(t)
	a.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Send(ctx, canbus.MustFrame(0x100, []byte{6})))
	require.Equal(t, "t100106\r", a.next(t))

	// Acks, error bells and blank lines carry no frame.
	a.reply(t, "z\r\a\r")
	a.reply(t, "t20010A\r")
	f, err := p.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(0x200), f.ID)
	require.Equal(t, []byte{0x0A}, f.Payload())
	require.Equal(t, 1, p.Faults())

	require.ErrorIs(t, p.Send(ctx, canbus.Frame{ID: 0x800}), canbus.ErrInvalidID)
}

func TestPortSendRejectedByAdapter(t *testing.T) {
	a, host := newFakeAdapter(t, "\a")
	p, err := New(host, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()
	a.next(t)
	a.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = p.Send(ctx, canbus.MustFrame(0x100, []byte{1}))
	require.ErrorIs(t, err, ErrAdapter)
	require.ErrorIs(t, err, canbus.ErrRejected)
	require.Equal(t, -int(syscall.EIO), canbus.ErrorCode(err))
	require.Equal(t, "t100101\r", a.next(t))
	require.Equal(t, 1, p.Faults())
}

func TestPortSendWaitsForAck(t *testing.T) {
	a, host := newFakeAdapter(t, "")
	p, err := New(host, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()
	a.next(t)
	a.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Send(ctx, canbus.MustFrame(0x100, []byte{1}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "t100101\r", a.next(t))

	// A late acknowledgement does not leak into the next send.
	a.reply(t, "z\rt20010A\r")
	_, err = p.Receive(context.Background())
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- p.Send(context.Background(), canbus.MustFrame(0x100, []byte{2})) }()
	require.Equal(t, "t100102\r", a.next(t))
	a.reply(t, "\a")
	require.ErrorIs(t, <-errc, ErrAdapter)
}

func TestPortSendHonorsDeadline(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	go func() {
		// Drain the init commands, then stop reading.
		r := bufio.NewReader(dev)
		r.ReadString('\r')
		r.ReadString('\r')
	}()
	p, err := New(host, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Send(ctx, canbus.MustFrame(0x100, []byte{1}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPortClose(t *testing.T) {
	a, host := newFakeAdapter(t, "")
	p, err := New(host, Options{Logger: quietLogger()})
	require.NoError(t, err)
	a.next(t)
	a.next(t)

	require.NoError(t, p.Close())
	require.Equal(t, "C\r", a.next(t))
	require.False(t, p.Ready())
	require.NoError(t, p.Close())

	_, err = p.Receive(context.Background())
	require.ErrorIs(t, err, canbus.ErrClosed)
	require.ErrorIs(t, p.Send(context.Background(), canbus.MustFrame(0x100, []byte{1})), canbus.ErrClosed)
}
