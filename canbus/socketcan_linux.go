//go:build linux

package canbus

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"
	"unsafe"
)

// socketCAN implements Bus over Linux SocketCAN using raw syscalls only.
type socketCAN struct {
	iface  string
	fd     int
	file   *os.File
	closed chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name (e.g., "vcan0").
// The returned Bus implements Readier by checking IFF_UP on the interface.
func DialSocketCAN(iface string) (Bus, error) {
	// Create socket: AF_CAN, SOCK_RAW, CAN_RAW (protocol 1)
	const afCAN = 29
	const canRaw = 1
	fd, err := syscall.Socket(afCAN, syscall.SOCK_RAW, canRaw)
	if err != nil {
		return nil, err
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}

	// struct sockaddr_can { sa_family_t can_family; int can_ifindex; union { ... } addr; };
	type sockaddrCAN struct {
		Family  uint16
		_pad    uint16
		Ifindex int32
		Addr    [8]byte
	}
	sa := sockaddrCAN{Family: afCAN, Ifindex: int32(netIf.Index)}
	_, _, e := syscall.Syscall(syscall.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if e != 0 {
		syscall.Close(fd)
		return nil, e
	}

	// Non-blocking mode for context-aware operations
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "socketcan:"+iface)
	return &socketCAN{iface: iface, fd: fd, file: f, closed: make(chan struct{})}, nil
}

// Ready reports whether the socket is open and the interface is up.
func (s *socketCAN) Ready() bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	up, err := IsInterfaceUp(s.iface)
	return err == nil && up
}

func (s *socketCAN) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	// Closing file also closes the fd
	return s.file.Close()
}

func (s *socketCAN) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Send writes one frame using the Linux can_frame binary layout. ENOBUFS
// (full tx queue) is retried until ctx is done.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		if s.isClosed() {
			return ErrClosed
		}
		n, werr := syscall.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return errors.New("canbus: short write")
			}
			return nil
		}
		if errors.Is(werr, syscall.EAGAIN) || errors.Is(werr, syscall.ENOBUFS) {
			if err := s.wait(ctx, false, true); err != nil {
				return err
			}
			continue
		}
		return werr
	}
}

// Receive reads one frame (blocking respecting context).
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	buf := make([]byte, frameSize)
	for {
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, rerr := syscall.Read(s.fd, buf)
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, errors.New("canbus: short read")
			}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if errors.Is(rerr, syscall.EAGAIN) {
			if err := s.wait(ctx, true, false); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{}, rerr
	}
}

// wait blocks in select(2) until the fd is ready, ctx is done, or a short
// poll interval passes so that Close is noticed.
func (s *socketCAN) wait(ctx context.Context, r, w bool) error {
	const poll = 50 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := poll
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < d {
				d = left
			}
			if d <= 0 {
				return context.DeadlineExceeded
			}
		}
		timeout := syscall.NsecToTimeval(d.Nanoseconds())

		var readfds, writefds syscall.FdSet
		if r {
			fdSetAdd(&readfds, s.fd)
		}
		if w {
			fdSetAdd(&writefds, s.fd)
		}
		n, err := syscall.Select(s.fd+1, &readfds, &writefds, nil, &timeout)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 || s.isClosed() {
			return nil
		}
	}
}

// Helpers for FD sets since x/sys is not allowed.
func fdSetAdd(set *syscall.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << (uint(fd) % 64)
}
