//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// minEventBuf is the starting capacity of the epoll wait buffer. The buffer
// doubles whenever a wait fills it completely, so a burst of ready sockets
// settles into a single syscall per round.
const minEventBuf = 128

// Epoll multiplexes reads across every WebSocket connection on a single
// kernel wait instead of a goroutine per connection. Sockets are registered
// for input and peer close (EPOLLRDHUP), so a half-closed connection wakes
// the event loop and fails its next read instead of lingering until the
// heartbeat notices.
type Epoll struct {
	fd int

	mu          sync.RWMutex
	connections map[int]net.Conn // fd -> net.Conn

	events []unix.EpollEvent // wait buffer; touched only by the event loop
}

// NewEpoll creates an epoll instance with close-on-exec set.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:          fd,
		connections: make(map[int]net.Conn),
		events:      make([]unix.EpollEvent, minEventBuf),
	}, nil
}

// Add registers a connection for readiness notifications. Connections that
// expose no socket descriptor are rejected.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return fmt.Errorf("ws: connection has no socket descriptor")
	}

	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.connections[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove unregisters a connection. Removing a connection whose descriptor is
// already gone (closed socket, concurrent removal) is a no-op, so teardown
// paths can race without surfacing spurious errors.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)

	e.mu.Lock()
	if fd < 0 {
		// The socket is already closed and its fd unrecoverable; find the
		// stale map entry by value.
		for k, v := range e.connections {
			if v == conn {
				fd = k
				break
			}
		}
	}
	delete(e.connections, fd)
	e.mu.Unlock()

	if fd < 0 {
		return nil
	}
	err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Wait blocks until one or more registered connections are ready and
// returns the ready set. Connections removed between epoll_wait returning
// and the lookup are silently skipped. A wait that saturates the buffer
// doubles it for the next round.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.connections[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()

	if n == len(e.events) {
		e.events = make([]unix.EpollEvent, 2*len(e.events))
	}
	return conns, nil
}

// Close closes the epoll file descriptor and forgets all registrations.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.connections = nil
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD extracts the file descriptor from a net.Conn using the
// SyscallConn interface. This avoids duplicating the file descriptor (which
// File() does), keeping the original fd valid for epoll registration.
// Returns -1 when the connection exposes no usable descriptor.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	if err := raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	}); err != nil {
		return -1
	}
	return fd
}
