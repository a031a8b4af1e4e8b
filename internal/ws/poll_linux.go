//go:build linux

package ws

import (
	"errors"
	"net"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// waitTimeoutMs bounds each epoll_wait so the event loop notices Shutdown.
const waitTimeoutMs = 500

// epoll wraps Linux epoll for WebSocket read readiness. Descriptors are armed
// one-shot: after an event fires the connection is not reported again until
// its worker re-arms it, so at most one worker reads a connection at a time.
type epoll struct {
	fd     int
	events []unix.EpollEvent
}

func newEpoll() (*epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epoll{fd: fd, events: make([]unix.EpollEvent, 128)}, nil
}

func (e *epoll) ctl(op, fd int) error {
	return unix.EpollCtl(e.fd, op, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	})
}

// Add registers fd for a single read-readiness notification.
func (e *epoll) Add(fd int) error { return e.ctl(unix.EPOLL_CTL_ADD, fd) }

// Resume re-arms fd after its notification was handled.
func (e *epoll) Resume(fd int) error { return e.ctl(unix.EPOLL_CTL_MOD, fd) }

// Remove unregisters fd.
func (e *epoll) Remove(fd int) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait returns the descriptors that became ready within timeoutMs.
func (e *epoll) Wait(timeoutMs int) ([]int, error) {
	n, err := unix.EpollWait(e.fd, e.events, timeoutMs)
	if err != nil {
		return nil, err
	}
	fds := make([]int, n)
	for i := 0; i < n; i++ {
		fds[i] = int(e.events[i].Fd)
	}
	return fds, nil
}

// Close closes the epoll file descriptor.
func (e *epoll) Close() error {
	return unix.Close(e.fd)
}

func (s *Server) openPoller() error {
	p, err := newEpoll()
	if err != nil {
		return err
	}
	s.poll = p
	return nil
}

func (s *Server) closePoller() {
	if s.poll != nil {
		_ = s.poll.Close()
	}
}

// watch starts delivering c's frames to the worker pool.
func (s *Server) watch(c *Connection) error {
	if s.poll == nil {
		return errors.New("ws: server not running")
	}
	if c.Fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}
	return s.poll.Add(c.Fd)
}

func (s *Server) unwatch(c *Connection) {
	if s.poll != nil && c.Fd >= 0 {
		_ = s.poll.Remove(c.Fd)
	}
}

// eventLoop waits for ready connections and hands each to a worker, bounded
// by the worker pool semaphore.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		fds, err := s.poll.Wait(waitTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error("epoll wait", zap.Error(err))
			continue
		}

		for _, fd := range fds {
			c := s.conns.GetByFd(fd)
			if c == nil {
				continue
			}

			select {
			case s.workerPool <- struct{}{}:
			case <-s.done:
				return
			}
			go func() {
				defer func() { <-s.workerPool }()
				if s.serveFrame(c, true) {
					if err := s.poll.Resume(c.Fd); err != nil {
						c.Close()
					}
				}
			}()
		}
	}
}

// socketFD extracts the file descriptor from a net.Conn without duplicating
// it, or returns -1.
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
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
