//go:build !linux

package ws

import "net"

// epoll is unused off Linux: every connection gets its own read goroutine.
type epoll struct{}

func (s *Server) openPoller() error { return nil }

func (s *Server) closePoller() {}

// watch starts a read goroutine for c that exits when c is closed.
func (s *Server) watch(c *Connection) error {
	go func() {
		for s.serveFrame(c, false) {
		}
	}()
	return nil
}

func (s *Server) unwatch(*Connection) {}

func (s *Server) eventLoop() {}

func socketFD(net.Conn) int { return -1 }
