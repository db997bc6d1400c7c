package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
)

// maxLineSize bounds one request line.
const maxLineSize = 16 << 20

func (s *Server) serveTCP(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// handleConn reads newline-framed requests until the peer hangs up.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	c := newClient()
	id, err := s.eng.Connect(c.sink)
	if err != nil {
		return
	}
	c.setID(id)
	slog.Debug("tcp client connected", "client", id, "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	defer close(done)
	go func() {
		w := bufio.NewWriter(conn)
		for {
			select {
			case lines := <-c.out:
				for _, l := range lines {
					w.WriteString(l)
					w.WriteByte('\n')
				}
				if err := w.Flush(); err != nil {
					conn.Close()
					return
				}
			case <-c.slow:
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.eng.Send(id, line); err != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("tcp read failed", "client", id, "error", err)
	}
	s.eng.Disconnect(id)
}
