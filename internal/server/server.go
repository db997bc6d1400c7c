// Package server exposes an engine over the network: the line protocol
// on a TCP port, and an optional HTTP side port serving metrics,
// health, function docs and a WebSocket transport of the same protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pondoc/internal/engine"
	"github.com/roach88/pondoc/internal/eval"
)

// ReadyBanner is printed once the TCP port accepts connections,
// followed by a JSON line holding the port.
const ReadyBanner = "## READY FOR CONNECTIONS ##"

// Options configure a Server.
type Options struct {
	// Port is the TCP port of the line protocol. 0 picks a free port.
	Port int

	// HTTPAddr is the listen address of the side port. Empty disables it.
	HTTPAddr string

	// Document is reloaded into the engine when it changes, if Watch.
	Document string
	Watch    bool

	// Ready receives the banner. Defaults to os.Stdout.
	Ready io.Writer

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server owns the listeners around one engine.
type Server struct {
	eng      *engine.Engine
	registry *eval.Registry
	opts     Options

	ready    chan struct{}
	addr     net.Addr
	httpAddr net.Addr

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a server for eng.
func New(eng *engine.Engine, opts Options) *Server {
	if opts.Ready == nil {
		opts.Ready = os.Stdout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		eng:      eng,
		registry: eng.Document().Registry(),
		opts:     opts,
		ready:    make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Ready is closed once the listeners are up.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the TCP address. Valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// HTTPAddr returns the side port address, or nil. Valid after Ready.
func (s *Server) HTTPAddr() net.Addr {
	return s.httpAddr
}

// Run listens and serves until ctx is cancelled or the engine stops.
// The engine loop, the TCP accept loop, the HTTP side port and the
// file watcher run as one group: the first failure stops the rest.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.opts.Port, err)
	}
	s.addr = ln.Addr()

	var (
		httpSrv *http.Server
		httpLn  net.Listener
	)
	if s.opts.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.opts.HTTPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen on %s: %w", s.opts.HTTPAddr, err)
		}
		s.httpAddr = httpLn.Addr()
		httpSrv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	}

	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Fprintln(s.opts.Ready, ReadyBanner)
	fmt.Fprintf(s.opts.Ready, "{\"port\": %d}\n", port)
	slog.Info("listening", "port", port, "http", s.opts.HTTPAddr)
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := s.eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return s.serveTCP(gctx, ln)
	})

	if httpSrv != nil {
		g.Go(func() error {
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}

	if s.opts.Watch && s.opts.Document != "" {
		g.Go(func() error {
			return s.watch(gctx, s.opts.Document)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		if httpSrv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpSrv.Shutdown(shutdownCtx)
		}
		s.closeConns()
		s.eng.Stop()
		return nil
	})

	err = g.Wait()
	s.wg.Wait()
	slog.Info("server stopped")
	return err
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}
