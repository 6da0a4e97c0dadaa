package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/xerrors"
)

const (
	DefaultAddr = ":3000"

	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

// NewServer wraps handler with the default timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Server is a listening HTTP server. It is created by Listen or Start and
// stopped by Shutdown.
type Server struct {
	name   string
	logger log.Logger
	srv    *http.Server
	ln     net.Listener

	done chan struct{}
	err  error

	once        sync.Once
	shutdownErr error
}

// Listen binds addr and serves h in the background. The bind happens before
// Listen returns, so a port conflict is reported here and not in a log line.
func Listen(ctx context.Context, logger log.Logger, name, addr string, h http.Handler) (*Server, error) {
	if logger == nil {
		logger = log.Nop()
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s listen %s", name, addr)
	}

	s := &Server{
		name:   name,
		logger: logger,
		srv:    NewServer(addr, h),
		ln:     ln,
		done:   make(chan struct{}),
	}
	s.srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	go func() {
		defer close(s.done)
		logger.Info(ctx, "http server listening", "server", name, "addr", s.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.err = xerrors.Wrapf(err, "%s serve", name)
			logger.Error(ctx, s.err, "http server error", "server", name)
		}
	}()
	return s, nil
}

// Start builds the pipeline from opts and listens on opts.Addr.
func Start(ctx context.Context, opts Options) (*Server, error) {
	h, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return Listen(ctx, opts.Logger, "http", addr, h)
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Done is closed once the serve loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err reports why the serve loop exited. It is nil after a clean shutdown and
// only meaningful once Done is closed.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Only the first call does anything; later calls return
// its result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.logger.Info(ctx, "http server shutting down", "server", s.name)
		if err := s.srv.Shutdown(ctx); err != nil {
			s.shutdownErr = xerrors.Wrapf(err, "%s shutdown", s.name)
			_ = s.srv.Close()
		}
		<-s.done
	})
	return s.shutdownErr
}
