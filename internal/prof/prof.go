// Package prof runs optional Pyroscope continuous profiling.
package prof

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string
	// MutexFraction and BlockRate enable the mutex and block profiles when > 0.
	MutexFraction int
	BlockRate     int
	// OnActive reports when profiling starts and stops.
	OnActive func(active bool)
}

// Start begins profiling when enabled. The returned stop is never nil and is
// safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if err := validAddress(opts.ServerAddress); err != nil {
		return noop, err
	}

	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		Logger:          pyroLogger{ctx: ctx, l: L.With("component", "pyroscope")},
		ProfileTypes:    profileTypes(opts),
	})
	if err != nil {
		resetRates(opts)
		return noop, xerrors.Wrapf(err, "pyroscope start %s", opts.ServerAddress)
	}

	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", opts.AppName)
	if opts.OnActive != nil {
		opts.OnActive(true)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = profiler.Stop()
			resetRates(opts)
			if opts.OnActive != nil {
				opts.OnActive(false)
			}
			L.Info(context.WithoutCancel(ctx), "pyroscope stopped", "server_address", opts.ServerAddress)
		})
	}, nil
}

func validAddress(addr string) error {
	if addr == "" {
		return xerrors.Newf("invalid server address (%q)", addr)
	}
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Newf("invalid server address (%q): want http(s)://host[:port]", addr)
	}
	return nil
}

func profileTypes(opts Options) []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if opts.MutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

func resetRates(opts Options) {
	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(0)
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(0)
	}
}

// pyroLogger routes the profiler's own messages into the service logger.
type pyroLogger struct {
	ctx context.Context
	l   log.Logger
}

func (p pyroLogger) Infof(format string, args ...any) {
	p.l.Debug(p.ctx, fmt.Sprintf(format, args...))
}

func (p pyroLogger) Debugf(format string, args ...any) {
	p.l.Debug(p.ctx, fmt.Sprintf(format, args...))
}

func (p pyroLogger) Errorf(format string, args ...any) {
	p.l.Warn(p.ctx, fmt.Sprintf(format, args...))
}
