// Package opshttp serves the admin listener: metrics, health probes and,
// when enabled, pprof. It is meant for a private port and rejects peers
// from public addresses.
package opshttp

import (
	"context"
	"net/http"

	"github.com/keithlinneman/basicweb/internal/health"
	"github.com/keithlinneman/basicweb/internal/httpserver"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/pipeline"
)

const DefaultAddr = ":9000"

// NewHandler builds the ops mux.
func NewHandler(L log.Logger, opts Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("GET /-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// pprof, or shadow it with 404s
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}

	errs := &pipeline.ErrorHandler{Logger: L.With("server", "ops"), OnPanic: opts.OnPanic}
	return errs.Recover(requireNonPublicNetwork(L, mux))
}

// Start listens on opts.Addr and serves the ops mux until Shutdown.
func Start(ctx context.Context, L log.Logger, opts Options) (*httpserver.Server, error) {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return httpserver.Listen(ctx, L, "ops", addr, NewHandler(L, opts))
}
