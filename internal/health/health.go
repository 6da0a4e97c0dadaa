// Package health provides composable health probes and the liveness and
// readiness handlers served on the ops listener.
//
// [ShutdownGate] flips readiness to failing as soon as shutdown starts so a
// load balancer stops routing new requests while in-flight ones drain.
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/keithlinneman/basicweb/internal/xerrors"
)

// Probe is evaluated at request time; nil means healthy.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

type ShutdownGate struct {
	closed atomic.Bool
	reason atomic.Value
}

// Close makes the gate's probe fail with reason.
func (g *ShutdownGate) Close(reason string) {
	g.reason.Store(reason)
	g.closed.Store(true)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.closed.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}

// HealthzHandler answers 200 "ok" while p passes and 503 with the reason otherwise.
func HealthzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ok\n") }

// ReadyzHandler answers 200 "ready" while p passes and 503 with the reason otherwise.
func ReadyzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ready\n") }

func probeHandler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
