package opshttp

import (
	"net/http"

	"github.com/keithlinneman/basicweb/internal/health"
)

type Options struct {
	// Addr defaults to ":9000".
	Addr        string
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called for every panic recovered on the ops listener.
	OnPanic func()
}
