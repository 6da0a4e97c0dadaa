package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/keithlinneman/basicweb/internal/bodyparse"
	"github.com/keithlinneman/basicweb/internal/cfg"
	"github.com/keithlinneman/basicweb/internal/health"
	"github.com/keithlinneman/basicweb/internal/httpmw"
	"github.com/keithlinneman/basicweb/internal/httpserver"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/metrics"
	"github.com/keithlinneman/basicweb/internal/opshttp"
	"github.com/keithlinneman/basicweb/internal/otelx"
	"github.com/keithlinneman/basicweb/internal/pipeline"
	"github.com/keithlinneman/basicweb/internal/prof"
	"github.com/keithlinneman/basicweb/internal/ratelimit"
	"github.com/keithlinneman/basicweb/internal/routes"
	"github.com/keithlinneman/basicweb/internal/static"
	v "github.com/keithlinneman/basicweb/internal/version"
	"github.com/keithlinneman/basicweb/internal/webassets"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.Short())
		return 0
	}

	stderrf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}

	// the real environment may name the env file, so fill once quietly
	// before loading it and again after
	cfg.FillFromEnv(flag.CommandLine, "", nil)
	loadedEnv, err := cfg.LoadEnvFile(conf.EnvFile)
	if err != nil {
		stderrf("config error: %v", err)
		return 1
	}
	cfg.FillFromEnv(flag.CommandLine, "", stderrf)

	if err := cfg.Validate(conf); err != nil {
		stderrf("config error: %v", err)
		return 1
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		stderrf("invalid log level %s: %v", conf.LogLevel, err)
		return 1
	}
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		stackLvl, err = log.ParseLevel(conf.StacktraceLevel)
	}
	if err != nil {
		stderrf("invalid stacktrace level %s: %v", conf.StacktraceLevel, err)
		return 1
	}
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		stderrf("logger init error: %v", err)
		return 1
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"port", conf.Port,
		"admin_port", conf.AdminPort,
		"public_dir", conf.PublicDir,
		"env_file", conf.EnvFile,
		"env_file_loaded", loadedEnv,
		"max_body_bytes", conf.MaxBodyBytes,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_rate_limit", conf.EnableRateLimit,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Sample:   conf.TraceSample,
		Service:  vi.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}

	publicFS, embedded, err := webassets.Resolve(conf.PublicDir)
	if err != nil {
		L.Error(ctx, err, "public directory unusable")
		return 1
	}
	if embedded {
		L.Info(ctx, "public directory not found, serving embedded default site", "public_dir", conf.PublicDir)
	}
	files, err := static.New(static.Options{
		FS:    publicFS,
		OnHit: func(c static.Class) { m.IncStaticHit(string(c)) },
	})
	if err != nil {
		L.Error(ctx, err, "failed to create static file handler")
		return 1
	}

	var rateLimitMW httpmw.Middleware
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// logged once per client until its bucket is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "client.address", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	errs := &pipeline.ErrorHandler{
		Logger:    L,
		OnFailure: m.IncPipelineFailure,
		OnPanic:   m.IncHttpPanic,
	}

	srv, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Addr:         listenAddr(conf.Port),
		Routes:       routes.Table(),
		Static:       files,
		Errors:       errs,
		MaxBodyBytes: conf.MaxBodyBytes,
		BodyParse: bodyparse.Options{
			OnParse: func(k bodyparse.Kind, outcome string) { m.ObserveBodyParse(k.String(), outcome) },
		},
		TrustedHops: conf.TrustedHops,
		HSTS:        conf.HSTS,
		MetricsMW:   m.Middleware,
		RateLimitMW: rateLimitMW,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		return 1
	}
	L.Info(ctx, "server is running", "url", "http://localhost:"+strconv.Itoa(conf.Port))

	var gate health.ShutdownGate
	var ops *httpserver.Server
	if conf.AdminPort != 0 {
		ops, err = opshttp.Start(ctx, L, opshttp.Options{
			Addr:        listenAddr(conf.AdminPort),
			Metrics:     m.Handler(),
			EnablePprof: conf.EnablePprof,
			Health:      health.Fixed(true, ""),
			Readiness:   health.All(gate.Probe(), files),
			OnPanic:     m.IncHttpPanic,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			_ = srv.Shutdown(context.Background())
			return 1
		}
	}

	code := 0
	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
	case <-srv.Done():
		L.Error(context.Background(), srv.Err(), "http server stopped unexpectedly")
		code = 1
	}
	stopSignals()

	gate.Close("draining")
	if conf.DrainDelay > 0 && code == 0 {
		drain(L, conf.DrainDelay)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "http server shutdown")
		code = 1
	}
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			L.Error(shutdownCtx, err, "ops http server shutdown")
		}
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
	return code
}

// drain keeps serving with readiness failing so load balancers stop sending
// new requests. A second signal ends it early.
func drain(L log.Logger, d time.Duration) {
	ctx := context.Background()
	L.Info(ctx, "draining before closing listeners", "drain_delay", d.String())

	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
