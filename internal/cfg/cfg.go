package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/basicweb/internal/log"
)

type App struct {
	Port              int
	AdminPort         int
	PublicDir         string
	EnvFile           string
	MaxBodyBytes      int64
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	EnablePprof       bool
	EnableTracing     bool
	OTLPEndpoint      string
	TraceSample       float64
	EnablePyroscope   bool
	PyroServer        string
	PyroTenantID      string
	EnableRateLimit   bool
	RateLimitRPS      float64
	RateLimitBurst    int
	TrustedHops       int
	HSTS              bool
	DrainDelay        time.Duration
	ShutdownTimeout   time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.IntVar(&c.Port, "port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port for metrics/health/pprof (0 disables)")
	fs.StringVar(&c.PublicDir, "public-dir", "public", "directory served as static files; embedded default site if missing")
	fs.StringVar(&c.EnvFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 100<<10, "max request body size accepted by the body parser")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", false, "Enable per-ip rate limiting")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-ip token refill rate (requests/second)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-ip bucket size")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in X-Forwarded-For (0 ignores the header)")
	fs.BoolVar(&c.HSTS, "hsts", false, "send Strict-Transport-Security (enable when served over HTTPS)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 0, "time to fail readiness before closing listeners on shutdown")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "max time to wait for in-flight requests on shutdown")
}

// LoadEnvFile reads a dotenv file into the process environment. Variables
// that are already set keep their value. A missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("load env file %s: %w", path, err)
	}
	return true, nil
}

// EnvKey maps flag "foo-bar" to PREFIX + "FOO_BAR".
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables (see EnvKey).
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 1..65535)", c.Port))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 0..65535)", c.AdminPort))
	}
	if c.AdminPort != 0 && c.AdminPort == c.Port {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and PORT must differ (both %d)", c.Port))
	}

	if c.PublicDir == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_DIR is required"))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be > 0)", c.MaxBodyBytes))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := validHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.EnableRateLimit {
		if c.RateLimitRPS <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be > 0 (got %v)", c.RateLimitRPS))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
		}
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must be >= 0 (got %s)", c.DrainDelay))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0 (got %s)", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

func validHostPort(s string) error {
	if strings.Contains(s, "://") {
		return errors.New("scheme not allowed")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
