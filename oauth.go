package oauth

import (
	"log/slog"

	"github.com/verdantlabs/oauth2core/instrumentation"
	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/server"
	"github.com/verdantlabs/oauth2core/storage"
)

// Server is the authorization server engine.
type Server = server.Server

// Config holds the engine configuration.
type Config = server.Config

// Options configures the facade constructor. All fields are optional.
type Options struct {
	// Config overrides the secure defaults. Nil uses the defaults.
	Config *server.Config

	// Logger receives operational logs. Nil uses slog.Default.
	Logger *slog.Logger

	// AuditLogger enables security audit logging when non-nil.
	AuditLogger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing.
	Instrumentation *instrumentation.Instrumentation

	// SecurityEventRate bounds security-event log volume per client.
	// Zero keeps the default of 1 event/sec with a burst of 5.
	SecurityEventRate  int
	SecurityEventBurst int
}

const (
	defaultSecurityEventRate  = 1
	defaultSecurityEventBurst = 5
)

// New assembles an engine over the given storage backend. The returned
// server carries an auditor, a security-event rate limiter, and optional
// instrumentation, all wired the same way for every host. Call
// Server.SecurityEventRateLimiter.Stop when shutting down.
func New(store storage.Storage, opts *Options) (*server.Server, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(store, opts.Config, logger)
	if err != nil {
		return nil, err
	}

	if opts.AuditLogger != nil {
		srv.SetAuditor(security.NewAuditor(opts.AuditLogger, true))
	}

	rate := opts.SecurityEventRate
	if rate <= 0 {
		rate = defaultSecurityEventRate
	}
	burst := opts.SecurityEventBurst
	if burst <= 0 {
		burst = defaultSecurityEventBurst
	}
	srv.SetSecurityEventRateLimiter(security.NewRateLimiter(rate, burst, logger))

	if opts.Instrumentation != nil {
		srv.SetInstrumentation(opts.Instrumentation)
	}

	return srv, nil
}
