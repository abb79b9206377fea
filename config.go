package clique

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blockberries/clique/otel"
)

// Default configuration values.
const (
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 60 * time.Second
	DefaultStatusInterval = 20 * time.Second
	DefaultDialTimeout    = 60 * time.Second
)

// Config holds the optional settings of a Service. The protocol timeouts
// are fixed and not part of it.
type Config struct {
	// RetryBaseDelay is the delay before redialing a peer after the first
	// failed attempt. It doubles with every further failure.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the redial delay.
	RetryMaxDelay time.Duration

	// StatusInterval is how often the status reports are logged.
	StatusInterval time.Duration

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration

	// Logger is the logger for the service. If nil, a NopLogger is used.
	// The logger must be safe for concurrent use.
	Logger Logger

	// Metrics is the metrics collector. If nil, a NopMetrics is used.
	// The metrics collector must be safe for concurrent use.
	Metrics Metrics

	// Tracer creates spans for connection attempts. If nil, tracing is
	// disabled.
	Tracer *otel.Tracer

	// Clock drives retries and status ticks. If nil, the wall clock is used.
	Clock clock.Clock
}

// Validate checks that the configuration is valid and returns an error
// describing any problems found.
func (c *Config) Validate() error {
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("%w: retry base delay cannot be negative", ErrInvalidConfig)
	}
	if c.RetryMaxDelay < 0 {
		return fmt.Errorf("%w: retry max delay cannot be negative", ErrInvalidConfig)
	}
	if c.RetryMaxDelay > 0 && c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("%w: retry max delay cannot be less than base delay", ErrInvalidConfig)
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("%w: status interval cannot be negative", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults sets default values for any unset optional fields.
func (c *Config) applyDefaults() {
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = otel.NewTracer(nil)
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Option is a functional option for configuring a Service.
type Option func(*Config)

// WithRetryBaseDelay sets the initial redial delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryBaseDelay = d
	}
}

// WithRetryMaxDelay sets the maximum redial delay after backoff.
func WithRetryMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryMaxDelay = d
	}
}

// WithStatusInterval sets how often the status reports are logged.
func WithStatusInterval(d time.Duration) Option {
	return func(c *Config) {
		c.StatusInterval = d
	}
}

// WithDialTimeout sets the timeout of a single dial.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DialTimeout = d
	}
}

// WithLogger sets the logger for the service.
// The logger must be safe for concurrent use.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector for the service.
// The metrics collector must be safe for concurrent use.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer for connection attempts.
func WithTracer(t *otel.Tracer) Option {
	return func(c *Config) {
		c.Tracer = t
	}
}

// WithClock replaces the wall clock, typically with a mock in tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// NewConfig applies the options and the defaults for everything left
// unset. It does not validate the result.
func NewConfig(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()
	return c
}
