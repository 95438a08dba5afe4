package telemetry

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Collector payload formats.
const (
	// FormatLineProtocol ships gzip-compressed Influx line protocol.
	FormatLineProtocol = "line"
	// FormatRemoteWrite ships snappy-framed Prometheus remote write.
	FormatRemoteWrite = "remotewrite"
)

// Config defines pipeline configuration. The zero value plus a collector
// URL is a working setup; every other field has a default applied by New.
type Config struct {
	// Collector identifies the remote endpoint batches are shipped to.
	Collector CollectorConfig

	// Disabled turns the whole pipeline into a no-op. Submit returns
	// immediately without constructing a point.
	Disabled bool

	// BufferCapacity is the bounded queue size between producers and the
	// shipper. Sized for burst absorption. Default: 32768.
	BufferCapacity int

	// DropPolicy selects the overflow behavior. Default: DropNewest.
	DropPolicy DropPolicy

	// MaxBatchSize is the point-count flush trigger. Default: 1000.
	MaxBatchSize int

	// MaxBatchBytes caps a batch's serialized payload; oversized batches
	// are split before sending. Default: 512KB.
	MaxBatchBytes int

	// FlushInterval is the staleness bound: a partial batch is flushed
	// this long after the previous flush. Default: 2s.
	FlushInterval time.Duration

	// RequestTimeout bounds each collector request. Default: 10s.
	RequestTimeout time.Duration

	// MaxRetries is the attempt budget per batch (including the first).
	// Default: 3.
	MaxRetries int

	// RetryBackoff is the initial delay between attempts. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the delay between attempts. Default: 30s.
	MaxRetryBackoff time.Duration

	// ShutdownGrace bounds the final flush on Shutdown. Points still
	// unshipped when it elapses are dropped and counted. Default: 5s.
	ShutdownGrace time.Duration

	// ExtraTags are constant tags stamped on every point alongside the
	// host tag (e.g. environment or cluster labels).
	ExtraTags map[string]string

	// MetricsAllow restricts shipping to the named metrics. Empty means
	// all metrics are shipped.
	MetricsAllow []string

	// SelfReport, when true, emits a telemetry_pipeline point with the
	// health counters on each flush interval.
	SelfReport bool

	// HTTPClient allows injecting a custom HTTP client for testing.
	// If nil, a default client is created with RequestTimeout.
	HTTPClient HTTPDoer

	// Logger receives shipping failures and drop warnings.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// CollectorConfig identifies the collector endpoint and its write
// credentials.
type CollectorConfig struct {
	// URL is the write endpoint batches are POSTed to.
	URL string

	// Format selects the payload encoding. Default: FormatLineProtocol.
	Format string

	// Token is sent as an Authorization: Token header when set.
	Token string

	// Username and Password are sent as basic auth when Token is unset.
	Username string
	Password string
}

func (c *Config) withDefaults() {
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = defaultBufferCapacity
	}
	if c.DropPolicy == "" {
		c.DropPolicy = DropNewest
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 512 * 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.Collector.Format == "" {
		c.Collector.Format = FormatLineProtocol
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const defaultBufferCapacity = 32768

// Validate checks the configuration. A disabled pipeline is always valid.
func (c *Config) Validate() error {
	if c.Disabled {
		return nil
	}
	if c.Collector.URL == "" {
		return fmt.Errorf("%w: collector URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Collector.URL)
	if err != nil {
		return fmt.Errorf("%w: collector URL: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: collector URL scheme %q (want http or https)", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: collector URL has no host", ErrInvalidConfig)
	}
	switch c.Collector.Format {
	case "", FormatLineProtocol, FormatRemoteWrite:
	default:
		return fmt.Errorf("%w: unknown collector format %q", ErrInvalidConfig, c.Collector.Format)
	}
	if c.Collector.Token != "" && c.Collector.Username != "" {
		return fmt.Errorf("%w: token and basic auth are mutually exclusive", ErrInvalidConfig)
	}
	switch c.DropPolicy {
	case "", DropNewest, DropOldest:
	default:
		return fmt.Errorf("%w: unknown drop policy %q", ErrInvalidConfig, c.DropPolicy)
	}
	return nil
}

// fileConfig is the YAML shape of Config. Durations are strings so config
// files can say "500ms" or "10s".
type fileConfig struct {
	Collector struct {
		URL      string `yaml:"url"`
		Format   string `yaml:"format"`
		Token    string `yaml:"token"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"collector"`
	Disabled        bool              `yaml:"disabled"`
	BufferCapacity  int               `yaml:"buffer_capacity"`
	DropPolicy      string            `yaml:"drop_policy"`
	MaxBatchSize    int               `yaml:"max_batch_size"`
	MaxBatchBytes   int               `yaml:"max_batch_bytes"`
	FlushInterval   string            `yaml:"flush_interval"`
	RequestTimeout  string            `yaml:"request_timeout"`
	MaxRetries      int               `yaml:"max_retries"`
	RetryBackoff    string            `yaml:"retry_backoff"`
	MaxRetryBackoff string            `yaml:"max_retry_backoff"`
	ShutdownGrace   string            `yaml:"shutdown_grace"`
	ExtraTags       map[string]string `yaml:"extra_tags"`
	MetricsAllow    []string          `yaml:"metrics_allow"`
	SelfReport      bool              `yaml:"self_report"`
}

// LoadConfig reads a YAML pipeline configuration from path and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML pipeline configuration and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		Disabled:       fc.Disabled,
		BufferCapacity: fc.BufferCapacity,
		DropPolicy:     DropPolicy(fc.DropPolicy),
		MaxBatchSize:   fc.MaxBatchSize,
		MaxBatchBytes:  fc.MaxBatchBytes,
		MaxRetries:     fc.MaxRetries,
		ExtraTags:      fc.ExtraTags,
		MetricsAllow:   fc.MetricsAllow,
		SelfReport:     fc.SelfReport,
	}
	cfg.Collector = CollectorConfig{
		URL:      fc.Collector.URL,
		Format:   fc.Collector.Format,
		Token:    fc.Collector.Token,
		Username: fc.Collector.Username,
		Password: fc.Collector.Password,
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.FlushInterval, "flush_interval", &cfg.FlushInterval},
		{fc.RequestTimeout, "request_timeout", &cfg.RequestTimeout},
		{fc.RetryBackoff, "retry_backoff", &cfg.RetryBackoff},
		{fc.MaxRetryBackoff, "max_retry_backoff", &cfg.MaxRetryBackoff},
		{fc.ShutdownGrace, "shutdown_grace", &cfg.ShutdownGrace},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
