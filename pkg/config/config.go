// Package config loads client settings from YAML with NSCLIENT_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete client configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Transport TransportConfig `yaml:"transport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

// ClientConfig configures the dispatcher.
type ClientConfig struct {
	// ReadTimeout bounds synchronous waits. Zero waits forever.
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	SigningMode           string        `yaml:"signing_mode"`
	GCRetention           time.Duration `yaml:"gc_retention"`
	ForceCoordinatedReads bool          `yaml:"force_coordinated_reads"`
	// Proxy sends every non-anycast command to one fixed endpoint.
	Proxy string `yaml:"proxy"`
}

// ResolverConfig configures active replica resolution.
type ResolverConfig struct {
	Bootstrap     []string      `yaml:"bootstrap"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// TransportConfig configures the NATS transport.
type TransportConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Address       string `yaml:"address"`
	// Token or SealedCredentials, when set, authenticate the connection.
	Token             string `yaml:"token"`
	SealedCredentials string `yaml:"sealed_credentials"`
	KeeperURL         string `yaml:"keeper_url"`
	// Encoding is the envelope format, "protobuf" or "msgpack".
	Encoding string `yaml:"encoding"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName     string  `yaml:"service_name"`
	Environment     string  `yaml:"environment"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

// JournalConfig configures the stale response journal. An empty DSN disables
// it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Client: ClientConfig{
			ReadTimeout: 20 * time.Second,
			SigningMode: "asymmetric",
			GCRetention: 60 * time.Second,
		},
		Resolver: ResolverConfig{
			RetryInterval: time.Second,
		},
		Transport: TransportConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "nsclient.ep",
			Encoding:      "protobuf",
		},
		Telemetry: TelemetryConfig{
			ServiceName:     "nsclient",
			Environment:     "dev",
			TraceSampleRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NSCLIENT_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = d
		return nil
	}

	if err := dur("NSCLIENT_READ_TIMEOUT", &c.Client.ReadTimeout); err != nil {
		return err
	}
	if err := dur("NSCLIENT_GC_RETENTION", &c.Client.GCRetention); err != nil {
		return err
	}
	if err := dur("NSCLIENT_RESOLUTION_RETRY_INTERVAL", &c.Resolver.RetryInterval); err != nil {
		return err
	}
	str("NSCLIENT_SIGNING_MODE", &c.Client.SigningMode)
	str("NSCLIENT_PROXY", &c.Client.Proxy)
	if v, ok := lookup("NSCLIENT_FORCE_COORDINATED_READS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: NSCLIENT_FORCE_COORDINATED_READS: %v", ErrInvalid, err)
		}
		c.Client.ForceCoordinatedReads = b
	}
	if v, ok := lookup("NSCLIENT_BOOTSTRAP"); ok {
		c.Resolver.Bootstrap = splitList(v)
	}
	str("NSCLIENT_NATS_URL", &c.Transport.URL)
	str("NSCLIENT_NATS_TOKEN", &c.Transport.Token)
	str("NSCLIENT_WIRE_ENCODING", &c.Transport.Encoding)
	str("NSCLIENT_JOURNAL_DSN", &c.Journal.DSN)
	str("NSCLIENT_LOG_LEVEL", &c.Log.Level)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Client.ReadTimeout < 0 {
		errs = append(errs, errors.New("client.read_timeout must not be negative"))
	}
	if c.Client.GCRetention <= 0 {
		errs = append(errs, errors.New("client.gc_retention must be positive"))
	}
	switch c.Client.SigningMode {
	case "", "asymmetric", "hybrid", "hybrid-secret-key":
	default:
		errs = append(errs, fmt.Errorf("client.signing_mode %q is not supported", c.Client.SigningMode))
	}
	if c.Resolver.RetryInterval <= 0 {
		errs = append(errs, errors.New("resolver.retry_interval must be positive"))
	}
	for _, ep := range c.Resolver.Bootstrap {
		if !validEndpoint(ep) {
			errs = append(errs, fmt.Errorf("resolver.bootstrap endpoint %q is not a valid address", ep))
		}
	}
	if c.Client.Proxy != "" && !validEndpoint(c.Client.Proxy) {
		errs = append(errs, fmt.Errorf("client.proxy %q is not a valid address", c.Client.Proxy))
	}
	if c.Transport.URL != "" && !govalidator.IsRequestURL(c.Transport.URL) {
		errs = append(errs, fmt.Errorf("transport.url %q is not a URL", c.Transport.URL))
	}
	switch c.Transport.Encoding {
	case "", "protobuf", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("transport.encoding %q is not supported", c.Transport.Encoding))
	}
	if c.Transport.SealedCredentials != "" && c.Transport.KeeperURL == "" {
		errs = append(errs, errors.New("transport.keeper_url is required with sealed_credentials"))
	}
	if c.Telemetry.TraceSampleRate < 0 || c.Telemetry.TraceSampleRate > 1 {
		errs = append(errs, errors.New("telemetry.trace_sample_rate must be within [0, 1]"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// validEndpoint accepts host:port dial strings and bare logical endpoint
// names such as "recon-1".
func validEndpoint(ep string) bool {
	if govalidator.IsDialString(ep) {
		return true
	}
	return govalidator.StringMatches(ep, `^[A-Za-z0-9][A-Za-z0-9._-]*$`)
}
