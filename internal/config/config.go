// Package config loads the binder configuration from a TOML file and the
// environment
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/binder"
)

// Binding types
const (
	BindingConsumer = "consumer"
	BindingProducer = "producer"
)

// Sink types
const (
	SinkLog  = "log"
	SinkNATS = "nats"
	SinkHTTP = "http"
)

const defaultConfigPath = "binder.toml"

// Config is the complete binder configuration
type Config struct {
	HTTP     HTTPConfig               `toml:"http"`
	AWS      AWSConfig                `toml:"aws"`
	NATS     NATSConfig               `toml:"nats"`
	Health   HealthConfig             `toml:"health"`
	Default  DefaultConfig            `toml:"default"`
	Bindings map[string]BindingConfig `toml:"bindings"`

	// DevMode enables human-readable console logging
	DevMode bool `toml:"dev_mode"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Port            int `toml:"port"`
	ShutdownTimeout int `toml:"shutdown_timeout"`
}

// AWSConfig configures the SQS client
type AWSConfig struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	CircuitBreaker  bool   `toml:"circuit_breaker"`
}

// NATSConfig configures the NATS connection used by nats sinks
type NATSConfig struct {
	URL string `toml:"url"`
}

// HealthConfig configures the reachability probe
type HealthConfig struct {
	// ProbeTimeout in seconds
	ProbeTimeout int `toml:"probe_timeout"`
}

// DefaultConfig holds settings merged into every binding
type DefaultConfig struct {
	Consumer ConsumerConfig `toml:"consumer"`
}

// ConsumerConfig holds the consumer settings of a binding. Unset fields fall
// back to [default.consumer], then to the built-in defaults.
type ConsumerConfig struct {
	Concurrency         *int    `toml:"concurrency"`
	MaxNumberOfMessages *int32  `toml:"max_number_of_messages"`
	VisibilityTimeout   *int    `toml:"visibility_timeout"`
	WaitTimeout         *int    `toml:"wait_timeout"`
	QueueStopTimeout    *int    `toml:"queue_stop_timeout"`
	SNSFanout           *bool   `toml:"sns_fanout"`
	AckMode             *string `toml:"ack_mode"`
}

// BindingConfig describes one consumer or producer binding
type BindingConfig struct {
	// Destination is a queue name or URL, consumers accept a comma
	// separated list
	Destination string `toml:"destination"`
	Type        string `toml:"type"`
	// Sink selects where a consumer forwards messages
	Sink string `toml:"sink"`
	// Subject is the NATS subject for nats sinks, defaults to the binding name
	Subject string `toml:"subject"`
	// URL and AuthToken configure http sinks
	URL       string         `toml:"url"`
	AuthToken string         `toml:"auth_token"`
	Consumer  ConsumerConfig `toml:"consumer"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ShutdownTimeout: 10,
		},
		AWS: AWSConfig{
			Region:         "eu-central-1",
			CircuitBreaker: true,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Health: HealthConfig{
			ProbeTimeout: 5,
		},
		Bindings: map[string]BindingConfig{},
	}
}

// Load reads the file named by SQSBINDER_CONFIG (binder.toml by default),
// applies environment overrides and validates the result. A missing default
// file is not an error.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv("SQSBINDER_CONFIG")
	if !explicit || path == "" {
		path = defaultConfigPath
	}

	cfg, err := LoadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		log.Info().Str("path", path).Msg("No config file found, using defaults")
		cfg = Default()
	default:
		return nil, err
	}

	FromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and decodes a TOML config file without environment
// overrides
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data on top of the defaults
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log.Warn().Strs("keys", keys).Msg("Ignoring unknown config keys")
	}

	if cfg.Bindings == nil {
		cfg.Bindings = map[string]BindingConfig{}
	}
	return cfg, nil
}

// Validate checks every binding and the global settings
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.Health.ProbeTimeout < 1 {
		errs = append(errs, fmt.Errorf("health.probe_timeout must be at least 1, got %d", c.Health.ProbeTimeout))
	}
	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}

	for _, name := range c.BindingNames() {
		if err := c.validateBinding(name, c.Bindings[name]); err != nil {
			errs = append(errs, fmt.Errorf("binding %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateBinding(name string, b BindingConfig) error {
	if strings.TrimSpace(b.Destination) == "" {
		return fmt.Errorf("%w: destination is required", binder.ErrConfiguration)
	}

	switch b.Type {
	case "", BindingConsumer:
	case BindingProducer:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", binder.ErrConfiguration, b.Type)
	}

	switch b.Sink {
	case "", SinkLog, SinkNATS:
	case SinkHTTP:
		if u, err := url.Parse(b.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: http sink needs an http(s) url, got %q", binder.ErrConfiguration, b.URL)
		}
	default:
		return fmt.Errorf("%w: unknown sink %q", binder.ErrConfiguration, b.Sink)
	}

	opts := c.ConsumerOptions(name)
	if opts.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", binder.ErrConfiguration, opts.Concurrency)
	}
	if _, err := binder.ParseAckMode(string(opts.AckMode)); err != nil {
		return err
	}
	return opts.Poll.Validate()
}

// BindingNames returns the binding names in sorted order
func (c *Config) BindingNames() []string {
	names := make([]string, 0, len(c.Bindings))
	for name := range c.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConsumerOptions resolves the consumer settings of a binding: binding
// values first, then [default.consumer], then the built-in defaults
func (c *Config) ConsumerOptions(name string) binder.ConsumerOptions {
	opts := binder.DefaultConsumerOptions()
	apply(&opts, c.Default.Consumer)
	apply(&opts, c.Bindings[name].Consumer)
	return opts
}

func apply(opts *binder.ConsumerOptions, cc ConsumerConfig) {
	if cc.Concurrency != nil {
		opts.Concurrency = *cc.Concurrency
	}
	if cc.MaxNumberOfMessages != nil {
		opts.Poll.MaxMessages = *cc.MaxNumberOfMessages
	}
	if cc.VisibilityTimeout != nil {
		opts.Poll.VisibilityTimeout = seconds(*cc.VisibilityTimeout)
	}
	if cc.WaitTimeout != nil {
		opts.Poll.WaitTimeout = seconds(*cc.WaitTimeout)
	}
	if cc.QueueStopTimeout != nil {
		opts.Poll.ShutdownTimeout = seconds(*cc.QueueStopTimeout)
	}
	if cc.SNSFanout != nil {
		opts.SNSFanout = *cc.SNSFanout
	}
	if cc.AckMode != nil {
		opts.AckMode = binder.AckMode(*cc.AckMode)
	}
}

// SubjectOr returns the NATS subject of a binding, falling back to name
func (b BindingConfig) SubjectOr(name string) string {
	if b.Subject != "" {
		return b.Subject
	}
	return name
}

// IsProducer reports whether the binding is a producer
func (b BindingConfig) IsProducer() bool {
	return b.Type == BindingProducer
}

// ProbeTimeout returns the reachability probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return seconds(c.Health.ProbeTimeout)
}

// ShutdownTimeout returns the HTTP server shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.HTTP.ShutdownTimeout)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
