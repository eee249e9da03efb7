package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "INTEGRATION_HUB_CONFIG_PATH"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins    []string  `yaml:"allowedOrigins"`
	ReadHeaderTimeout Duration  `yaml:"readHeaderTimeout"`
	ShutdownTimeout   Duration  `yaml:"shutdownTimeout"`
	RateLimit         RateLimit `yaml:"rateLimit"`
}

type RateLimit struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

type Log struct {
	Debug bool `yaml:"debug"`
}

type Bus struct {
	// Mode is "async" (default) or "sync".
	Mode           string   `yaml:"mode"`
	QueueSize      int      `yaml:"queueSize"`
	Workers        int      `yaml:"workers"`
	HandlerTimeout Duration `yaml:"handlerTimeout"`
}

type Retry struct {
	MaxAttempts    int      `yaml:"maxAttempts"`
	InitialBackoff Duration `yaml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff"`
	Multiplier     float64  `yaml:"multiplier"`
	Concurrency    int      `yaml:"concurrency"`
	QueueSize      int      `yaml:"queueSize"`
}

type Postgres struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
}

type Audit struct {
	// Store is "memory" (default) or "postgres". Dead letters use the same backend.
	Store         string   `yaml:"store"`
	Postgres      Postgres `yaml:"postgres"`
	AppendRetries int      `yaml:"appendRetries"`
	Sinks         Sinks    `yaml:"sinks"`
}

type Sinks struct {
	Log       bool     `yaml:"log"`
	QueueSize int      `yaml:"queueSize"`
	Webhook   *Webhook `yaml:"webhook"`
	Kafka     *Kafka   `yaml:"kafka"`
}

type Webhook struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`
}

type Kafka struct {
	Brokers     []string   `yaml:"brokers"`
	Topic       string     `yaml:"topic"`
	Compression string     `yaml:"compression"`
	TLS         *KafkaTLS  `yaml:"tls"`
	SASL        *KafkaSASL `yaml:"sasl"`
}

type KafkaTLS struct {
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Redis struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"poolSize"`
}

type Dedup struct {
	// Store is "memory" (default) or "redis".
	Store    string   `yaml:"store"`
	ClaimTTL Duration `yaml:"claimTTL"`
	DoneTTL  Duration `yaml:"doneTTL"`
	Redis    Redis    `yaml:"redis"`
}

type Handlers struct {
	// Modules lists the module handlers to register with dry-run clients.
	Modules []string `yaml:"modules"`
}

type Mail struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Recipients         []string `yaml:"recipients"`
	RetryCount         int      `yaml:"retryCount"`
	RetryBackoff       Duration `yaml:"retryBackoff"`
	QueueSize          int      `yaml:"queueSize"`
	BrandingName       string   `yaml:"brandingName"`
}

// Tracing configures OpenTelemetry span export.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (default), "stdout" or "none".
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Tracing  Tracing  `yaml:"tracing"`
	Bus      Bus      `yaml:"bus"`
	Retry    Retry    `yaml:"retry"`
	Audit    Audit    `yaml:"audit"`
	Dedup    Dedup    `yaml:"dedup"`
	Handlers Handlers `yaml:"handlers"`
	Mail     Mail     `yaml:"mail"`
}

// Module names accepted in handlers.modules.
var knownModules = []string{"assets", "security", "finance", "compliance"}

// Load loads the hub configuration from a file path.
// If configPath is empty, the INTEGRATION_HUB_CONFIG_PATH environment
// variable is used, then "./config.yaml".
// Zero values are filled with defaults and the result is validated.
func Load(configPath ...string) (Config, error) {
	path := "./config.yaml"
	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config
	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open integration hub config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config = config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Defaults returns c with every unset field filled in.
func (c Config) Defaults() Config {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = Duration(10 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(30 * time.Second)
	}
	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 40
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1
	}

	if c.Bus.Mode == "" {
		c.Bus.Mode = "async"
	}
	if c.Bus.QueueSize == 0 {
		c.Bus.QueueSize = 256
	}
	if c.Bus.Workers == 0 {
		c.Bus.Workers = 1
	}
	if c.Bus.HandlerTimeout == 0 {
		c.Bus.HandlerTimeout = Duration(30 * time.Second)
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = Duration(time.Second)
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = Duration(5 * time.Minute)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.Concurrency == 0 {
		c.Retry.Concurrency = 4
	}
	if c.Retry.QueueSize == 0 {
		c.Retry.QueueSize = 1000
	}

	if c.Audit.Store == "" {
		c.Audit.Store = "memory"
	}
	if c.Audit.AppendRetries == 0 {
		c.Audit.AppendRetries = 3
	}
	if c.Audit.Postgres.MaxOpenConns == 0 {
		c.Audit.Postgres.MaxOpenConns = 10
	}
	if c.Audit.Postgres.MaxIdleConns == 0 {
		c.Audit.Postgres.MaxIdleConns = 5
	}
	if c.Audit.Postgres.ConnMaxLifetime == 0 {
		c.Audit.Postgres.ConnMaxLifetime = Duration(30 * time.Minute)
	}
	if c.Audit.Sinks.QueueSize == 0 {
		c.Audit.Sinks.QueueSize = 1000
	}
	if c.Audit.Sinks.Webhook != nil && c.Audit.Sinks.Webhook.Timeout == 0 {
		c.Audit.Sinks.Webhook.Timeout = Duration(5 * time.Second)
	}

	if c.Dedup.Store == "" {
		c.Dedup.Store = "memory"
	}
	if c.Dedup.ClaimTTL == 0 {
		c.Dedup.ClaimTTL = Duration(5 * time.Minute)
	}
	if c.Dedup.DoneTTL == 0 {
		c.Dedup.DoneTTL = Duration(24 * time.Hour)
	}
	if c.Dedup.Redis.PoolSize == 0 {
		c.Dedup.Redis.PoolSize = 10
	}

	if c.Handlers.Modules == nil {
		c.Handlers.Modules = slices.Clone(knownModules)
	}

	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.RetryCount == 0 {
		c.Mail.RetryCount = 3
	}
	if c.Mail.RetryBackoff == 0 {
		c.Mail.RetryBackoff = Duration(100 * time.Millisecond)
	}
	if c.Mail.QueueSize == 0 {
		c.Mail.QueueSize = 100
	}
	return c
}

// Validate reports the first invalid setting. Call it on a defaulted config.
func (c Config) Validate() error {
	var errs []error
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter must be otlp, stdout or none, got %q", c.Tracing.Exporter))
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("tracing.samplingRate must be between 0 and 1, got %v", c.Tracing.SamplingRate))
		}
	}
	if c.Bus.Mode != "async" && c.Bus.Mode != "sync" {
		errs = append(errs, fmt.Errorf("bus.mode must be async or sync, got %q", c.Bus.Mode))
	}
	if c.Bus.QueueSize < 1 || c.Bus.Workers < 1 {
		errs = append(errs, errors.New("bus.queueSize and bus.workers must be >= 1"))
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be between 1 and 10, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry.maxBackoff must be >= retry.initialBackoff"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be >= 1"))
	}

	switch c.Audit.Store {
	case "memory":
	case "postgres":
		if c.Audit.Postgres.URL == "" {
			errs = append(errs, errors.New("audit.postgres.url is required when audit.store is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.store must be memory or postgres, got %q", c.Audit.Store))
	}
	if w := c.Audit.Sinks.Webhook; w != nil && w.URL == "" {
		errs = append(errs, errors.New("audit.sinks.webhook.url is required"))
	}
	if k := c.Audit.Sinks.Kafka; k != nil && (len(k.Brokers) == 0 || k.Topic == "") {
		errs = append(errs, errors.New("audit.sinks.kafka needs brokers and topic"))
	}

	switch c.Dedup.Store {
	case "memory":
	case "redis":
		if c.Dedup.Redis.URL == "" {
			errs = append(errs, errors.New("dedup.redis.url is required when dedup.store is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("dedup.store must be memory or redis, got %q", c.Dedup.Store))
	}
	if c.Dedup.ClaimTTL < c.Bus.HandlerTimeout {
		errs = append(errs, errors.New("dedup.claimTTL must be >= bus.handlerTimeout"))
	}

	for _, m := range c.Handlers.Modules {
		if !slices.Contains(knownModules, m) {
			errs = append(errs, fmt.Errorf("handlers.modules: unknown module %q", m))
		}
	}

	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			errs = append(errs, errors.New("mail.host is required when mail is enabled"))
		}
		if len(c.Mail.Recipients) == 0 {
			errs = append(errs, errors.New("mail.recipients are required when mail is enabled"))
		}
	}
	return errors.Join(errs...)
}

// HandlerEnabled reports whether the named module handler is enabled.
func (c Config) HandlerEnabled(module string) bool {
	return slices.Contains(c.Handlers.Modules, module)
}
