package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/polysync/rnr/internal/rnrerr"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "RNR_"

//go:embed schema.json
var schemaJSON string

// Config represents the node configuration
type Config struct {
	// Node identity
	Node NodeConfig `yaml:"node"`

	// Control surfaces (gRPC and HTTP)
	Control ControlConfig `yaml:"control"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Replay defaults
	Replay ReplayConfig `yaml:"replay"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Configuration file path
	ConfigFile string `env:"CONFIG_FILE" yaml:"-"`
}

// NodeConfig identifies the node
type NodeConfig struct {
	// Name is stamped on logs and reported by status
	Name string `env:"NODE_NAME" envDefault:"rnr-node" yaml:"name"`
}

// ControlConfig holds control server configuration
type ControlConfig struct {
	// gRPC control service address
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051" yaml:"grpc_addr"`

	// HTTP API address
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080" yaml:"http_addr"`

	// Enable TLS on the gRPC server
	TLSEnabled bool `env:"TLS_ENABLED" envDefault:"false" yaml:"tls_enabled"`

	// TLS certificate file
	TLSCertFile string `env:"TLS_CERT_FILE" yaml:"tls_cert_file"`

	// TLS key file
	TLSKeyFile string `env:"TLS_KEY_FILE" yaml:"tls_key_file"`

	// Bearer token required by the control and HTTP APIs (empty disables auth)
	AuthToken string `env:"AUTH_TOKEN" yaml:"auth_token"`
}

// StorageConfig holds log file and catalog configuration
type StorageConfig struct {
	// Data directory path; the catalog lives in <data_dir>/catalog
	DataDir string `env:"DATA_DIR" envDefault:"./data" yaml:"data_dir"`

	// Directory for log files given by relative path (default <data_dir>/sessions)
	SessionDir string `env:"SESSION_DIR" yaml:"session_dir"`

	// Accept log file paths outside SessionDir from control calls
	AllowExternalPaths bool `env:"ALLOW_EXTERNAL_PATHS" envDefault:"false" yaml:"allow_external_paths"`

	// Fsync policy: "always", "interval", "close"
	FsyncPolicy string `env:"FSYNC_POLICY" envDefault:"interval" yaml:"fsync_policy"`

	// Fsync interval (for interval policy)
	FsyncInterval time.Duration `env:"FSYNC_INTERVAL" envDefault:"100ms" yaml:"fsync_interval"`

	// Write a CRC32 trailer per record
	Checksums bool `env:"CHECKSUMS" envDefault:"true" yaml:"checksums"`

	// Messages buffered ahead of the writer
	BufferSize int `env:"RECORD_BUFFER_SIZE" envDefault:"1024" yaml:"buffer_size"`
}

// ReplayConfig holds replay defaults
type ReplayConfig struct {
	// Delivery: "subscriber" or "queue"
	Delivery string `env:"REPLAY_DELIVERY" envDefault:"queue" yaml:"delivery"`

	// Replay queue capacity (0 = unbounded)
	QueueCapacity int `env:"REPLAY_QUEUE_CAPACITY" envDefault:"1024" yaml:"queue_capacity"`

	// Speed multiplier: 1 real time, 0 as fast as possible
	Speed float64 `env:"REPLAY_SPEED" envDefault:"1" yaml:"speed"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Log level: "debug", "info", "warn", "error"
	Level string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`

	// Log format: "json", "text"
	Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`

	// Log file path (empty for stdout)
	Output string `env:"LOG_OUTPUT" envDefault:"" yaml:"output"`

	// Enable log rotation
	Rotation bool `env:"LOG_ROTATION" envDefault:"true" yaml:"rotation"`

	// Max log file size in MB
	MaxSize int `env:"LOG_MAX_SIZE" envDefault:"100" yaml:"max_size"`

	// Number of backup files to keep
	MaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"7" yaml:"max_backups"`

	// Max age in days
	MaxAge int `env:"LOG_MAX_AGE" envDefault:"30" yaml:"max_age"`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	// Enable Prometheus metrics
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true" yaml:"enabled"`

	// Metrics server address
	Addr string `env:"METRICS_ADDR" envDefault:":9090" yaml:"addr"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	// Enable OpenTelemetry tracing
	Enabled bool `env:"TRACING_ENABLED" envDefault:"false" yaml:"enabled"`

	// OTLP endpoint (host:port)
	Endpoint string `env:"TRACING_ENDPOINT" envDefault:"" yaml:"endpoint"`

	// Exporter: "grpc" or "http"
	Exporter string `env:"TRACING_EXPORTER" envDefault:"grpc" yaml:"exporter"`

	// Disable TLS towards the collector
	Insecure bool `env:"TRACING_INSECURE" envDefault:"true" yaml:"insecure"`

	// Fraction of traces sampled
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1" yaml:"sample_ratio"`
}

// Load loads configuration from multiple sources, later ones winning:
// 1. Default values
// 2. Environment variables (RNR_ prefix)
// 3. Configuration file (YAML, validated against the embedded schema)
// 4. Command line flags that were set explicitly
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, rnrerr.ConfigError{Reason: fmt.Sprintf("failed to parse environment variables: %v", err)}
	}

	fs := flag.NewFlagSet("rnrd", flag.ContinueOnError)
	flags := cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, rnrerr.ConfigError{Reason: err.Error()}
	}

	if path := flags.resolveConfigFile(fs, cfg.ConfigFile); path != "" {
		cfg.ConfigFile = path
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	flags.apply(fs, cfg)

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagValues holds flag destinations so explicit flags can be applied
// after the config file
type flagValues struct {
	configFile, grpcAddr, httpAddr, dataDir, logLevel, logFormat, metricsAddr, delivery string
	speed                                                                             float64
}

func (c *Config) bindFlags(fs *flag.FlagSet) *flagValues {
	v := &flagValues{}
	fs.StringVar(&v.configFile, "config", c.ConfigFile, "Path to configuration file")
	fs.StringVar(&v.grpcAddr, "grpc-addr", c.Control.GRPCAddr, "gRPC control address")
	fs.StringVar(&v.httpAddr, "http-addr", c.Control.HTTPAddr, "HTTP API address")
	fs.StringVar(&v.dataDir, "data-dir", c.Storage.DataDir, "Data directory path")
	fs.StringVar(&v.logLevel, "log-level", c.Logging.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&v.logFormat, "log-format", c.Logging.Format, "Log format (json, text)")
	fs.StringVar(&v.metricsAddr, "metrics-addr", c.Metrics.Addr, "Metrics server address")
	fs.StringVar(&v.delivery, "replay-delivery", c.Replay.Delivery, "Replay delivery (subscriber, queue)")
	fs.Float64Var(&v.speed, "replay-speed", c.Replay.Speed, "Replay speed multiplier (0 = as fast as possible)")
	return v
}

func (v *flagValues) resolveConfigFile(fs *flag.FlagSet, fromEnv string) string {
	path := fromEnv
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			path = v.configFile
		}
	})
	return path
}

func (v *flagValues) apply(fs *flag.FlagSet, c *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc-addr":
			c.Control.GRPCAddr = v.grpcAddr
		case "http-addr":
			c.Control.HTTPAddr = v.httpAddr
		case "data-dir":
			c.Storage.DataDir = v.dataDir
		case "log-level":
			c.Logging.Level = v.logLevel
		case "log-format":
			c.Logging.Format = v.logFormat
		case "metrics-addr":
			c.Metrics.Addr = v.metricsAddr
		case "replay-delivery":
			c.Replay.Delivery = v.delivery
		case "replay-speed":
			c.Replay.Speed = v.speed
		}
	})
}

func (c *Config) normalize() {
	if c.Storage.DataDir != "" {
		c.Storage.DataDir = filepath.Clean(c.Storage.DataDir)
		if c.Storage.SessionDir == "" {
			c.Storage.SessionDir = filepath.Join(c.Storage.DataDir, "sessions")
		}
		c.Storage.SessionDir = filepath.Clean(c.Storage.SessionDir)
	}
	c.Storage.FsyncPolicy = strings.ToLower(c.Storage.FsyncPolicy)
	c.Replay.Delivery = strings.ToLower(c.Replay.Delivery)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// CatalogDir returns the session catalog directory
func (c *Config) CatalogDir() string {
	return filepath.Join(c.Storage.DataDir, "catalog")
}

// ResolveLogPath maps a control-supplied log file path to a filesystem
// path. Relative paths are taken from SessionDir. Unless AllowExternalPaths
// is set, the result must stay inside SessionDir.
func (c *Config) ResolveLogPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(c.Storage.SessionDir, resolved)
	}
	resolved = filepath.Clean(resolved)
	if c.Storage.AllowExternalPaths {
		return resolved, nil
	}

	rel, err := filepath.Rel(c.Storage.SessionDir, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", rnrerr.ConfigError{
			Reason: fmt.Sprintf("log file path %q is outside the session directory %s", path, c.Storage.SessionDir),
		}
	}
	return resolved, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Control.GRPCAddr == "" {
		return rnrerr.ConfigError{Reason: "grpc control address cannot be empty"}
	}

	if c.Control.HTTPAddr == "" {
		return rnrerr.ConfigError{Reason: "http address cannot be empty"}
	}

	if c.Storage.DataDir == "" {
		return rnrerr.ConfigError{Reason: "data directory cannot be empty"}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("invalid log level: %s", c.Logging.Level)}
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("invalid log format: %s", c.Logging.Format)}
	}

	validFsyncPolicies := map[string]bool{
		"always":   true,
		"interval": true,
		"close":    true,
	}
	if !validFsyncPolicies[strings.ToLower(c.Storage.FsyncPolicy)] {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("invalid fsync policy: %s", c.Storage.FsyncPolicy)}
	}

	if c.Storage.BufferSize <= 0 {
		return rnrerr.ConfigError{Reason: "record buffer size must be positive"}
	}

	switch strings.ToLower(c.Replay.Delivery) {
	case "subscriber", "queue":
	default:
		return rnrerr.ConfigError{Reason: fmt.Sprintf("invalid replay delivery: %s", c.Replay.Delivery)}
	}

	if c.Replay.Speed < 0 {
		return rnrerr.ConfigError{Reason: "replay speed cannot be negative"}
	}
	if c.Replay.QueueCapacity < 0 {
		return rnrerr.ConfigError{Reason: "replay queue capacity cannot be negative"}
	}

	if c.Control.TLSEnabled {
		if c.Control.TLSCertFile == "" {
			return rnrerr.ConfigError{Reason: "tls cert file is required when tls is enabled"}
		}
		if c.Control.TLSKeyFile == "" {
			return rnrerr.ConfigError{Reason: "tls key file is required when tls is enabled"}
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return rnrerr.ConfigError{Reason: "tracing endpoint is required when tracing is enabled"}
	}

	return nil
}

// LoadFile merges a YAML configuration file into cfg after validating it
// against the embedded JSON schema. Keys absent from the file keep their
// current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rnrerr.ConfigError{Reason: fmt.Sprintf("config file not found: %s", path)}
		}
		return rnrerr.IOError{Path: path, Err: err}
	}

	if err := validateDocument(path, data); err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	return nil
}

// validateDocument checks a YAML document against the schema
func validateDocument(path string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	if doc == nil {
		return nil
	}

	// round trip through JSON so the validator sees plain JSON values
	raw, err := json.Marshal(doc)
	if err != nil {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("config %s is not representable as JSON: %v", path, err)}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return rnrerr.ConfigError{Reason: err.Error()}
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("%s: %v", path, err)}
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to load config schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return schema, nil
}
