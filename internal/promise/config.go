package promise

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvConfigFile = "PROMISE_MODULE_CONFIG"
	EnvRecordFile = "PROMISE_MODULE_RECORD_FILE"

	DefaultName    = "default_module_name"
	DefaultVersion = "0.0.1"
)

// Config describes one module runtime.
type Config struct {
	Name    string
	Version string
	// RecordFile, when set, receives a transcript of the whole session.
	RecordFile string
	// MetricsTextfile, when set, receives request metrics on terminate.
	MetricsTextfile string
	// MetricsListen, when set, serves /metrics on this address for the
	// length of the session.
	MetricsListen string
	// EvaluateTimeout bounds the context passed to EvaluatePromise.
	EvaluateTimeout time.Duration
	// LogLevel overrides the diagnostics log level on stderr.
	LogLevel string
}

func DefaultConfig() Config {
	return Config{
		Name:    DefaultName,
		Version: DefaultVersion,
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultName
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = DefaultVersion
	}
	return c
}

// Validate rejects names and versions that would break the greeting line.
func (c Config) Validate() error {
	for _, v := range []string{c.Name, c.Version} {
		if v == "" || strings.ContainsAny(v, " \t\r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidName, v)
		}
	}
	if c.EvaluateTimeout < 0 {
		return fmt.Errorf("promise: evaluate_timeout must not be negative")
	}
	return nil
}

type fileConfig struct {
	RecordFile      string `toml:"record_file"`
	MetricsTextfile string `toml:"metrics_textfile"`
	MetricsListen   string `toml:"metrics_listen"`
	EvaluateTimeout string `toml:"evaluate_timeout"`
	LogLevel        string `toml:"log_level"`
}

// LoadConfigFile overlays the keys defined in the TOML file at path onto
// cfg. Name and version belong to the module and are not read from files.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load module config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load module config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("record_file") {
		cfg.RecordFile = strings.TrimSpace(raw.RecordFile)
	}
	if meta.IsDefined("metrics_textfile") {
		cfg.MetricsTextfile = strings.TrimSpace(raw.MetricsTextfile)
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("evaluate_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.EvaluateTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse evaluate_timeout: %w", err)
		}
		cfg.EvaluateTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

// ConfigFromEnv applies the module config file named by
// PROMISE_MODULE_CONFIG, then PROMISE_MODULE_RECORD_FILE.
func ConfigFromEnv(cfg Config) (Config, error) {
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		loaded, err := LoadConfigFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if record, ok := os.LookupEnv(EnvRecordFile); ok {
		cfg.RecordFile = strings.TrimSpace(record)
	}
	return cfg, nil
}
