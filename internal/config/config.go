package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultAgentName     = "CFEngine"
	DefaultAgentVersion  = "3.16.0"
	DefaultAgentLogLevel = "info"
)

// AgentConfig is the inventory of promise modules promisectl can drive.
type AgentConfig struct {
	AgentName    string        `toml:"agent_name"`
	AgentVersion string        `toml:"agent_version"`
	LogLevel     string        `toml:"log_level"`
	Modules      []ModuleEntry `toml:"modules"`
}

// ModuleEntry describes how to start one module.
type ModuleEntry struct {
	Name        string   `toml:"name"`
	Path        string   `toml:"path"`
	Interpreter string   `toml:"interpreter"`
	Args        []string `toml:"args"`
	Dir         string   `toml:"dir"`
	Env         []string `toml:"env"`
	RecordFile  string   `toml:"record_file"`
	Timeout     string   `toml:"timeout"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		AgentName:    DefaultAgentName,
		AgentVersion: DefaultAgentVersion,
		LogLevel:     DefaultAgentLogLevel,
	}
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	if cfg.AgentName == "" {
		cfg.AgentName = DefaultAgentName
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = DefaultAgentVersion
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultAgentLogLevel
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Module returns the entry called name.
func (c AgentConfig) Module(name string) (ModuleEntry, bool) {
	name = strings.TrimSpace(name)
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleEntry{}, false
}

func ValidateAgentConfig(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.AgentName) == "" || strings.ContainsAny(cfg.AgentName, " \t") {
		return fmt.Errorf("agent config invalid agent_name %q", cfg.AgentName)
	}
	if !strings.HasPrefix(cfg.AgentVersion, "3.") {
		return fmt.Errorf("agent config agent_version must start with 3., got %q", cfg.AgentVersion)
	}
	seen := make(map[string]struct{}, len(cfg.Modules))
	for i, m := range cfg.Modules {
		if err := ValidateModuleEntry(m); err != nil {
			return fmt.Errorf("module[%d] invalid: %w", i, err)
		}
		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("module[%d] invalid: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

func ValidateModuleEntry(m ModuleEntry) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("path is required")
	}
	for _, kv := range m.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
	}
	if m.Timeout != "" {
		if _, err := time.ParseDuration(m.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	return nil
}
