package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/danmuck/promisectl/internal/agent"
	"github.com/danmuck/promisectl/internal/config"
	"github.com/danmuck/promisectl/internal/modules"
)

// targetFlags select the module a command talks to: an entry of the
// --config inventory when given, a built-in module otherwise.
type targetFlags struct {
	configPath string
	module     string
	logLevel   string
	recordFile string
}

func (f *targetFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "module inventory TOML; without it --module names a built-in")
	fs.StringVarP(&f.module, "module", "m", "", "module name")
	fs.StringVar(&f.logLevel, "log-level", "", "log_level sent with requests (default: inventory or info)")
	fs.StringVar(&f.recordFile, "record", "", "transcript file for the module session")
}

func (f *targetFlags) open(ctx context.Context) (*agent.Client, error) {
	if f.module == "" {
		return nil, &exitError{code: 2, err: fmt.Errorf("--module is required")}
	}
	if f.configPath != "" {
		cfg, err := config.LoadAgentConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		entry, ok := cfg.Module(f.module)
		if !ok {
			return nil, fmt.Errorf("module %q not found in %s", f.module, f.configPath)
		}
		if f.recordFile != "" {
			entry.RecordFile = f.recordFile
		}
		opts := cfg.Options()
		if f.logLevel != "" {
			opts.LogLevel = f.logLevel
		}
		return agent.Start(ctx, entry.Spec(), opts)
	}

	entry, ok := modules.Default().Resolve(f.module)
	if !ok {
		return nil, fmt.Errorf("unknown built-in module %q", f.module)
	}
	cfg := entry.Config()
	cfg.RecordFile = f.recordFile
	return agent.Attach(ctx, entry.New(), cfg, agent.Options{LogLevel: f.logLevel})
}
