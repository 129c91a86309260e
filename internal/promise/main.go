package promise

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/logging"
)

// Main serves module on stdin and stdout and exits the process: 0 after
// terminate, 1 on any fatal error.
func Main(module Module, cfg Config) {
	os.Exit(Run(context.Background(), module, cfg, os.Stdin, os.Stdout, os.Stderr))
}

// Run is Main without the exit. Module configuration is read from the
// environment before the runtime is built.
func Run(ctx context.Context, module Module, cfg Config, stdin io.Reader, stdout, stderr io.Writer) int {
	logging.ConfigureRuntime()
	cfg = cfg.withDefaults()

	loaded, err := ConfigFromEnv(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cfg.Name, err)
		return 1
	}
	if loaded.LogLevel != "" {
		if level, ok := logging.ParseLevel(loaded.LogLevel); ok {
			zerolog.SetGlobalLevel(level)
		}
	}

	rt, err := New(module, loaded)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cfg.Name, err)
		return 1
	}
	defer rt.Close()

	if err := rt.Serve(ctx, stdin, stdout); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cfg.Name, err)
		return 1
	}
	return 0
}
