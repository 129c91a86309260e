// promisectl drives promise modules from the command line: it lists the
// built-in modules, sends single validate or evaluate requests, replays
// recorded transcripts, and serves built-in modules to a real agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/promisectl/internal/logging"
)

const usage = `usage: promisectl <command> [flags]

commands:
  modules          list built-in modules and configured modules
  validate         send one validate_promise request
  evaluate         validate, then evaluate one promise
  replay <file>    replay a recorded transcript against a module
  serve <module>   serve a built-in module on stdin/stdout
  config-template  print or write a config template
`

// exitError carries a process exit status. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func exitWith(code int) error {
	return &exitError{code: code}
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		var coder *exitError
		if errors.As(err, &coder) {
			if coder.err != nil {
				fmt.Fprintf(os.Stderr, "promisectl: %v\n", coder.err)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "promisectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	logging.ConfigureRuntime()
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitWith(2)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "modules":
		return runModules(rest, stdout)
	case "validate":
		return runPromise(ctx, false, rest, stdout)
	case "evaluate":
		return runPromise(ctx, true, rest, stdout)
	case "replay":
		return runReplay(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest, stdin, stdout, stderr)
	case "config-template":
		return runConfigTemplate(rest, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return &exitError{code: 2, err: fmt.Errorf("unknown command %q", cmd)}
	}
}
