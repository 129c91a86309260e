package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/danmuck/promisectl/internal/agent"
	"github.com/danmuck/promisectl/internal/config"
	"github.com/danmuck/promisectl/internal/modules"
	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol"
)

// Exit codes for validate and evaluate beyond 0 (valid, kept, repaired).
const (
	exitUsage    = 2
	exitNotKept  = 3
	exitInvalid  = 4
	exitModError = 5
)

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitWith(0)
		}
		return &exitError{code: exitUsage, err: err}
	}
	return nil
}

func runModules(args []string, stdout io.Writer) error {
	var configPath string
	fs := pflag.NewFlagSet("modules", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "also list modules from this inventory")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tDESCRIPTION")
	for _, m := range modules.Default().List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Version, m.Description)
	}
	if configPath != "" {
		cfg, err := config.LoadAgentConfig(configPath)
		if err != nil {
			return err
		}
		for _, m := range cfg.Modules {
			fmt.Fprintf(w, "%s\t-\t-\t%s\n", m.Name, m.Path)
		}
	}
	return w.Flush()
}

func runPromise(ctx context.Context, evaluate bool, args []string, stdout io.Writer) error {
	var (
		target      targetFlags
		promiser    string
		promiseType string
		attrPairs   []string
		attrFile    string
		asJSON      bool
	)
	name := "validate"
	if evaluate {
		name = "evaluate"
	}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	target.AddFlags(fs)
	fs.StringVarP(&promiser, "promiser", "p", "", "promiser string")
	fs.StringVar(&promiseType, "promise-type", "", "promise type sent with the request")
	fs.StringArrayVarP(&attrPairs, "attr", "a", nil, "attribute name=value or name:=json (repeatable)")
	fs.StringVar(&attrFile, "attributes-file", "", "YAML or JSON(C) file of attributes")
	fs.BoolVar(&asJSON, "json", false, "print replies as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if promiser == "" {
		return &exitError{code: exitUsage, err: fmt.Errorf("--promiser is required")}
	}
	attrs, err := parseAttrs(attrFile, attrPairs)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	client, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	p := agent.PromiseRequest{Promiser: promiser, Attributes: attrs, PromiseType: promiseType}
	if _, err := client.Init(ctx); err != nil {
		return err
	}
	reply, err := client.Validate(ctx, p)
	if err != nil {
		return err
	}
	if err := printReply(stdout, reply, asJSON); err != nil {
		return err
	}
	if !evaluate || reply.Result != protocol.ResultValid {
		if _, err := client.Terminate(ctx); err != nil {
			return err
		}
		return resultError(reply.Result)
	}

	reply, err = client.Evaluate(ctx, p)
	if err != nil {
		return err
	}
	if err := printReply(stdout, reply, asJSON); err != nil {
		return err
	}
	if _, err := client.Terminate(ctx); err != nil {
		return err
	}
	return resultError(reply.Result)
}

func resultError(r protocol.Result) error {
	switch r {
	case protocol.ResultValid, protocol.ResultKept, protocol.ResultRepaired:
		return nil
	case protocol.ResultNotKept:
		return exitWith(exitNotKept)
	case protocol.ResultInvalid:
		return exitWith(exitInvalid)
	default:
		return exitWith(exitModError)
	}
}

func printReply(w io.Writer, reply agent.Reply, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(reply.Response)
		if err != nil {
			return err
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		if len(reply.LineLogs) > 0 {
			out["line_logs"] = reply.LineLogs
		}
		return json.NewEncoder(w).Encode(out)
	}
	for _, entry := range reply.Logs() {
		fmt.Fprintf(w, "%s: %s\n", entry.Level, entry.Message)
	}
	fmt.Fprintf(w, "%s: %s", reply.Operation, reply.Result)
	if len(reply.ResultClasses) > 0 {
		fmt.Fprintf(w, " %v", reply.ResultClasses)
	}
	_, err := fmt.Fprintln(w)
	return err
}

func runReplay(ctx context.Context, args []string, stdout io.Writer) error {
	var target targetFlags
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	target.AddFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &exitError{code: exitUsage, err: fmt.Errorf("replay takes one transcript path")}
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	sessions, err := agent.ParseTranscript(f)
	if err != nil {
		return err
	}

	drift := false
	for i, s := range sessions {
		client, err := target.open(ctx)
		if err != nil {
			return err
		}
		report, err := agent.Replay(ctx, client, s)
		_ = client.Close()
		if err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		fmt.Fprintf(stdout, "session %d: %d exchange(s), %d mismatch(es)\n", i, report.Exchanges, len(report.Mismatches))
		for _, m := range report.Mismatches {
			fmt.Fprintf(stdout, "  %s\n", m)
		}
		drift = drift || !report.OK()
	}
	if drift {
		return exitWith(exitNotKept)
	}
	return nil
}

func runServe(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &exitError{code: exitUsage, err: fmt.Errorf("serve takes one built-in module id")}
	}
	entry, ok := modules.Default().Resolve(fs.Arg(0))
	if !ok {
		return fmt.Errorf("unknown built-in module %q", fs.Arg(0))
	}
	if code := promise.Run(ctx, entry.New(), entry.Config(), stdin, stdout, stderr); code != 0 {
		return exitWith(code)
	}
	return nil
}

func runConfigTemplate(args []string, stdout io.Writer) error {
	var (
		kind   string
		output string
		force  bool
	)
	fs := pflag.NewFlagSet("config-template", pflag.ContinueOnError)
	fs.StringVar(&kind, "kind", "agent", "template kind: agent|module")
	fs.StringVarP(&output, "output", "o", "", "write to this path instead of stdout")
	fs.BoolVar(&force, "force", false, "overwrite an existing file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if output == "" {
		template, err := config.Template(kind)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, template)
		return err
	}
	if err := config.WriteTemplate(output, kind, force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s config template to %s\n", kind, output)
	return nil
}
