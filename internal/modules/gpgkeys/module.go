// Package gpgkeys is a promise module that keeps ASCII-armoured public
// keys imported into a GnuPG home directory. The promiser is the homedir.
package gpgkeys

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/schema"
	"github.com/danmuck/promisectl/internal/tools"
)

const (
	Name    = "gpg_keys"
	Version = "0.1.0"
)

// Key is one keylist entry. Fingerprint wins over Email as the user id.
type Key struct {
	Fingerprint string `json:"fingerprint"`
	Email       string `json:"email"`
	ASCII       string `json:"ascii"`
}

func (k Key) UserID() string {
	if k.Fingerprint != "" {
		return k.Fingerprint
	}
	return k.Email
}

type Module struct {
	promise.Base

	runner tools.CommandRunner
	gpg    string
}

type Option func(*Module)

// WithRunner replaces the command runner used to call gpg.
func WithRunner(r tools.CommandRunner) Option {
	return func(m *Module) { m.runner = r }
}

// WithBinary sets the gpg executable name or path.
func WithBinary(path string) Option {
	return func(m *Module) { m.gpg = path }
}

func New(opts ...Option) *Module {
	m := &Module{runner: tools.ExecRunner{}, gpg: "gpg"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Schema() []schema.Attribute {
	return []schema.Attribute{
		{Name: "keylist", Type: schema.TypeData, Required: true, Validator: validateKeylist},
	}
}

func validateKeylist(v protocol.Value) error {
	doc, ok := v.AsMap()
	if !ok {
		return promise.Invalidf("Attribute 'keylist' must be a JSON object with a 'keys' array")
	}
	if _, ok := doc["keys"].([]any); !ok {
		return promise.Invalidf("Attribute 'keylist' must contain a 'keys' array")
	}
	return nil
}

// PreparePromise accepts a keylist passed as a storejson() string and
// turns it back into a data container.
func (m *Module) PreparePromise(_ context.Context, req *promise.Request, promiser string, attrs protocol.Attributes) (string, protocol.Attributes, error) {
	raw, ok := attrs["keylist"]
	if !ok || raw.Kind != protocol.KindString {
		return promiser, attrs, nil
	}
	cleaned := strings.ReplaceAll(strings.ReplaceAll(raw.Str, `\"`, `"`), "\n", "")
	req.Log.Verbosef("keylist_json is '%s'", cleaned)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return promiser, attrs, promise.Invalidf("Attribute 'keylist' is not valid JSON: %v", err)
	}
	value, err := protocol.Data(parsed)
	if err != nil {
		return promiser, attrs, promise.Invalidf("Attribute 'keylist' is not a data container: %v", err)
	}
	out := attrs.Clone()
	out["keylist"] = value
	return promiser, out, nil
}

func (m *Module) ValidatePromise(_ context.Context, _ *promise.Request, p *promise.Promise) error {
	if !filepath.IsAbs(p.Promiser) {
		return promise.Invalidf("Promiser '%s' for 'gpg_keys' promise must be an absolute path", p.Promiser)
	}
	return nil
}

func (m *Module) EvaluatePromise(ctx context.Context, req *promise.Request, p *promise.Promise) (promise.Outcome, error) {
	keys, err := keysOf(p.Attributes["keylist"])
	if err != nil {
		return promise.Outcome{}, err
	}

	result := protocol.ResultKept
	imported := 0
	for _, key := range keys {
		id := key.UserID()
		if id == "" {
			req.Log.Error("Each keylist entry must specify a user id with either a 'fingerprint' or 'email' property")
			result = protocol.ResultNotKept
			continue
		}
		present, err := m.present(ctx, req, p.Promiser, id)
		if err != nil {
			return promise.Outcome{}, err
		}
		if present {
			continue
		}
		req.Log.Verbosef("No key found for user id '%s'", id)
		req.Log.Infof("Importing ascii key for user id '%s' into gpg homedir '%s'", id, p.Promiser)
		if !m.importKey(ctx, req, p.Promiser, key.ASCII) {
			req.Log.Errorf("Unable to import key for user id '%s'", id)
			result = protocol.ResultNotKept
			continue
		}
		if result != protocol.ResultNotKept {
			result = protocol.ResultRepaired
		}
		imported++
	}
	out := promise.Outcome{Result: result}
	if imported > 0 {
		out.Classes = []string{"gpg_key_imported"}
	}
	return out, nil
}

func (m *Module) present(ctx context.Context, req *promise.Request, homedir, id string) (bool, error) {
	res, err := m.runner.Run(ctx, tools.Command{Name: m.gpg, Args: []string{"--homedir", homedir, "-k", id}})
	if ctx.Err() != nil {
		return false, fmt.Errorf("query key %s: %w", id, ctx.Err())
	}
	if err != nil || res.ExitCode != 0 {
		req.Log.Verbosef("Querying gpg key failed, stderr was '%s'", strings.TrimSpace(string(res.Stderr)))
		return false, nil
	}
	return true, nil
}

func (m *Module) importKey(ctx context.Context, req *promise.Request, homedir, ascii string) bool {
	res, err := m.runner.Run(ctx, tools.Command{
		Name:  m.gpg,
		Args:  []string{"--homedir", homedir, "--import"},
		Stdin: strings.NewReader(ascii),
	})
	if err != nil || res.ExitCode != 0 {
		if ctx.Err() != nil {
			req.Log.Error("Timed out importing gpg key")
			return false
		}
		req.Log.Errorf("Error importing gpg key return code '%d'", res.ExitCode)
		req.Log.Verbosef("Import gpg key failed, stderr was '%s'", strings.TrimSpace(string(res.Stderr)))
		return false
	}
	return true
}

func keysOf(v protocol.Value) ([]Key, error) {
	doc, ok := v.AsMap()
	if !ok {
		return nil, promise.Invalidf("Attribute 'keylist' must be a JSON object with a 'keys' array")
	}
	raw, err := json.Marshal(doc["keys"])
	if err != nil {
		return nil, err
	}
	var keys []Key
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, promise.Invalidf("Malformed 'keys' array in keylist: %v", err)
	}
	return keys, nil
}
