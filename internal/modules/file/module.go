// Package file is a promise module that keeps a file's existence,
// content, and permission bits in the promised state.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/schema"
	"github.com/danmuck/promisectl/internal/tools"
)

const (
	Name    = "file"
	Version = "0.1.0"

	StatePresent = "present"
	StateAbsent  = "absent"

	defaultPerm os.FileMode = 0o644
)

// Module implements the file promise type.
type Module struct {
	promise.Base
}

func New() *Module {
	return &Module{}
}

func (m *Module) Schema() []schema.Attribute {
	return []schema.Attribute{
		{Name: "path", Type: schema.TypeString, DefaultToPromiser: true},
		{Name: "content", Type: schema.TypeString},
		{Name: "mode", Type: schema.TypeString, Validator: validateMode},
		{Name: "create", Type: schema.TypeBool, Default: protocol.Bool(true)},
		{Name: "state", Type: schema.TypeString, Default: protocol.String(StatePresent), Validator: validateState},
	}
}

func validateMode(v protocol.Value) error {
	if _, err := parseMode(v.Str); err != nil {
		return promise.Invalidf("Attribute 'mode' must be an octal permission such as '0644', not '%s'", v.Str)
	}
	return nil
}

func validateState(v protocol.Value) error {
	if v.Str != StatePresent && v.Str != StateAbsent {
		return promise.Invalidf("Attribute 'state' must be '%s' or '%s', not '%s'", StatePresent, StateAbsent, v.Str)
	}
	return nil
}

func parseMode(raw string) (os.FileMode, error) {
	n, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, err
	}
	if n > 0o777 {
		return 0, fmt.Errorf("mode %s out of range", raw)
	}
	return os.FileMode(n), nil
}

func (m *Module) ValidatePromise(_ context.Context, _ *promise.Request, p *promise.Promise) error {
	path := p.Attributes.GetString("path", p.Promiser)
	if !filepath.IsAbs(path) {
		return promise.Invalidf("File path '%s' must be absolute", path)
	}
	if p.Attributes.GetString("state", StatePresent) == StateAbsent {
		for _, name := range []string{"content", "mode"} {
			if p.Supplied.Has(name) {
				return promise.Invalidf("Attribute '%s' cannot be used with state '%s'", name, StateAbsent)
			}
		}
	}
	return nil
}

func (m *Module) EvaluatePromise(ctx context.Context, req *promise.Request, p *promise.Promise) (promise.Outcome, error) {
	if err := m.ValidatePromise(ctx, req, p); err != nil {
		return promise.Outcome{}, err
	}
	path := p.Attributes.GetString("path", p.Promiser)

	info, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return promise.Outcome{}, err
	}
	if exists && info.IsDir() {
		req.Log.Errorf("'%s' is a directory", path)
		return promise.NotKept(), nil
	}

	if p.Attributes.GetString("state", StatePresent) == StateAbsent {
		if !exists {
			return promise.Kept(), nil
		}
		if err := os.Remove(path); err != nil {
			req.Log.Errorf("Failed to remove '%s': %v", path, err)
			return promise.NotKept(), nil
		}
		req.Log.Infof("Removed file '%s'", path)
		return promise.Repaired("file_removed"), nil
	}

	if !exists && !p.Attributes.GetBool("create", true) {
		req.Log.Errorf("File '%s' does not exist and create is false", path)
		return promise.NotKept(), nil
	}

	perm := defaultPerm
	if exists {
		perm = info.Mode().Perm()
	}
	rawMode, hasMode := p.Attributes["mode"].AsString()
	if hasMode {
		perm, err = parseMode(rawMode)
		if err != nil {
			return promise.Outcome{}, err
		}
	}

	var classes []string
	content, hasContent := p.Attributes["content"].AsString()
	switch {
	case hasContent:
		same := false
		if exists {
			current, err := tools.DigestFile(path)
			if err != nil {
				return promise.Outcome{}, err
			}
			same = current == tools.DigestBytes([]byte(content))
		}
		if !same {
			if err := tools.WriteFileAtomic(path, []byte(content), perm); err != nil {
				req.Log.Errorf("Failed to write '%s': %v", path, err)
				return promise.NotKept(), nil
			}
			classes = append(classes, "file_content_repaired")
			info = nil
		}
	case !exists:
		if err := tools.WriteFileAtomic(path, nil, perm); err != nil {
			req.Log.Errorf("Failed to create '%s': %v", path, err)
			return promise.NotKept(), nil
		}
		classes = append(classes, "file_created")
		info = nil
	}

	if hasMode && info != nil && info.Mode().Perm() != perm {
		if err := os.Chmod(path, perm); err != nil {
			req.Log.Errorf("Failed to set mode of '%s': %v", path, err)
			return promise.NotKept(), nil
		}
		classes = append(classes, "file_mode_repaired")
	}

	if len(classes) == 0 {
		req.Log.Verbosef("File '%s' already in promised state", path)
		return promise.Kept(), nil
	}
	req.Log.Infof("Repaired file '%s'", path)
	return promise.Repaired(classes...), nil
}
