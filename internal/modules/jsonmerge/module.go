// Package jsonmerge is a promise module that keeps a JSON document
// containing the fields of an RFC 7396 merge patch.
package jsonmerge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/schema"
	"github.com/danmuck/promisectl/internal/tools"
)

const (
	Name    = "json_merge"
	Version = "0.1.0"

	maxIndent = 8
)

type Module struct {
	promise.Base
}

func New() *Module {
	return &Module{}
}

func (m *Module) Schema() []schema.Attribute {
	return []schema.Attribute{
		{Name: "merge", Type: schema.TypeData, Required: true},
		{Name: "path", Type: schema.TypeString, DefaultToPromiser: true},
		{Name: "create", Type: schema.TypeBool, Default: protocol.Bool(true)},
		{Name: "indent", Type: schema.TypeInt, Default: protocol.Int(2), Validator: validateIndent},
	}
}

func validateIndent(v protocol.Value) error {
	if v.Int < 0 || v.Int > maxIndent {
		return promise.Invalidf("Attribute 'indent' must be between 0 and %d", maxIndent)
	}
	return nil
}

func (m *Module) ValidatePromise(_ context.Context, _ *promise.Request, p *promise.Promise) error {
	path := p.Attributes.GetString("path", p.Promiser)
	if !filepath.IsAbs(path) {
		return promise.Invalidf("Document path '%s' must be absolute", path)
	}
	return nil
}

func (m *Module) EvaluatePromise(ctx context.Context, req *promise.Request, p *promise.Promise) (promise.Outcome, error) {
	if err := m.ValidatePromise(ctx, req, p); err != nil {
		return promise.Outcome{}, err
	}
	path := p.Attributes.GetString("path", p.Promiser)
	patch, err := json.Marshal(p.Attributes["merge"])
	if err != nil {
		return promise.Outcome{}, err
	}

	current, err := os.ReadFile(path)
	created := false
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !p.Attributes.GetBool("create", true) {
			req.Log.Errorf("Document '%s' does not exist and create is false", path)
			return promise.NotKept(), nil
		}
		current, created = []byte("{}"), true
	case err != nil:
		return promise.Outcome{}, err
	}
	if len(bytes.TrimSpace(current)) == 0 {
		current = []byte("{}")
	}
	if !json.Valid(current) {
		req.Log.Errorf("Document '%s' is not valid JSON", path)
		return promise.NotKept(), nil
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return promise.Outcome{}, fmt.Errorf("merge into %s: %w", path, err)
	}
	if !created && jsonpatch.Equal(current, merged) {
		req.Log.Verbosef("Document '%s' already contains the merge", path)
		return promise.Kept(), nil
	}

	out, err := render(merged, int(p.Attributes.GetInt("indent", 2)))
	if err != nil {
		return promise.Outcome{}, err
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := tools.WriteFileAtomic(path, out, perm); err != nil {
		req.Log.Errorf("Failed to write '%s': %v", path, err)
		return promise.NotKept(), nil
	}
	fields, _ := p.Attributes["merge"].AsMap()
	req.Log.Infof("Merged %d field(s) into '%s'", len(fields), path)
	return promise.Repaired("json_merged"), nil
}

func render(doc []byte, indent int) ([]byte, error) {
	var buf bytes.Buffer
	if indent == 0 {
		if err := json.Compact(&buf, doc); err != nil {
			return nil, err
		}
	} else if err := json.Indent(&buf, doc, "", strings.Repeat(" ", indent)); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
