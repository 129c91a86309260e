// Package modules holds the promise modules built into promisectl and the
// registry the CLI resolves them from.
package modules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/promisectl/internal/modules/file"
	"github.com/danmuck/promisectl/internal/modules/gpgkeys"
	"github.com/danmuck/promisectl/internal/modules/jsonmerge"
	"github.com/danmuck/promisectl/internal/promise"
)

var (
	ErrModuleExists    = errors.New("module already registered")
	ErrModuleNil       = errors.New("module constructor is nil")
	ErrInvalidMetadata = errors.New("invalid module metadata")
)

// Metadata identifies a built-in module.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Entry pairs metadata with a constructor. Each call to New yields a fresh
// module, since a runtime serves one session only.
type Entry struct {
	Metadata
	New func() promise.Module
}

// Config is the runtime configuration the module greets the agent with.
func (e Entry) Config() promise.Config {
	return promise.Config{Name: e.Name, Version: e.Version}
}

// Registry stores built-in modules by stable identifier.
type Registry struct {
	items map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Entry)}
}

// ValidateMetadata checks required metadata fields and id format.
func ValidateMetadata(meta Metadata) error {
	id := strings.TrimSpace(meta.ID)
	if id == "" || strings.TrimSpace(meta.Name) == "" || strings.TrimSpace(meta.Description) == "" {
		return fmt.Errorf("%w: id, name, and description are required", ErrInvalidMetadata)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	if strings.ContainsAny(meta.Name, " \t\r\n") || strings.ContainsAny(meta.Version, " \t\r\n") {
		return fmt.Errorf("%w: name and version must not contain whitespace", ErrInvalidMetadata)
	}
	return nil
}

func (r *Registry) Register(e Entry) error {
	if e.New == nil {
		return ErrModuleNil
	}
	if err := ValidateMetadata(e.Metadata); err != nil {
		return err
	}
	if _, ok := r.items[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrModuleExists, e.ID)
	}
	r.items[e.ID] = e
	return nil
}

func (r *Registry) Resolve(id string) (Entry, bool) {
	e, ok := r.items[id]
	return e, ok
}

// List returns metadata ordered by id.
func (r *Registry) List() []Metadata {
	list := make([]Metadata, 0, len(r.items))
	for _, e := range r.items {
		list = append(list, e.Metadata)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// Default returns a registry holding every built-in module.
func Default() *Registry {
	r := NewRegistry()
	for _, e := range []Entry{
		{
			Metadata: Metadata{ID: "file", Name: "file_promise_module", Version: file.Version, Description: "Keeps file content, mode, and presence"},
			New:      func() promise.Module { return file.New() },
		},
		{
			Metadata: Metadata{ID: "json_merge", Name: "json_merge_promise_module", Version: jsonmerge.Version, Description: "Merges a JSON merge patch into a document"},
			New:      func() promise.Module { return jsonmerge.New() },
		},
		{
			Metadata: Metadata{ID: "gpg_keys", Name: "gpg_keys_promise_module", Version: gpgkeys.Version, Description: "Imports missing public keys into a GnuPG homedir"},
			New:      func() promise.Module { return gpgkeys.New() },
		},
	} {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
	return r
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
