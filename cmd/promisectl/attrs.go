package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/promisectl/internal/protocol"
)

// parseAttrs merges the attributes file with --attr flags, flags last.
// "k=v" sets a string; "k:=<json>" sets a decoded JSON value.
func parseAttrs(file string, pairs []string) (protocol.Attributes, error) {
	attrs := protocol.Attributes{}
	if file != "" {
		loaded, err := loadAttributesFile(file)
		if err != nil {
			return nil, err
		}
		attrs = loaded
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--attr %q: expected name=value or name:=json", pair)
		}
		if raw, isJSON := strings.CutSuffix(name, ":"); isJSON {
			var v protocol.Value
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return nil, fmt.Errorf("--attr %s: %w", raw, err)
			}
			attrs[raw] = v
			continue
		}
		attrs[name] = protocol.String(value)
	}
	return attrs, nil
}

// loadAttributesFile reads a YAML (.yaml, .yml) or JSON with comments
// (.json, .jsonc) object of attributes.
func loadAttributesFile(path string) (protocol.Attributes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		raw = jsonc.ToJSON(data)
	default:
		return nil, fmt.Errorf("attributes file %s: unsupported extension", path)
	}
	attrs := protocol.Attributes{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return attrs, nil
}
