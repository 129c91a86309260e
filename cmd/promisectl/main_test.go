package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

func runCmd(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return stdout.String(), exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}

func TestModulesListsBuiltins(t *testing.T) {
	testlog.Start(t)

	out, code := runCmd(t, "modules")
	require.Equal(t, 0, code)
	for _, id := range []string{"file", "gpg_keys", "json_merge"} {
		assert.Contains(t, out, id)
	}
}

func TestEvaluateFileModule(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "motd")
	out, code := runCmd(t, "evaluate", "--module", "file", "--promiser", path, "--attr", "content=hello\n", "--attr", "mode=0600")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "validate_promise: valid\n")
	assert.Contains(t, out, "info: Repaired file '"+path+"'\n")
	assert.Contains(t, out, "evaluate_promise: repaired [file_content_repaired]\n")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	out, code = runCmd(t, "evaluate", "-m", "file", "-p", path, "-a", "content=hello\n", "-a", "mode=0600")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "evaluate_promise: kept\n")
}

func TestValidateReportsInvalid(t *testing.T) {
	testlog.Start(t)

	out, code := runCmd(t, "validate", "--module", "file", "--promiser", "relative/path")
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, out, "error: File path 'relative/path' must be absolute\n")
	assert.Contains(t, out, "validate_promise: invalid\n")

	out, code = runCmd(t, "evaluate", "--module", "file", "--promiser", "/tmp/x", "--attr", "bogus=1")
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, out, "error: Unknown attribute 'bogus'\n")
	assert.NotContains(t, out, "evaluate_promise")
}

func TestEvaluateWithAttributesFiles(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	doc := filepath.Join(dir, "settings.json")
	yamlAttrs := filepath.Join(dir, "attrs.yaml")
	require.NoError(t, os.WriteFile(yamlAttrs, []byte("merge:\n  name: web\n  replicas: 3\nindent: 0\n"), 0o600))

	out, code := runCmd(t, "evaluate", "-m", "json_merge", "-p", doc, "--attributes-file", yamlAttrs, "--json")
	require.Equal(t, 0, code, out)
	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"web","replicas":3}`, string(data))
	assert.Contains(t, out, `"result":"repaired"`)

	jsoncAttrs := filepath.Join(dir, "attrs.jsonc")
	require.NoError(t, os.WriteFile(jsoncAttrs, []byte("{\n  // scale down\n  \"merge\": {\"replicas\": 1,},\n}\n"), 0o600))
	out, code = runCmd(t, "evaluate", "-m", "json_merge", "-p", doc, "--attributes-file", jsoncAttrs)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "evaluate_promise: repaired [json_merged]\n")
	data, err = os.ReadFile(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"web","replicas":1}`, string(data))
}

func TestReplayRecordedSession(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	record := filepath.Join(dir, "validate.log")
	_, code := runCmd(t, "validate", "-m", "file", "-p", filepath.Join(dir, "a"), "--record", record)
	require.Equal(t, 0, code)

	out, code := runCmd(t, "replay", "-m", "file", record)
	require.Equal(t, 0, code, out)
	assert.Equal(t, "session 0: 3 exchange(s), 0 mismatch(es)\n", out)

	drift := filepath.Join(dir, "evaluate.log")
	_, code = runCmd(t, "evaluate", "-m", "file", "-p", filepath.Join(dir, "b"), "--record", drift)
	require.Equal(t, 0, code)
	out, code = runCmd(t, "replay", "-m", "file", drift)
	assert.Equal(t, exitNotKept, code)
	assert.Contains(t, out, "(evaluate_promise): result: expected repaired, got kept")
}

func TestServeBuiltin(t *testing.T) {
	testlog.Start(t)

	var stdout, stderr bytes.Buffer
	in := strings.NewReader("CFEngine 3.16.0 v1\n\n{\"operation\":\"terminate\",\"log_level\":\"info\"}\n\n")
	err := run(context.Background(), []string{"serve", "gpg_keys"}, in, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "gpg_keys_promise_module 0.1.0 v1 json_based\n\n{\"operation\":\"terminate\",\"result\":\"success\"}\n\n", stdout.String())

	_, code := runCmd(t, "serve", "nope")
	assert.Equal(t, 1, code)
}

func TestConfigTemplate(t *testing.T) {
	testlog.Start(t)

	out, code := runCmd(t, "config-template", "--kind", "module")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "evaluate_timeout")

	path := filepath.Join(t.TempDir(), "agent.toml")
	_, code = runCmd(t, "config-template", "-o", path)
	require.Equal(t, 0, code)
	_, code = runCmd(t, "config-template", "-o", path)
	assert.Equal(t, 1, code)

	out, code = runCmd(t, "modules", "--config", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "/var/cfengine/modules/promises/json-merge-promise")
}

func TestUsageErrors(t *testing.T) {
	testlog.Start(t)

	_, code := runCmd(t)
	assert.Equal(t, exitUsage, code)
	_, code = runCmd(t, "frobnicate")
	assert.Equal(t, exitUsage, code)
	_, code = runCmd(t, "validate", "-m", "file")
	assert.Equal(t, exitUsage, code)
	_, code = runCmd(t, "validate", "-m", "file", "-p", "/x", "--attr", "novalue")
	assert.Equal(t, exitUsage, code)
}

func TestParseAttrs(t *testing.T) {
	testlog.Start(t)

	attrs, err := parseAttrs("", []string{"name=web", "tags:=[\"a\",\"b\"]", "count:=3", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, protocol.String("web"), attrs["name"])
	assert.Equal(t, protocol.StringList("a", "b"), attrs["tags"])
	assert.Equal(t, protocol.Int(3), attrs["count"])
	assert.Equal(t, protocol.String("a=b"), attrs["eq"])

	_, err = parseAttrs("", []string{"bad:={"})
	assert.Error(t, err)
	_, err = parseAttrs(filepath.Join(t.TempDir(), "attrs.txt"), nil)
	assert.Error(t, err)
}
