package modules

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

type nopModule struct{ promise.Base }

func (nopModule) ValidatePromise(_ context.Context, _ *promise.Request, _ *promise.Promise) error {
	return nil
}

func (nopModule) EvaluatePromise(_ context.Context, _ *promise.Request, _ *promise.Promise) (promise.Outcome, error) {
	return promise.Kept(), nil
}

func entry(id string) Entry {
	return Entry{
		Metadata: Metadata{ID: id, Name: id + "_module", Description: "test module", Version: "1.0.0"},
		New:      func() promise.Module { return nopModule{} },
	}
}

func TestRegisterResolveAndDuplicate(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register(entry("noop")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(entry("noop")); !errors.Is(err, ErrModuleExists) {
		t.Fatalf("expected ErrModuleExists, got %v", err)
	}
	got, ok := r.Resolve("noop")
	if !ok || got.ID != "noop" {
		t.Fatalf("resolve failed: ok=%v id=%q", ok, got.ID)
	}
	if cfg := got.Config(); cfg.Name != "noop_module" || cfg.Version != "1.0.0" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, ok := r.Resolve("missing"); ok {
		t.Fatalf("expected missing module to return ok=false")
	}
}

func TestRegisterRejectsBadEntries(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register(Entry{Metadata: entry("x").Metadata}); !errors.Is(err, ErrModuleNil) {
		t.Fatalf("expected ErrModuleNil, got %v", err)
	}
	for _, id := range []string{"", "Upper", "_lead", "trail-", "double..sep", "sp ace"} {
		if err := r.Register(entry(id)); !errors.Is(err, ErrInvalidMetadata) {
			t.Fatalf("id %q: expected ErrInvalidMetadata, got %v", id, err)
		}
	}
	bad := entry("spaced")
	bad.Version = "1 0"
	if err := r.Register(bad); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata for version, got %v", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	testlog.Start(t)
	r := Default()
	var ids []string
	for _, m := range r.List() {
		ids = append(ids, m.ID)
	}
	want := []string{"file", "gpg_keys", "json_merge"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids mismatch: got=%v want=%v", ids, want)
	}
	for _, id := range want {
		e, _ := r.Resolve(id)
		if _, ok := e.New().(promise.SchemaProvider); !ok {
			t.Fatalf("%s: expected module to declare a schema", id)
		}
		if err := e.Config().Validate(); err != nil {
			t.Fatalf("%s: config: %v", id, err)
		}
	}
}
