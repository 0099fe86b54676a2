package sqlitekv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"transit-sync/internal/general/kv"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestSetGetRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Get(ctx, "outbox"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get missing key: err = %v, want kv.ErrNotFound", err)
	}

	if err := s.Set(ctx, "outbox", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "outbox", []byte{0x03}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := s.Get(ctx, "outbox")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0] != 0x03 {
		t.Fatalf("Get = %v, want [3]", got)
	}

	if err := s.Remove(ctx, "outbox"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "outbox"); err != nil {
		t.Fatalf("Remove of a missing key should succeed: %v", err)
	}
	if _, err := s.Get(ctx, "outbox"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get after Remove: err = %v", err)
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	if err := s.Set(ctx, "deleted_ids", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, "deleted_ids")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Get = %q", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}
