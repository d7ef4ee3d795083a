package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	store := NewLocal(t.TempDir())
	ctx := context.Background()

	n, err := store.Put(ctx, "raw/d-1/v1/20260314_sessions.csv", strings.NewReader("a,b\n1,2\n"), -1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 8 {
		t.Errorf("written = %d, want 8", n)
	}

	rc, err := store.Get(ctx, "raw/d-1/v1/20260314_sessions.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading object: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("data = %q", data)
	}
}

func TestLocalGetNotFound(t *testing.T) {
	store := NewLocal(t.TempDir())

	_, err := store.Get(context.Background(), "raw/missing/key.csv")
	if !errors.Is(err, apperrors.ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalPing(t *testing.T) {
	dir := t.TempDir()
	if err := NewLocal(dir).Ping(context.Background()); err != nil {
		t.Errorf("Ping on existing root: %v", err)
	}
	if err := NewLocal(dir + "/does-not-exist").Ping(context.Background()); err == nil {
		t.Error("Ping on missing root should fail")
	}
}
