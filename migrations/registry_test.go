package migrations

import (
	"context"
	"errors"
	"io/fs"
	"testing"
)

func TestFilesystemsResolveBothDialects(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("Filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("filesystems = %d, want postgres and sqlite", len(filesystems))
	}
	for _, spec := range filesystems {
		matches, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", spec.Dialect, err)
		}
		if len(matches) == 0 {
			t.Fatalf("%s filesystem has no up migrations", spec.Dialect)
		}
		downs, err := fs.Glob(spec.FS, "*.down.sql")
		if err != nil {
			t.Fatalf("glob %s downs: %v", spec.Dialect, err)
		}
		if len(downs) != len(matches) {
			t.Fatalf("%s has %d ups but %d downs", spec.Dialect, len(matches), len(downs))
		}
	}
}

func TestRegisterDefaultsToBothDialects(t *testing.T) {
	seen := map[string]string{}
	registerFn := func(_ context.Context, dialect string, source string, fsys fs.FS) error {
		if fsys == nil {
			t.Fatalf("nil filesystem for %s", dialect)
		}
		seen[dialect] = source
		return nil
	}

	registered, err := Register(context.Background(), registerFn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(registered) != 2 {
		t.Fatalf("registered = %d, want 2", len(registered))
	}
	if seen[DialectPostgres] != "go-chat-gateway" || seen[DialectSQLite] != "go-chat-gateway" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestRegisterFiltersDialects(t *testing.T) {
	var dialects []string
	registerFn := func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		dialects = append(dialects, dialect)
		return nil
	}

	registered, err := Register(context.Background(), registerFn, " SQLite ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(registered) != 1 || registered[0].Dialect != DialectSQLite {
		t.Fatalf("registered = %+v", registered)
	}
	if len(dialects) != 1 || dialects[0] != DialectSQLite {
		t.Fatalf("dialects = %v", dialects)
	}
}

func TestRegisterPropagatesCallbackFailure(t *testing.T) {
	boom := errors.New("duplicate source")
	registerFn := func(context.Context, string, string, fs.FS) error {
		return boom
	}

	_, err := Register(context.Background(), registerFn, DialectPostgres)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the callback failure wrapped", err)
	}
}

func TestRegisterRequiresCallback(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatal("expected missing callback to be rejected")
	}
}
