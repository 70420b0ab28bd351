// Package migrations exposes the gateway's embedded SQL migration tree to
// host applications through a dialect-aware registration hook.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	chatgateway "github.com/goliatone/go-chat-gateway"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const sourceLabel = "go-chat-gateway"

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Filesystems resolves the per-dialect migration filesystems from the
// embedded tree, or from an explicit override root when one is given. The
// postgres files live at the tree root; sqlite alternatives under sqlite/.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := chatgateway.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: data/sql/migrations not found: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register hands each requested dialect's filesystem to the host's migration
// runner. Dialects defaults to both postgres and sqlite.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	wanted := map[string]struct{}{}
	for _, dialect := range dialects {
		trimmed := strings.TrimSpace(strings.ToLower(dialect))
		if trimmed != "" {
			wanted[trimmed] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		wanted[DialectPostgres] = struct{}{}
		wanted[DialectSQLite] = struct{}{}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}
	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, fsys := range filesystems {
		if _, ok := wanted[fsys.Dialect]; !ok {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, sourceLabel, fsys.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
		registered = append(registered, fsys)
	}
	return registered, nil
}
