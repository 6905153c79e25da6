// Package migrate applies the ordered .sql files under db/migrations/<dialect>.
// Statements are written to be idempotent (IF NOT EXISTS), so re-running the
// full set on startup is safe.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

type Runner struct {
	FS fs.FS
}

func NewRunner(files fs.FS) *Runner {
	return &Runner{FS: files}
}

func (r *Runner) Apply(ctx context.Context, db *sql.DB, dialect string) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect != "postgres" && dialect != "sqlite" {
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
	base := path.Join("db", "migrations", dialect)
	entries, err := fs.ReadDir(r.FS, base)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, path.Join(base, e.Name()))
	}
	sort.Strings(files)
	for _, p := range files {
		stmt, err := fs.ReadFile(r.FS, p)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("apply %s: %w", p, err)
		}
	}
	return nil
}
