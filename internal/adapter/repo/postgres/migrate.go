package postgres

import (
	"fmt"
	"sort"

	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/migrations"
)

// Migrate applies the embedded schema files in lexical order. All statements
// are idempotent, so running at every startup is safe.
func Migrate(ctx domain.Context, pool PgxPool) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("op=postgres.migrate: %w", err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("op=postgres.migrate: %s: %w", name, err)
		}
	}
	return nil
}
