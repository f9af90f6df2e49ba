package postgres

import (
	"context"
	"fmt"
)

// Migrate создаёт таблицу снапшотов, если её нет. Повторный запуск безопасен.
func (db *DB) Migrate(ctx context.Context) error {
	for _, q := range []string{createSnapshotsTable, createSnapshotsUpdatedIdx} {
		if _, err := db.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
