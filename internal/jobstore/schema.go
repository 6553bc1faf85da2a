package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Bump it with every
// schema.sql change and add the upgrade step to migrations.
const schemaVersion = 2

// migrations upgrade an existing database one version at a time. The
// statements for version n move a database from n-1 to n.
var migrations = map[int][]string{
	2: {`ALTER TABLE jobs ADD COLUMN dispatch_generation INTEGER NOT NULL DEFAULT 0`},
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch version {
	case schemaVersion:
		return nil
	case 0:
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		})
	default:
		if version > schemaVersion {
			return fmt.Errorf("%w: %s has version %d, expected %d (delete it to recreate)",
				ErrSchemaMismatch, s.path, version, schemaVersion)
		}
		return s.withTx(ctx, func(tx *sql.Tx) error {
			for next := version + 1; next <= schemaVersion; next++ {
				steps, ok := migrations[next]
				if !ok {
					return fmt.Errorf("%w: no upgrade from version %d", ErrSchemaMismatch, next-1)
				}
				for _, stmt := range steps {
					if _, err := tx.ExecContext(ctx, stmt); err != nil {
						return fmt.Errorf("upgrade schema to %d: %w", next, err)
					}
				}
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		})
	}
}
