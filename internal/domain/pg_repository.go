package domain

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGRepository is the Postgres-backed Repository for the global
// DomainRegistry table (distinct from any tenant store), grounded on the
// teacher's domain/cache.go Repository implementation and its use of
// Postgres LISTEN/NOTIFY for invalidation.
type PGRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPGRepository(db *pgxpool.Pool, logger *zap.Logger) *PGRepository {
	return &PGRepository{db: db, logger: logger}
}

var _ Repository = (*PGRepository)(nil)

func (r *PGRepository) GetAllDomains(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.Query(ctx, `SELECT name, database_name, is_active, created_at FROM domain_registry`)
	if err != nil {
		return nil, fmt.Errorf("list domain registry: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.Name, &rec.DatabaseName, &rec.IsActive, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepository) GetDomainByName(ctx context.Context, name string) (*Record, error) {
	rec := &Record{}
	err := r.db.QueryRow(ctx, `SELECT name, database_name, is_active, created_at FROM domain_registry WHERE name = $1`, name).
		Scan(&rec.Name, &rec.DatabaseName, &rec.IsActive, &rec.CreatedAt)
	if err != nil {
		return nil, nil //nolint:nilerr // resolver treats "not found" as nil record, not an error
	}
	return rec, nil
}

// ListenForChanges subscribes to Postgres NOTIFY on the
// "domain_registry_changes" channel and invalidates the given cache whenever a row changes,
// replacing the teacher's per-table NOTIFY routing (mailboxes/aliases/
// distribution_lists/etc. are out of scope here — the registry only
// tracks domain->database_name).
func ListenForChanges(ctx context.Context, db *pgxpool.Pool, cache *Cache, logger *zap.Logger) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN domain_registry_changes"); err != nil {
		conn.Release()
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("domain registry notification wait failed", zap.Error(err))
				return
			}
			cache.Invalidate(notification.Payload)
		}
	}()
	return nil
}
