package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration, used only for the goose migration runner
)

// Connect opens both the pgxpool used by PostgresStore and a database/sql
// handle used only to run goose migrations (goose operates on *sql.DB).
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, *sql.DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting store pool: %w", err)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("opening migration handle: %w", err)
	}
	return pool, db, nil
}
