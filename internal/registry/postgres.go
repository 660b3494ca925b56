package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store is the Postgres-backed registry.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Create(ctx context.Context, in Integration) (Integration, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	query := `
INSERT INTO integrations (id, name, description, api_base, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
RETURNING created_at, updated_at;
`
	if err := s.DB.QueryRowContext(ctx, query, in.ID, in.Name, in.Description, in.APIBase).
		Scan(&in.CreatedAt, &in.UpdatedAt); err != nil {
		return Integration{}, fmt.Errorf("create integration: %w", err)
	}
	return in, nil
}

func (s *Store) Get(ctx context.Context, id string) (Integration, error) {
	query := `
SELECT id, name, description, api_base, created_at, updated_at
FROM integrations
WHERE id=$1
`
	var in Integration
	err := s.DB.QueryRowContext(ctx, query, id).
		Scan(&in.ID, &in.Name, &in.Description, &in.APIBase, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return Integration{}, ErrNotFound
	}
	if err != nil {
		return Integration{}, fmt.Errorf("get integration: %w", err)
	}
	return in, nil
}

func (s *Store) List(ctx context.Context) ([]Integration, error) {
	query := `
SELECT id, name, description, api_base, created_at, updated_at
FROM integrations
ORDER BY created_at
`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.Name, &in.Description, &in.APIBase, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM integrations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
