package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists states in two upsert-only tables, keyed the same
// way as the file layout. Useful when several crawler hosts share progress.
type PostgresStore struct {
	pool *pgxpool.Pool
}

type PostgresConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MaxConnLife time.Duration
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema creates the state tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS category_states (
			sitename   TEXT NOT NULL,
			date       TEXT NOT NULL,
			name       TEXT NOT NULL,
			pageno     INT  NOT NULL DEFAULT 1,
			done       BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (sitename, date, name)
		);
		CREATE TABLE IF NOT EXISTS product_states (
			sitename   TEXT NOT NULL,
			date       TEXT NOT NULL,
			category   TEXT NOT NULL,
			productid  TEXT NOT NULL,
			done       BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (sitename, date, category, productid)
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCategory(ctx context.Context, sitename, date, name string) (*CategoryState, error) {
	query := `
		SELECT sitename, date, name, pageno, done
		FROM category_states
		WHERE sitename = $1 AND date = $2 AND name = $3
	`

	state := &CategoryState{}
	err := s.pool.QueryRow(ctx, query, sitename, date, SanitizeName(name)).Scan(
		&state.Sitename, &state.Date, &state.Name, &state.PageNo, &state.Done,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load category state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) SaveCategory(ctx context.Context, state *CategoryState) error {
	query := `
		INSERT INTO category_states (sitename, date, name, pageno, done, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (sitename, date, name) DO UPDATE SET
			pageno = EXCLUDED.pageno,
			done = EXCLUDED.done,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		state.Sitename, state.Date, state.Name, state.PageNo, state.Done)
	if err != nil {
		return fmt.Errorf("save category state: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadProduct(ctx context.Context, sitename, date, category, productID string) (*ProductState, error) {
	query := `
		SELECT sitename, date, category, productid, done
		FROM product_states
		WHERE sitename = $1 AND date = $2 AND category = $3 AND productid = $4
	`

	state := &ProductState{}
	err := s.pool.QueryRow(ctx, query, sitename, date, SanitizeName(category), productID).Scan(
		&state.Sitename, &state.Date, &state.Category, &state.ProductID, &state.Done,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load product state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) SaveProduct(ctx context.Context, state *ProductState) error {
	query := `
		INSERT INTO product_states (sitename, date, category, productid, done, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (sitename, date, category, productid) DO UPDATE SET
			done = EXCLUDED.done,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		state.Sitename, state.Date, state.Category, state.ProductID, state.Done)
	if err != nil {
		return fmt.Errorf("save product state: %w", err)
	}
	return nil
}
