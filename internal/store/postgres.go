package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecast/internal/models"
)

// PostgresRepository is the catalog driver for multi-replica deployments.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    stream_key TEXT UNIQUE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS streams (
    stream_key TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL REFERENCES users (id),
    category_id TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresRepository opens a pgx pool against the provided DSN, applies
// the catalog schema, and seeds the default categories when the table is
// empty.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (*PostgresRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	for _, opt := range opts {
		opt(poolCfg)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &PostgresRepository{pool: pool}
	if err := repo.bootstrap(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// PostgresOption mutates the pgx pool configuration before the pool opens.
type PostgresOption func(*pgxpool.Config)

// WithPoolLimits bounds the connection pool size.
func WithPoolLimits(maxConns, minConns int32) PostgresOption {
	return func(cfg *pgxpool.Config) {
		if maxConns > 0 {
			cfg.MaxConns = maxConns
		}
		if minConns > 0 {
			cfg.MinConns = minConns
		}
	}
}

// WithApplicationName sets the application_name reported to Postgres.
func WithApplicationName(name string) PostgresOption {
	return func(cfg *pgxpool.Config) {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return
		}
		if cfg.ConnConfig.RuntimeParams == nil {
			cfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		cfg.ConnConfig.RuntimeParams["application_name"] = trimmed
	}
}

func (r *PostgresRepository) bootstrap() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.pool.Exec(ctx, catalogSchema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, category := range defaultCategories {
		if _, err := r.pool.Exec(ctx, `
INSERT INTO categories (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`, category.ID, category.Name); err != nil {
			return fmt.Errorf("seed category %s: %w", category.ID, err)
		}
	}
	return nil
}

// Ping verifies connectivity to the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

// Close releases the connection pool, bounded by the provided context.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// CreateUser registers an account with a freshly hashed password.
func (r *PostgresRepository) CreateUser(email, displayName, password string) (models.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return models.User{}, fmt.Errorf("valid email is required")
	}
	if len(password) < 6 {
		return models.User{}, fmt.Errorf("password must be at least 6 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           id,
		Email:        normalized,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO users (id, email, display_name, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5)
`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// AuthenticateUser verifies credentials and returns the matching user.
func (r *PostgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns the account with the provided id.
func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	user, err := r.scanUser(`SELECT id, email, display_name, password_hash, COALESCE(stream_key, ''), created_at FROM users WHERE id = $1`, id)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

// FindUserByEmail returns the account registered under the email, if any.
func (r *PostgresRepository) FindUserByEmail(email string) (models.User, bool) {
	user, err := r.scanUser(`SELECT id, email, display_name, password_hash, COALESCE(stream_key, ''), created_at FROM users WHERE email = $1`, normalizeEmail(email))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

// FindUserByStreamKey resolves the account that owns the provided key.
func (r *PostgresRepository) FindUserByStreamKey(streamKey string) (models.User, bool) {
	if streamKey == "" {
		return models.User{}, false
	}
	user, err := r.scanUser(`SELECT id, email, display_name, password_hash, COALESCE(stream_key, ''), created_at FROM users WHERE stream_key = $1`, streamKey)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) scanUser(query string, args ...any) (models.User, error) {
	row := r.pool.QueryRow(context.Background(), query, args...)
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.StreamKey, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// UpdateDisplayName sets the account's display name, enforcing uniqueness.
func (r *PostgresRepository) UpdateDisplayName(id, displayName string) (models.User, error) {
	trimmed := strings.TrimSpace(displayName)
	ctx := context.Background()
	if trimmed != "" {
		var otherID string
		err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE LOWER(display_name) = LOWER($1) AND id <> $2`, trimmed, id).Scan(&otherID)
		if err == nil {
			return models.User{}, ErrDisplayNameTaken
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("check display name: %w", err)
		}
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET display_name = $1 WHERE id = $2`, trimmed, id)
	if err != nil {
		return models.User{}, fmt.Errorf("update display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// EnsureStreamKey returns the user's stream key, generating one on first use.
func (r *PostgresRepository) EnsureStreamKey(userID string) (models.User, error) {
	user, ok := r.GetUser(userID)
	if !ok {
		return models.User{}, ErrNotFound
	}
	if user.StreamKey != "" {
		return user, nil
	}
	return r.RotateStreamKey(userID)
}

// RotateStreamKey replaces the user's stream key unconditionally.
func (r *PostgresRepository) RotateStreamKey(userID string) (models.User, error) {
	key, err := generateStreamKey()
	if err != nil {
		return models.User{}, err
	}
	tag, err := r.pool.Exec(context.Background(), `UPDATE users SET stream_key = $1 WHERE id = $2`, key, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("rotate stream key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}
	user, ok := r.GetUser(userID)
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// UpsertStreamMetadata creates or updates the catalog row for a stream key.
// Ownership binds on create only: the conflict branch never touches owner_id.
func (r *PostgresRepository) UpsertStreamMetadata(params UpsertStreamParams) (models.StreamMetadata, error) {
	if strings.TrimSpace(params.StreamKey) == "" {
		return models.StreamMetadata{}, fmt.Errorf("stream key is required")
	}
	meta := models.StreamMetadata{
		StreamKey:   params.StreamKey,
		OwnerID:     params.OwnerID,
		CategoryID:  strings.TrimSpace(params.CategoryID),
		DisplayName: strings.TrimSpace(params.DisplayName),
		UpdatedAt:   time.Now().UTC(),
	}
	row := r.pool.QueryRow(context.Background(), `
INSERT INTO streams (stream_key, owner_id, category_id, display_name, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (stream_key) DO UPDATE SET
    category_id = EXCLUDED.category_id,
    display_name = EXCLUDED.display_name,
    updated_at = EXCLUDED.updated_at
RETURNING owner_id
`, meta.StreamKey, meta.OwnerID, meta.CategoryID, meta.DisplayName, meta.UpdatedAt)
	if err := row.Scan(&meta.OwnerID); err != nil {
		return models.StreamMetadata{}, fmt.Errorf("upsert stream metadata: %w", err)
	}
	return meta, nil
}

// GetStreamMetadata returns the catalog row for the stream key, if any.
func (r *PostgresRepository) GetStreamMetadata(streamKey string) (models.StreamMetadata, bool, error) {
	row := r.pool.QueryRow(context.Background(), `
SELECT stream_key, owner_id, category_id, display_name, updated_at
FROM streams
WHERE stream_key = $1
`, streamKey)
	var meta models.StreamMetadata
	if err := row.Scan(&meta.StreamKey, &meta.OwnerID, &meta.CategoryID, &meta.DisplayName, &meta.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StreamMetadata{}, false, nil
		}
		return models.StreamMetadata{}, false, err
	}
	return meta, true, nil
}

// ListCategories returns the categories sorted by name.
func (r *PostgresRepository) ListCategories() ([]models.Category, error) {
	rows, err := r.pool.Query(context.Background(), `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// GetCategory returns the category with the provided id.
func (r *PostgresRepository) GetCategory(id string) (models.Category, bool, error) {
	row := r.pool.QueryRow(context.Background(), `SELECT id, name FROM categories WHERE id = $1`, id)
	var category models.Category
	if err := row.Scan(&category.ID, &category.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, false, nil
		}
		return models.Category{}, false, err
	}
	return category, true, nil
}

// 23505 is the Postgres unique_violation code.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PostgresRepository)(nil)
