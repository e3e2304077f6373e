package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/blockmarket/internal/models"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies a schema script
func (db *DB) Migrate(ctx context.Context, script string) error {
	if _, err := db.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// transport wraps a driver failure so callers can match models.ErrTransport.
func transport(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", models.ErrTransport, op, err)
}

const uniqueViolation = "23505"

const userColumns = "id, username, password_hash, account_types, meal_blocks_left, dining_dollars_left, wallet_address, created_at"

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	var types []string
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &types,
		&user.Profile.MealBlocksLeft, &user.Profile.DiningDollarsLeft, &user.Profile.WalletAddress, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		user.Profile.AccountTypes = append(user.Profile.AccountTypes, models.AccountType(t))
	}
	return user, nil
}

func accountTypes(p models.Profile) []string {
	out := make([]string, 0, len(p.AccountTypes))
	for _, t := range p.AccountTypes {
		out = append(out, string(t))
	}
	return out
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING "+userColumns,
		username, passwordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, transport("get user", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, transport("get user", err)
	}
	return user, nil
}

// UpdateProfile replaces a user's account preferences
func (db *DB) UpdateProfile(ctx context.Context, id int, p models.Profile) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"UPDATE users SET account_types = $2, meal_blocks_left = $3, dining_dollars_left = $4, wallet_address = $5 "+
			"WHERE id = $1 RETURNING "+userColumns,
		id, accountTypes(p), p.MealBlocksLeft, p.DiningDollarsLeft, p.WalletAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, transport("update profile", err)
	}
	return user, nil
}
