package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

var (
	// ErrDuplicateUsername is returned by UserRepository.Create when the username exists.
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
)

// UserRecord represents a minimal projection stored in persistence layer.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// User returns the record without its password hash.
func (r UserRecord) User() User {
	return User{ID: r.ID, Username: r.Username, CreatedAt: r.CreatedAt}
}

// UserRepository defines persistence operations for users.
// Usernames are compared by exact match; uniqueness is enforced atomically by Create.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	Create(ctx context.Context, username, passwordHash string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	Count(ctx context.Context) (int, error)
}

// pgxPool is the subset of *pgxpool.Pool used by repositories; pgxmock satisfies it too.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db pgxPool
}

func NewPgUserRepository(db pgxPool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	const q = `SELECT id, username, password_hash, created_at FROM users WHERE username=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, oops.Code("USER_LOOKUP_FAILED").With("username", username).Wrap(err)
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, username, passwordHash string) (*UserRecord, error) {
	const q = `INSERT INTO users (username, password_hash) VALUES ($1,$2) RETURNING id, created_at`
	u := UserRecord{Username: username, PasswordHash: passwordHash}
	if err := r.db.QueryRow(ctx, q, username, passwordHash).Scan(&u.ID, &u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, oops.Code("USER_DUPLICATE").With("username", username).Wrap(ErrDuplicateUsername)
		}
		return nil, oops.Code("USER_CREATE_FAILED").With("username", username).Wrap(err)
	}
	return &u, nil
}

func (r *PgUserRepository) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	const q = `UPDATE users SET password_hash=$2 WHERE id=$1`
	tag, err := r.db.Exec(ctx, q, id, passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}
