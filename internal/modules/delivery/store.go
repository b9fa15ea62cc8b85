// README: Rider directory users backed by PostgreSQL.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dukani/internal/types"
)

var ErrUserNotFound = errors.New("user not found")

// Store reads the user directory.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const userColumns = `id, name, email, phone, role, is_active, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.IsActive, &u.CreatedAt)
	return u, err
}

func (s *Store) Get(ctx context.Context, id types.ID) (User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "get user")
	}
	return u, nil
}

// List returns users with role, optionally only active ones, ordered by name.
func (s *Store) List(ctx context.Context, role types.Role, activeOnly bool) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE role = $1 AND (NOT $2 OR is_active)
		 ORDER BY name, id`, string(role), activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Save inserts or replaces a directory entry.
func (s *Store) Save(ctx context.Context, u User) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, name, email, phone, role, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
		   role = EXCLUDED.role, is_active = EXCLUDED.is_active`,
		string(u.ID), u.Name, u.Email, u.Phone, string(u.Role), u.IsActive)
	return errors.Wrap(err, "save user")
}
