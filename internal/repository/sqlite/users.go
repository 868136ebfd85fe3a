package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

const userColumns = `id, name, email, password_hash, provider, provider_subject, created_at, updated_at`

// CreateUser inserts the user row and its role pivots in one transaction.
func (s *Store) CreateUser(ctx context.Context, user *db.User, roles []string) error {
	now := s.now().UTC()
	email := strings.ToLower(user.Email)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (name, email, password_hash, provider, provider_subject, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.Name, email, nullString(user.PasswordHash), nullString(user.Provider),
			nullString(user.ProviderSubject), toMillis(now), toMillis(now),
		)
		if err != nil {
			return mapError(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, role := range roles {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO role_user (user_id, role_id) SELECT ?, id FROM roles WHERE name = ?`, id, role)
			if err != nil {
				return mapError(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("unknown role %q", role)
			}
		}
		user.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	user.Email = email
	user.Roles = append([]string(nil), roles...)
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*db.User, error) {
	var (
		u                       db.User
		hash, provider, subject sql.NullString
		createdAt, updatedAt    int64
	)
	err := s.sqlDB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &hash, &provider, &subject, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	u.PasswordHash = hash.String
	u.Provider = provider.String
	u.ProviderSubject = subject.String
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)

	roles, err := s.userRoles(ctx, s.sqlDB, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *Store) userRoles(ctx context.Context, q queryer, userID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT r.name FROM roles r JOIN role_user ru ON ru.role_id = r.id WHERE ru.user_id = ? ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func (s *Store) LinkProvider(ctx context.Context, id int64, provider, subject string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET provider = ?, provider_subject = ?, updated_at = ? WHERE id = ?`,
		nullString(provider), nullString(subject), toMillis(s.now()), id)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
