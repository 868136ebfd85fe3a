package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

const userColumns = `id, name, email, password_hash, provider, provider_subject, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, user *db.User, roles []string) error {
	now := s.now().UTC()
	email := strings.ToLower(user.Email)

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		query := `INSERT INTO users (name, email, password_hash, provider, provider_subject, created_at, updated_at)
				  VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`
		if err := tx.QueryRow(ctx, query,
			user.Name, email, nullString(user.PasswordHash), nullString(user.Provider),
			nullString(user.ProviderSubject), now,
		).Scan(&user.ID); err != nil {
			return mapError(err)
		}
		for _, role := range roles {
			tag, err := tx.Exec(ctx,
				`INSERT INTO role_user (user_id, role_id) SELECT $1, id FROM roles WHERE name = $2`, user.ID, role)
			if err != nil {
				return mapError(err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("unknown role %q", role)
			}
		}
		return nil
	})
	if err != nil {
		user.ID = 0
		return err
	}

	user.Email = email
	user.Roles = append([]string(nil), roles...)
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*db.User, error) {
	var (
		u                       db.User
		hash, provider, subject *string
	)
	err := s.DB.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &hash, &provider, &subject, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	u.PasswordHash = deref(hash)
	u.Provider = deref(provider)
	u.ProviderSubject = deref(subject)

	rows, err := s.DB.Query(ctx,
		`SELECT r.name FROM roles r JOIN role_user ru ON ru.role_id = r.id WHERE ru.user_id = $1 ORDER BY r.name`, u.ID)
	if err != nil {
		return nil, err
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *Store) LinkProvider(ctx context.Context, id int64, provider, subject string) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE users SET provider = $1, provider_subject = $2, updated_at = $3 WHERE id = $4`,
		nullString(provider), nullString(subject), s.now().UTC(), id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
