package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
)

var ErrEmailTaken = fmt.Errorf("email already registered: %w", httpx.ErrConflict)

const userCols = `id, name, email, created_at`

func scanUser(row scanner) (models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		return u, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var count int
	if err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM users WHERE email=?`), email).Scan(&count); err != nil {
		return models.User{}, err
	}
	if count > 0 {
		return models.User{}, ErrEmailTaken
	}

	var id int64
	err := s.DB.QueryRowContext(ctx, s.q(`INSERT INTO users (name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`), name, email, passwordHash, s.timestamp()).Scan(&id)
	if err != nil {
		return models.User{}, err
	}
	return s.UserByID(ctx, id)
}

// UserChanges holds the fields to overwrite; nil fields are left alone.
type UserChanges struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

func (s *Store) UpdateUser(ctx context.Context, id int64, c UserChanges) (models.User, error) {
	if _, err := s.UserByID(ctx, id); err != nil {
		return models.User{}, err
	}

	var (
		sets []string
		args []any
	)
	if c.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *c.Name)
	}
	if c.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*c.Email))
		var count int
		err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM users WHERE email=? AND id<>?`), email, id).Scan(&count)
		if err != nil {
			return models.User{}, err
		}
		if count > 0 {
			return models.User{}, ErrEmailTaken
		}
		sets = append(sets, "email=?")
		args = append(args, email)
	}
	if c.PasswordHash != nil {
		sets = append(sets, "password_hash=?")
		args = append(args, *c.PasswordHash)
	}
	if len(sets) > 0 {
		args = append(args, id)
		if _, err := s.DB.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=?`), args...); err != nil {
			return models.User{}, err
		}
	}
	return s.UserByID(ctx, id)
}

// DeleteUser removes the user together with their memberships, messages
// and notifications.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, s.q(`DELETE FROM users WHERE id=?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserByEmail returns the user and its password hash.
func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, string, error) {
	var (
		u    models.User
		hash string
	)
	err := s.DB.QueryRowContext(ctx, s.q(`SELECT id, name, email, created_at, password_hash FROM users WHERE email=?`),
		strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &hash)
	if err != nil {
		return u, "", notFound(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, hash, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx, s.q(`SELECT `+userCols+` FROM users WHERE id=?`), id))
	return u, notFound(err)
}

// SearchUsers matches q against name or email; an empty q lists the newest users.
func (s *Store) SearchUsers(ctx context.Context, q string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + userCols + ` FROM users`
	args := []any{}
	if q = strings.TrimSpace(q); q != "" {
		query += ` WHERE LOWER(name) LIKE ? OR LOWER(email) LIKE ?`
		like := "%" + strings.ToLower(q) + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns how many of ids exist.
func (s *Store) CountUsers(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM users WHERE id IN (`+placeholders(len(ids))+`)`), args...).Scan(&n)
	return n, err
}
