package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrylevesque/controlx/internal/models"
)

// UserStore persists operator accounts. Passwords are stored as given;
// callers hash them first.
type UserStore struct {
	db *sql.DB
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Role, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// Get returns the user with the given username.
func (s *UserStore) Get(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, role, created_at FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// List returns all users ordered by username.
func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, password, role, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create inserts u, defaulting its role to "user".
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Password == "" {
		return fmt.Errorf("password is required")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if !models.ValidRole(u.Role) {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, u.Password, u.Role, u.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// SetPassword replaces the stored password of username.
func (s *UserStore) SetPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return expectUser(res, username)
}

// SetRole changes the role of username.
func (s *UserStore) SetRole(ctx context.Context, username, role string) error {
	if !models.ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE username = ?`, role, username)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return expectUser(res, username)
}

// Delete removes username.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectUser(res, username)
}

func expectUser(res sql.Result, username string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return nil
}
