package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
)

const userColumns = `id, name, email, password_hash, role, status, points, created_at, deleted_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.Points, &u.CreatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser creates a new user. The email is stored normalized.
func CreateUser(ctx context.Context, db Querier, name, email, passwordHash, role string) (*model.User, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(name), NormalizeEmail(email), passwordHash, role,
	)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID, including soft-deleted users.
func GetUser(ctx context.Context, db Querier, id int64) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the non-deleted user with the given email.
func GetUserByEmail(ctx context.Context, db Querier, email string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`,
		NormalizeEmail(email),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// CountUsers returns the number of non-deleted users.
func CountUsers(ctx context.Context, db Querier) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ListUsers returns a page of non-deleted users and the total count.
func ListUsers(ctx context.Context, db Querier, page Page) ([]model.User, int, error) {
	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL
		 ORDER BY id LIMIT ? OFFSET ?`, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// UpdateUserProfile updates a user's display name.
func UpdateUserProfile(ctx context.Context, db Querier, id int64, name string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET name = ? WHERE id = ? AND deleted_at IS NULL`,
		strings.TrimSpace(name), id,
	)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	return nil
}

// UpdateUserRole updates a user's role.
func UpdateUserRole(ctx context.Context, db Querier, id int64, role string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET role = ? WHERE id = ? AND deleted_at IS NULL`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	return nil
}

// UpdateUserStatus suspends or reactivates a user.
func UpdateUserStatus(ctx context.Context, db Querier, id int64, status string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE id = ? AND deleted_at IS NULL`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db Querier, id int64, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// DeleteUser soft-deletes a user.
func DeleteUser(ctx context.Context, db Querier, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// MonthCount is the number of registrations in one calendar month (YYYY-MM).
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// ActiveUser is a user ranked by the number of items they listed.
type ActiveUser struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Points    int    `json:"points"`
	ItemCount int    `json:"itemCount"`
}

// UserStats summarizes accounts for the admin dashboard.
type UserStats struct {
	Total         int            `json:"totalUsers"`
	Active        int            `json:"activeUsers"`
	Suspended     int            `json:"suspendedUsers"`
	Deleted       int            `json:"deletedUsers"`
	Roles         map[string]int `json:"roles"`
	Registrations []MonthCount   `json:"registrationTrends"`
	MostActive    []ActiveUser   `json:"mostActiveUsers"`
}

// GetUserStats returns account totals, the role split of non-deleted users,
// monthly registrations since the given time and the top uploaders.
func GetUserStats(ctx context.Context, q Querier, since time.Time, top int) (*UserStats, error) {
	s := &UserStats{
		Roles:         map[string]int{},
		Registrations: []MonthCount{},
		MostActive:    []ActiveUser{},
	}
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN deleted_at IS NULL AND status = 'active' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN deleted_at IS NULL AND status = 'suspended' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM users`,
	).Scan(&s.Total, &s.Active, &s.Suspended, &s.Deleted)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT role, COUNT(*) FROM users WHERE deleted_at IS NULL GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("counting roles: %w", err)
	}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning role count: %w", err)
		}
		s.Roles[role] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting roles: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT substr(created_at, 1, 7) AS month, COUNT(*) FROM users
		 WHERE created_at >= ? GROUP BY month ORDER BY month`,
		db.Time(since),
	)
	if err != nil {
		return nil, fmt.Errorf("counting registrations: %w", err)
	}
	for rows.Next() {
		var m MonthCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning registration count: %w", err)
		}
		s.Registrations = append(s.Registrations, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting registrations: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.points, COUNT(i.id) AS n
		 FROM users u LEFT JOIN items i ON i.uploader_id = u.id
		 WHERE u.deleted_at IS NULL
		 GROUP BY u.id ORDER BY n DESC, u.id LIMIT ?`,
		top,
	)
	if err != nil {
		return nil, fmt.Errorf("ranking uploaders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a ActiveUser
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Points, &a.ItemCount); err != nil {
			return nil, fmt.Errorf("scanning uploader: %w", err)
		}
		s.MostActive = append(s.MostActive, a)
	}
	return s, rows.Err()
}
