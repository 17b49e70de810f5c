package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const userColumns = `id, email, name, created_at, updated_at, version`

func scanUser(row interface{ Scan(...any) error }, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
}

func (r *pgRepo) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, created_at, updated_at, version)
		VALUES ($1, $2, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	err := scanUser(r.q.QueryRowContext(ctx, query, email, name), user)
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, apperr.Conflict("email %q is already registered", email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func (r *pgRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	err := scanUser(r.q.QueryRowContext(ctx, query, id), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user %d not found", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func (r *pgRepo) ListUsers(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY id
		LIMIT $1 OFFSET $2`

	rows, err := r.q.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}
