package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/models"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}
	now := time.Now().UTC()
	err := db.QueryRowContext(ctx, `INSERT INTO users (name, email, role, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`,
		user.Name, user.Email, string(user.Role), now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	err := db.QueryRowContext(ctx, `SELECT id, name, email, role, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

// ListAdmins returns every admin, who also act as inspectors.
func (db *DB) ListAdmins(ctx context.Context) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, email, role, created_at FROM users WHERE role = ? ORDER BY id`, string(models.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var (
			u models.User
			r string
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &r, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = models.Role(r)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (db *DB) CreateCar(ctx context.Context, car *models.Car) error {
	if car.Status == "" {
		car.Status = models.CarStatusPending
	}
	now := time.Now().UTC()
	err := db.QueryRowContext(ctx, `INSERT INTO cars (owner_id, make, model, year, status, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		car.OwnerID, car.Make, car.Model, car.Year, car.Status, car.IsActive, now,
	).Scan(&car.ID)
	if err != nil {
		return fmt.Errorf("failed to create car: %w", err)
	}
	car.CreatedAt = now
	return nil
}

func (db *DB) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	var c models.Car
	err := db.QueryRowContext(ctx, `SELECT id, owner_id, make, model, year, status, is_active, created_at FROM cars WHERE id = ?`, id).
		Scan(&c.ID, &c.OwnerID, &c.Make, &c.Model, &c.Year, &c.Status, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get car: %w", err)
	}
	return &c, nil
}

// UpdateCarStatus is used by the listing approval workflow.
func (db *DB) UpdateCarStatus(ctx context.Context, id int64, status string, isActive bool) error {
	res, err := db.ExecContext(ctx, `UPDATE cars SET status = ?, is_active = ? WHERE id = ?`, status, isActive, id)
	if err != nil {
		return fmt.Errorf("failed to update car status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
