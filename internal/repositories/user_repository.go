package repositories

import (
	"context"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

type UserRepository struct {
	DB *db.Gateway
}

func NewUserRepository(gw *db.Gateway) *UserRepository {
	return &UserRepository{DB: gw}
}

const userColumns = `id, name, email, password_hash, role, branch_id, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.BranchID,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	err := r.DB.QueryRow(ctx,
		`INSERT INTO users(name, email, password_hash, role, branch_id, is_active)
         VALUES($1, $2, $3, $4, $5, TRUE)
         RETURNING id, is_active, created_at, updated_at`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.BranchID,
	).Scan(&u.ID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return translate(err, "create user")
}

func (r *UserRepository) Get(ctx context.Context, id int) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	return u, translate(err, "get user")
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
	return u, translate(err, "get user by email")
}
