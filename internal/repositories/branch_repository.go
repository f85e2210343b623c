package repositories

import (
	"context"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

type BranchRepository struct {
	DB *db.Gateway
}

func NewBranchRepository(gw *db.Gateway) *BranchRepository {
	return &BranchRepository{DB: gw}
}

func (r *BranchRepository) Create(ctx context.Context, b *models.Branch) error {
	err := r.DB.QueryRow(ctx,
		`INSERT INTO branches(name, address, phone, contact_person)
         VALUES($1, $2, $3, $4)
         RETURNING id, created_at`,
		b.Name, b.Address, b.Phone, b.ContactPerson,
	).Scan(&b.ID, &b.CreatedAt)
	return translate(err, "create branch")
}

func (r *BranchRepository) Get(ctx context.Context, id int) (*models.Branch, error) {
	var b models.Branch
	err := r.DB.QueryRow(ctx,
		`SELECT id, name, COALESCE(address, ''), COALESCE(phone, ''), COALESCE(contact_person, ''), created_at
         FROM branches WHERE id=$1`, id,
	).Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.ContactPerson, &b.CreatedAt)
	if err != nil {
		return nil, translate(err, "get branch")
	}
	return &b, nil
}

func (r *BranchRepository) List(ctx context.Context) ([]*models.Branch, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT id, name, COALESCE(address, ''), COALESCE(phone, ''), COALESCE(contact_person, ''), created_at
         FROM branches ORDER BY name`)
	if err != nil {
		return nil, translate(err, "list branches")
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.ContactPerson, &b.CreatedAt); err != nil {
			return nil, translate(err, "scan branch")
		}
		branches = append(branches, &b)
	}
	return branches, translate(rows.Err(), "list branches")
}
