package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

type ArchiveRepository struct {
	DB *db.Gateway
}

func NewArchiveRepository(gw *db.Gateway) *ArchiveRepository {
	return &ArchiveRepository{DB: gw}
}

// Clear deletes every archived or cancelled delivery together with rejected
// requests and the requests bound to those deliveries. Items and claims go
// with their requests through the foreign keys.
//
// The rows are read without locks and handed to before, when set, outside
// any transaction; an error from it aborts the clear. The delete then runs in
// one transaction limited to the snapshot ids that still qualify, so rows
// that changed in between survive until the next clear.
func (r *ArchiveRepository) Clear(ctx context.Context, takenBy int, before func(*models.ArchiveSnapshot) error) (*models.ArchiveResult, error) {
	snapshot, err := r.snapshot(ctx, takenBy)
	if err != nil {
		return nil, err
	}
	result := &models.ArchiveResult{}
	if snapshot.Empty() {
		return result, nil
	}
	if before != nil {
		if err := before(snapshot); err != nil {
			return nil, err
		}
	}

	deliveryIDs := make([]int, 0, len(snapshot.Deliveries))
	for _, d := range snapshot.Deliveries {
		deliveryIDs = append(deliveryIDs, d.ID)
	}
	requestIDs := make([]int, 0, len(snapshot.Requests))
	for _, req := range snapshot.Requests {
		requestIDs = append(requestIDs, req.ID)
	}

	err = r.DB.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM deliveries
			WHERE id = ANY($1) AND (is_archived OR status = 'cancelled')`, deliveryIDs)
		if err != nil {
			return translate(err, "delete archived deliveries")
		}
		result.DeliveriesDeleted = tag.RowsAffected()

		// A request whose delivery survived the first delete stays with it.
		tag, err = tx.Exec(ctx, `
			DELETE FROM delivery_requests dr
			WHERE dr.id = ANY($1)
			  AND NOT EXISTS (
				SELECT 1 FROM deliveries d
				WHERE d.request_id = dr.id OR d.id = dr.delivery_id)`, requestIDs)
		if err != nil {
			return translate(err, "delete archived requests")
		}
		result.RequestsDeleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ArchiveRepository) snapshot(ctx context.Context, takenBy int) (*models.ArchiveSnapshot, error) {
	rows, err := r.DB.Query(ctx, deliverySelect+`
		WHERE d.is_archived OR d.status = 'cancelled'
		ORDER BY d.id`)
	if err != nil {
		return nil, translate(err, "select archived deliveries")
	}
	deliveries, err := collectDeliveries(rows)
	if err != nil {
		return nil, err
	}

	deliveryIDs := make([]int, 0, len(deliveries))
	for _, d := range deliveries {
		deliveryIDs = append(deliveryIDs, d.ID)
	}

	rows, err = r.DB.Query(ctx, requestSelect+`
		WHERE dr.request_status = 'rejected'
		   OR dr.delivery_id = ANY($1)
		   OR dr.id IN (SELECT request_id FROM deliveries WHERE id = ANY($1) AND request_id IS NOT NULL)
		ORDER BY dr.id`, deliveryIDs)
	if err != nil {
		return nil, translate(err, "select archived requests")
	}
	requests, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	if err := attachItems(ctx, r.DB, requests); err != nil {
		return nil, err
	}

	return &models.ArchiveSnapshot{
		TakenAt:    time.Now(),
		TakenBy:    takenBy,
		Requests:   requests,
		Deliveries: deliveries,
	}, nil
}
