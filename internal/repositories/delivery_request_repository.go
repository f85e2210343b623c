package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

type DeliveryRequestRepository struct {
	DB *db.Gateway
}

func NewDeliveryRequestRepository(gw *db.Gateway) *DeliveryRequestRepository {
	return &DeliveryRequestRepository{DB: gw}
}

const requestSelect = `
	SELECT dr.id, dr.branch_id, dr.created_by, dr.request_status, dr.processed_by, dr.processed_at,
	       dr.reason, dr.total_amount, dr.delivery_date, dr.priority, dr.notes, dr.delivery_id,
	       dr.created_at, dr.updated_at,
	       COALESCE(b.name, ''), COALESCE(cu.name, ''), COALESCE(pu.name, '')
	FROM delivery_requests dr
	LEFT JOIN branches b ON b.id = dr.branch_id
	LEFT JOIN users cu ON cu.id = dr.created_by
	LEFT JOIN users pu ON pu.id = dr.processed_by
`

func scanRequest(row pgx.Row) (*models.DeliveryRequest, error) {
	var r models.DeliveryRequest
	err := row.Scan(
		&r.ID, &r.BranchID, &r.CreatedBy, &r.RequestStatus, &r.ProcessedBy, &r.ProcessedAt,
		&r.Reason, &r.TotalAmount, &r.DeliveryDate, &r.Priority, &r.Notes, &r.DeliveryID,
		&r.CreatedAt, &r.UpdatedAt,
		&r.BranchName, &r.CreatedByName, &r.ProcessedByName,
	)
	if err != nil {
		return nil, err
	}
	r.Items = []models.DeliveryRequestItem{}
	return &r, nil
}

// CreateWithItems inserts the request and all of its items in one
// transaction. req and items are filled with their generated columns.
func (r *DeliveryRequestRepository) CreateWithItems(ctx context.Context, req *models.DeliveryRequest, items []models.DeliveryRequestItem) error {
	return r.DB.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO delivery_requests (
				branch_id, created_by, request_status, total_amount, delivery_date, priority, notes
			) VALUES ($1, $2, 'pending', $3, $4, $5, $6)
			RETURNING id, request_status, created_at, updated_at`,
			req.BranchID, req.CreatedBy, req.TotalAmount, req.DeliveryDate, req.Priority, req.Notes,
		).Scan(&req.ID, &req.RequestStatus, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return translate(err, "insert request")
		}

		for i := range items {
			item := &items[i]
			item.RequestID = req.ID
			err := tx.QueryRow(ctx, `
				INSERT INTO delivery_request_items (request_id, description, quantity, unit, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id, created_at`,
				item.RequestID, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.Subtotal,
			).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return translate(err, "insert request item")
			}
		}
		req.Items = items
		return nil
	})
}

func (r *DeliveryRequestRepository) Get(ctx context.Context, id int) (*models.DeliveryRequest, error) {
	req, err := scanRequest(r.DB.QueryRow(ctx, requestSelect+` WHERE dr.id = $1`, id))
	if err != nil {
		return nil, translate(err, "get request")
	}
	byRequest, err := loadItems(ctx, r.DB, []int{id})
	if err != nil {
		return nil, err
	}
	if items, ok := byRequest[id]; ok {
		req.Items = items
	}
	return req, nil
}

// List returns requests matching filter, newest first, each with its items.
func (r *DeliveryRequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]*models.DeliveryRequest, error) {
	p := &Predicates{}
	if filter.BranchID != nil {
		p.Add("dr.branch_id = ?", *filter.BranchID)
	}
	if filter.Status != "" {
		p.Add("dr.request_status = ?", filter.Status)
	}

	rows, err := r.DB.Query(ctx, requestSelect+p.Where()+` ORDER BY dr.created_at DESC, dr.id DESC`, p.Args()...)
	if err != nil {
		return nil, translate(err, "list requests")
	}
	requests, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	if err := attachItems(ctx, r.DB, requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func collectRequests(rows pgx.Rows) ([]*models.DeliveryRequest, error) {
	defer rows.Close()
	requests := []*models.DeliveryRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, translate(err, "scan request")
		}
		requests = append(requests, req)
	}
	return requests, translate(rows.Err(), "iterate requests")
}

func attachItems(ctx context.Context, q db.Querier, requests []*models.DeliveryRequest) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]int, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	byRequest, err := loadItems(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, req := range requests {
		if items, ok := byRequest[req.ID]; ok {
			req.Items = items
		}
	}
	return nil
}

func loadItems(ctx context.Context, q db.Querier, requestIDs []int) (map[int][]models.DeliveryRequestItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, request_id, description, quantity, COALESCE(unit, ''), unit_price, subtotal, created_at
		FROM delivery_request_items
		WHERE request_id = ANY($1)
		ORDER BY request_id, id`, requestIDs)
	if err != nil {
		return nil, translate(err, "list request items")
	}
	defer rows.Close()

	byRequest := make(map[int][]models.DeliveryRequestItem, len(requestIDs))
	for rows.Next() {
		var it models.DeliveryRequestItem
		if err := rows.Scan(&it.ID, &it.RequestID, &it.Description, &it.Quantity, &it.Unit,
			&it.UnitPrice, &it.Subtotal, &it.CreatedAt); err != nil {
			return nil, translate(err, "scan request item")
		}
		byRequest[it.RequestID] = append(byRequest[it.RequestID], it)
	}
	return byRequest, translate(rows.Err(), "iterate request items")
}

// TransitionFromPending moves a pending request to status. The row is locked
// for the duration of the check, so of two concurrent calls exactly one sees
// pending; the other gets a *NotPendingError naming the winner.
func (r *DeliveryRequestRepository) TransitionFromPending(ctx context.Context, id int, status string, reason *string, processedBy int) error {
	return r.DB.WithTx(ctx, func(tx pgx.Tx) error {
		var info models.NotPendingInfo
		err := tx.QueryRow(ctx, `
			SELECT dr.request_status, dr.processed_by, COALESCE(u.name, '')
			FROM delivery_requests dr
			LEFT JOIN users u ON u.id = dr.processed_by
			WHERE dr.id = $1
			FOR UPDATE OF dr`, id,
		).Scan(&info.Status, &info.ProcessedBy, &info.ProcessedByName)
		if err != nil {
			return translate(err, "lock request")
		}
		if info.Status != models.RequestPending {
			return &NotPendingError{NotPendingInfo: info}
		}

		_, err = tx.Exec(ctx, `
			UPDATE delivery_requests
			SET request_status = $2, reason = $3, processed_by = $4, processed_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			id, status, reason, processedBy)
		return translate(err, "update request status")
	})
}

// SetStatus applies a status propagated from the bound delivery. Only
// approved or processing requests move; the result reports whether one did.
func (r *DeliveryRequestRepository) SetStatus(ctx context.Context, id int, status string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE delivery_requests
		SET request_status = $2, updated_at = NOW()
		WHERE id = $1 AND request_status IN ('approved', 'processing') AND request_status <> $2`,
		id, status)
	if err != nil {
		return false, translate(err, "set request status")
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the request and, through the foreign keys, its items and
// processing claim. With onlyPending the row must still be pending.
func (r *DeliveryRequestRepository) Delete(ctx context.Context, id int, onlyPending bool) (bool, error) {
	query := `DELETE FROM delivery_requests WHERE id = $1`
	if onlyPending {
		query += ` AND request_status = 'pending'`
	}
	tag, err := r.DB.Exec(ctx, query, id)
	if err != nil {
		return false, translate(err, "delete request")
	}
	return tag.RowsAffected() == 1, nil
}

// ListBound returns every request paired with the status of its delivery.
func (r *DeliveryRequestRepository) ListBound(ctx context.Context) ([]models.StatusDrift, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT dr.id, dr.request_status, d.id, d.status
		FROM delivery_requests dr
		JOIN deliveries d ON d.request_id = dr.id
		ORDER BY dr.id`)
	if err != nil {
		return nil, translate(err, "list bound requests")
	}
	defer rows.Close()

	pairs := []models.StatusDrift{}
	for rows.Next() {
		var d models.StatusDrift
		if err := rows.Scan(&d.RequestID, &d.RequestStatus, &d.DeliveryID, &d.DeliveryStatus); err != nil {
			return nil, translate(err, "scan bound request")
		}
		pairs = append(pairs, d)
	}
	return pairs, translate(rows.Err(), "iterate bound requests")
}
