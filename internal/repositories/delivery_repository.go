package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

type DeliveryRepository struct {
	DB *db.Gateway
}

func NewDeliveryRepository(gw *db.Gateway) *DeliveryRepository {
	return &DeliveryRepository{DB: gw}
}

const deliverySelect = `
	SELECT d.id, d.request_id, d.tracking_number, d.recipient_name, d.recipient_address,
	       d.recipient_phone, d.status, d.branch_id, d.created_by, d.notes, d.scheduled_date,
	       d.received_at, d.received_by, d.is_archived, d.archived_by, d.archived_at,
	       d.created_at, d.updated_at,
	       COALESCE(b.name, ''), COALESCE(cu.name, ''), COALESCE(ru.name, '')
	FROM deliveries d
	LEFT JOIN branches b ON b.id = d.branch_id
	LEFT JOIN users cu ON cu.id = d.created_by
	LEFT JOIN users ru ON ru.id = d.received_by
`

func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	err := row.Scan(
		&d.ID, &d.RequestID, &d.TrackingNumber, &d.RecipientName, &d.RecipientAddress,
		&d.RecipientPhone, &d.Status, &d.BranchID, &d.CreatedBy, &d.Notes, &d.ScheduledDate,
		&d.ReceivedAt, &d.ReceivedBy, &d.IsArchived, &d.ArchivedBy, &d.ArchivedAt,
		&d.CreatedAt, &d.UpdatedAt,
		&d.BranchName, &d.CreatedByName, &d.ReceivedByName,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]*models.Delivery, error) {
	defer rows.Close()
	deliveries := []*models.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, translate(err, "scan delivery")
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, translate(rows.Err(), "iterate deliveries")
}

// Create inserts an unbound delivery. Its id comes from the shared sequence.
func (r *DeliveryRepository) Create(ctx context.Context, d *models.Delivery) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO deliveries (
			tracking_number, recipient_name, recipient_address, recipient_phone,
			status, branch_id, created_by, notes, scheduled_date
		) VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
		RETURNING id, status, created_at, updated_at`,
		d.TrackingNumber, d.RecipientName, d.RecipientAddress, d.RecipientPhone,
		d.BranchID, d.CreatedBy, d.Notes, d.ScheduledDate,
	).Scan(&d.ID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	return translate(err, "insert delivery")
}

// CreateFromRequest converts an approved request into a delivery sharing its
// id. In the same transaction the request moves to processing, records the
// back-reference and loses any processing claim. It returns the number of
// claims released.
func (r *DeliveryRepository) CreateFromRequest(ctx context.Context, d *models.Delivery) (int64, error) {
	if d.RequestID == nil {
		return 0, ErrNotFound
	}
	requestID := *d.RequestID

	var released int64
	err := r.DB.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			status     string
			deliveryID *int
		)
		err := tx.QueryRow(ctx,
			`SELECT request_status, delivery_id FROM delivery_requests WHERE id = $1 FOR UPDATE`, requestID,
		).Scan(&status, &deliveryID)
		if err != nil {
			return translate(err, "lock request")
		}
		if deliveryID != nil {
			return ErrRequestAlreadyDelivered
		}
		if status != models.RequestApproved {
			return &StateError{Status: status}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO deliveries (
				id, request_id, tracking_number, recipient_name, recipient_address, recipient_phone,
				status, branch_id, created_by, notes, scheduled_date
			) VALUES ($1, $1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
			RETURNING id, status, created_at, updated_at`,
			requestID, d.TrackingNumber, d.RecipientName, d.RecipientAddress, d.RecipientPhone,
			d.BranchID, d.CreatedBy, d.Notes, d.ScheduledDate,
		).Scan(&d.ID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return translate(err, "insert delivery")
		}

		_, err = tx.Exec(ctx, `
			UPDATE delivery_requests
			SET request_status = 'processing', delivery_id = $2, updated_at = NOW()
			WHERE id = $1`,
			requestID, d.ID)
		if err != nil {
			return translate(err, "mark request processing")
		}

		tag, err := tx.Exec(ctx, `DELETE FROM request_processing WHERE request_id = $1`, requestID)
		if err != nil {
			return translate(err, "clear processing claim")
		}
		released = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (r *DeliveryRepository) Get(ctx context.Context, id int) (*models.Delivery, error) {
	d, err := scanDelivery(r.DB.QueryRow(ctx, deliverySelect+` WHERE d.id = $1`, id))
	if err != nil {
		return nil, translate(err, "get delivery")
	}
	return d, nil
}

func (r *DeliveryRepository) GetByTracking(ctx context.Context, trackingNumber string) (*models.Delivery, error) {
	d, err := scanDelivery(r.DB.QueryRow(ctx, deliverySelect+` WHERE d.tracking_number = $1`, trackingNumber))
	if err != nil {
		return nil, translate(err, "get delivery by tracking number")
	}
	return d, nil
}

// List returns deliveries matching filter, newest first. Archived rows are
// excluded unless the filter asks for them.
func (r *DeliveryRepository) List(ctx context.Context, filter models.DeliveryFilter) ([]*models.Delivery, error) {
	p := &Predicates{}
	if !filter.IncludeArchived {
		p.Add("d.is_archived = FALSE")
	}
	if filter.BranchID != nil {
		p.Add("d.branch_id = ?", *filter.BranchID)
	}
	if filter.Status != "" {
		p.Add("d.status = ?", filter.Status)
	}
	if filter.OngoingOnly {
		p.Add("d.status NOT IN ('delivered', 'cancelled')")
	}
	if filter.From != nil {
		p.Add("d.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		p.Add("d.created_at < ?", *filter.To)
	}

	rows, err := r.DB.Query(ctx, deliverySelect+p.Where()+` ORDER BY d.created_at DESC, d.id DESC`, p.Args()...)
	if err != nil {
		return nil, translate(err, "list deliveries")
	}
	return collectDeliveries(rows)
}

// Update replaces the editable fields of a delivery whose status is still
// observed. A status change into delivered stamps the receipt. ErrStatusChanged
// means the row moved (or vanished) since it was read.
func (r *DeliveryRepository) Update(ctx context.Context, d *models.Delivery, observed string, userID int) error {
	err := r.DB.QueryRow(ctx, `
		UPDATE deliveries SET
			tracking_number = $3, recipient_name = $4, recipient_address = $5, recipient_phone = $6,
			status = $7, branch_id = $8, notes = $9, scheduled_date = $10,
			received_at = CASE WHEN $7 = 'delivered' AND status <> 'delivered' THEN NOW() ELSE received_at END,
			received_by = CASE WHEN $7 = 'delivered' AND status <> 'delivered' THEN $11 ELSE received_by END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		d.ID, observed, d.TrackingNumber, d.RecipientName, d.RecipientAddress, d.RecipientPhone,
		d.Status, d.BranchID, d.Notes, d.ScheduledDate, userID,
	).Scan(&d.UpdatedAt)
	if err := translate(err, "update delivery"); err != nil {
		if err == ErrNotFound {
			return ErrStatusChanged
		}
		return err
	}
	return nil
}

// SetStatus moves a delivery from one status to another as a single
// compare-and-set. received_at and received_by are stamped on the move into
// delivered.
func (r *DeliveryRepository) SetStatus(ctx context.Context, id int, from, to string, userID int) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE deliveries SET
			status = $3,
			received_at = CASE WHEN $3 = 'delivered' THEN NOW() ELSE received_at END,
			received_by = CASE WHEN $3 = 'delivered' THEN $4 ELSE received_by END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, userID)
	if err != nil {
		return translate(err, "set delivery status")
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// Archive soft-deletes a delivery. Anything not yet delivered becomes
// cancelled; repeated calls keep the first archive stamp.
func (r *DeliveryRepository) Archive(ctx context.Context, id, userID int) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE deliveries SET
			is_archived = TRUE,
			status = CASE WHEN status = 'delivered' THEN status ELSE 'cancelled' END,
			archived_by = COALESCE(archived_by, $2),
			archived_at = COALESCE(archived_at, NOW()),
			updated_at = NOW()
		WHERE id = $1`,
		id, userID)
	if err != nil {
		return translate(err, "archive delivery")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
