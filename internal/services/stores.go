package services

import (
	"context"

	"delivery-backend/internal/models"
)

// The store interfaces below are satisfied by the pgx repositories. Services
// depend on them so the lifecycle rules can be exercised without a database.

type RequestStore interface {
	CreateWithItems(ctx context.Context, req *models.DeliveryRequest, items []models.DeliveryRequestItem) error
	Get(ctx context.Context, id int) (*models.DeliveryRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]*models.DeliveryRequest, error)
	TransitionFromPending(ctx context.Context, id int, status string, reason *string, processedBy int) error
	SetStatus(ctx context.Context, id int, status string) (bool, error)
	Delete(ctx context.Context, id int, onlyPending bool) (bool, error)
	ListBound(ctx context.Context) ([]models.StatusDrift, error)
}

type ClaimStore interface {
	Get(ctx context.Context, requestID int) (*models.ProcessingClaim, error)
	Claim(ctx context.Context, requestID, userID int) (*models.ProcessingClaim, bool, error)
	Release(ctx context.Context, requestID, userID int) (int64, error)
	ReleaseAll(ctx context.Context, requestID int) (int64, error)
}

type DeliveryStore interface {
	Create(ctx context.Context, d *models.Delivery) error
	CreateFromRequest(ctx context.Context, d *models.Delivery) (int64, error)
	Get(ctx context.Context, id int) (*models.Delivery, error)
	GetByTracking(ctx context.Context, trackingNumber string) (*models.Delivery, error)
	List(ctx context.Context, filter models.DeliveryFilter) ([]*models.Delivery, error)
	Update(ctx context.Context, d *models.Delivery, observed string, userID int) error
	SetStatus(ctx context.Context, id int, from, to string, userID int) error
	Archive(ctx context.Context, id, userID int) error
}

type ArchiveStore interface {
	Clear(ctx context.Context, takenBy int, before func(*models.ArchiveSnapshot) error) (*models.ArchiveResult, error)
}

type UserStore interface {
	Get(ctx context.Context, id int) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Notifier receives lifecycle events after they commit.
type Notifier interface {
	Publish(event models.LifecycleEvent)
}

// SnapshotUploader stores a copy of the rows ClearArchive is about to delete
// and returns the object key.
type SnapshotUploader interface {
	Upload(ctx context.Context, snapshot *models.ArchiveSnapshot) (string, error)
}

// Invalidator drops cached read models after a mutation.
type Invalidator interface {
	InvalidateRequests(ctx context.Context)
	InvalidateDeliveries(ctx context.Context)
}

type noopNotifier struct{}

func (noopNotifier) Publish(models.LifecycleEvent) {}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateRequests(context.Context)   {}
func (noopInvalidator) InvalidateDeliveries(context.Context) {}
