package models

import "time"

type ArchiveResult struct {
	RequestsDeleted   int64  `json:"requests_deleted"`
	DeliveriesDeleted int64  `json:"deliveries_deleted"`
	SnapshotKey       string `json:"snapshot_key,omitempty"`
}

// ArchiveSnapshot holds the rows a ClearArchive is about to remove.
type ArchiveSnapshot struct {
	TakenAt    time.Time          `json:"taken_at"`
	TakenBy    int                `json:"taken_by"`
	Requests   []*DeliveryRequest `json:"requests"`
	Deliveries []*Delivery        `json:"deliveries"`
}

func (s *ArchiveSnapshot) Empty() bool {
	return len(s.Requests) == 0 && len(s.Deliveries) == 0
}

// Lifecycle event types
const (
	EventRequestCreated     = "request.created"
	EventRequestStatus      = "request.status"
	EventRequestDeleted     = "request.deleted"
	EventProcessingClaimed  = "processing.claimed"
	EventProcessingReleased = "processing.released"
	EventDeliveryCreated    = "delivery.created"
	EventDeliveryUpdated    = "delivery.updated"
	EventDeliveryStatus     = "delivery.status"
	EventDeliveryArchived   = "delivery.archived"
	EventArchiveCleared     = "archive.cleared"
)

// LifecycleEvent is pushed to live subscribers after a committed change.
type LifecycleEvent struct {
	Type     string    `json:"type"`
	EntityID int       `json:"entity_id"`
	Status   string    `json:"status,omitempty"`
	BranchID *int      `json:"branch_id,omitempty"`
	UserID   int       `json:"user_id"`
	At       time.Time `json:"at"`
}
