package models

import "time"

// Delivery statuses, in lifecycle order.
const (
	DeliveryPending   = "pending"
	DeliveryPreparing = "preparing"
	DeliveryLoading   = "loading"
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
	DeliveryCancelled = "cancelled"
)

var deliveryRank = map[string]int{
	DeliveryPending:   0,
	DeliveryPreparing: 1,
	DeliveryLoading:   2,
	DeliveryInTransit: 3,
	DeliveryDelivered: 4,
}

// IsDeliveryStatus reports whether s is a known delivery status.
func IsDeliveryStatus(s string) bool {
	if s == DeliveryCancelled {
		return true
	}
	_, ok := deliveryRank[s]
	return ok
}

// IsTerminalDelivery reports whether no further transition is allowed from s.
func IsTerminalDelivery(s string) bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

// CanAdvance reports whether a delivery may move from one status to another.
// Moves are forward-only; cancelled is reached only through archival.
func CanAdvance(from, to string) bool {
	if IsTerminalDelivery(from) || to == DeliveryCancelled {
		return false
	}
	f, ok := deliveryRank[from]
	if !ok {
		return false
	}
	t, ok := deliveryRank[to]
	return ok && t > f
}

// PropagatedRequestStatus maps a delivery status onto the status its bound
// request should take. An empty result means the request is left alone.
func PropagatedRequestStatus(deliveryStatus string) string {
	switch deliveryStatus {
	case DeliveryDelivered:
		return RequestDelivered
	case DeliveryInTransit, DeliveryLoading:
		return RequestProcessing
	}
	return ""
}

type Delivery struct {
	ID               int        `json:"id"`
	RequestID        *int       `json:"request_id,omitempty"`
	TrackingNumber   string     `json:"tracking_number"`
	RecipientName    string     `json:"recipient_name"`
	RecipientAddress string     `json:"recipient_address"`
	RecipientPhone   *string    `json:"recipient_phone,omitempty"`
	Status           string     `json:"status"`
	BranchID         *int       `json:"branch_id,omitempty"`
	CreatedBy        int        `json:"created_by"`
	Notes            *string    `json:"notes,omitempty"`
	ScheduledDate    *time.Time `json:"scheduled_date,omitempty"`
	ReceivedAt       *time.Time `json:"received_at,omitempty"`
	ReceivedBy       *int       `json:"received_by,omitempty"`
	IsArchived       bool       `json:"is_archived"`
	ArchivedBy       *int       `json:"archived_by,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	BranchName     string `json:"branch_name,omitempty"`
	CreatedByName  string `json:"created_by_name,omitempty"`
	ReceivedByName string `json:"received_by_name,omitempty"`
}

// DeliveryFilter narrows delivery listings.
type DeliveryFilter struct {
	BranchID        *int
	Status          string
	OngoingOnly     bool
	IncludeArchived bool
	From            *time.Time
	To              *time.Time
}

type CreateDeliveryRequest struct {
	RequestID        *int       `json:"request_id" validate:"omitempty,gt=0"`
	RecipientName    string     `json:"recipient_name" validate:"required"`
	RecipientAddress string     `json:"recipient_address" validate:"required"`
	RecipientPhone   string     `json:"recipient_phone"`
	BranchID         *int       `json:"branch_id"`
	Status           string     `json:"status"` // ignored: new deliveries always start pending
	Notes            string     `json:"notes"`
	ScheduledDate    *time.Time `json:"scheduled_date"`
}

type UpdateDeliveryRequest struct {
	TrackingNumber   string     `json:"tracking_number" validate:"required"`
	RecipientName    string     `json:"recipient_name" validate:"required"`
	RecipientAddress string     `json:"recipient_address" validate:"required"`
	RecipientPhone   string     `json:"recipient_phone"`
	BranchID         *int       `json:"branch_id"`
	Status           string     `json:"status"`
	Notes            string     `json:"notes"`
	ScheduledDate    *time.Time `json:"scheduled_date"`
}

type UpdateDeliveryStatusRequest struct {
	Status string `json:"status"`
}
