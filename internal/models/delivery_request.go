package models

import "time"

// Request statuses
const (
	RequestPending    = "pending"
	RequestApproved   = "approved"
	RequestRejected   = "rejected"
	RequestProcessing = "processing"
	RequestDelivered  = "delivered"
)

var requestStatuses = map[string]bool{
	RequestPending:    true,
	RequestApproved:   true,
	RequestRejected:   true,
	RequestProcessing: true,
	RequestDelivered:  true,
}

// IsRequestStatus reports whether s is a known request status.
func IsRequestStatus(s string) bool {
	return requestStatuses[s]
}

// IsDecision reports whether s is a legal exit from pending.
func IsDecision(s string) bool {
	return s == RequestApproved || s == RequestRejected
}

type DeliveryRequest struct {
	ID            int        `json:"id"`
	BranchID      int        `json:"branch_id"`
	CreatedBy     int        `json:"created_by"`
	RequestStatus string     `json:"request_status"`
	ProcessedBy   *int       `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
	TotalAmount   float64    `json:"total_amount"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
	Priority      string     `json:"priority"`
	Notes         *string    `json:"notes,omitempty"`
	DeliveryID    *int       `json:"delivery_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	BranchName      string `json:"branch_name"`
	CreatedByName   string `json:"created_by_name"`
	ProcessedByName string `json:"processed_by_name,omitempty"`

	Items []DeliveryRequestItem `json:"items"`
}

type DeliveryRequestItem struct {
	ID          int       `json:"id"`
	RequestID   int       `json:"request_id"`
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	UnitPrice   float64   `json:"unit_price"`
	Subtotal    float64   `json:"subtotal"`
	CreatedAt   time.Time `json:"created_at"`
}

// RequestFilter narrows request listings. A nil BranchID means every branch.
type RequestFilter struct {
	BranchID *int
	Status   string
}

// CreateDeliveryRequestRequest is the payload a branch submits.
type CreateDeliveryRequestRequest struct {
	Items        []CreateRequestItem `json:"items" validate:"required,min=1,dive"`
	DeliveryDate *time.Time          `json:"delivery_date"`
	Priority     string              `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Notes        string              `json:"notes"`
	TotalAmount  *float64            `json:"total_amount" validate:"omitempty,gte=0"`
}

type CreateRequestItem struct {
	Description string   `json:"description" validate:"required"`
	Quantity    float64  `json:"quantity" validate:"gte=0.001"`
	Unit        string   `json:"unit"`
	UnitPrice   float64  `json:"unit_price" validate:"gte=0"`
	Subtotal    *float64 `json:"subtotal" validate:"omitempty,gte=0"`
}

// LineSubtotal returns the supplied subtotal or quantity × unit price.
func (i CreateRequestItem) LineSubtotal() float64 {
	if i.Subtotal != nil {
		return *i.Subtotal
	}
	return i.Quantity * i.UnitPrice
}

type UpdateRequestStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// NotPendingInfo describes who already moved a request out of pending.
type NotPendingInfo struct {
	Status          string
	ProcessedBy     *int
	ProcessedByName string
}

// StatusDrift is a request whose status lags its bound delivery.
type StatusDrift struct {
	RequestID      int    `json:"request_id"`
	RequestStatus  string `json:"request_status"`
	DeliveryID     int    `json:"delivery_id"`
	DeliveryStatus string `json:"delivery_status"`
	Expected       string `json:"expected"`
}

type ReconcileResult struct {
	Checked  int           `json:"checked"`
	Repaired int           `json:"repaired"`
	Drifts   []StatusDrift `json:"drifts"`
}
