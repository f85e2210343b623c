// Package policy holds the role table every lifecycle operation is checked
// against before it touches storage.
package policy

import (
	"delivery-backend/internal/apperr"
	"delivery-backend/internal/models"
)

type Operation string

const (
	CreateRequest          Operation = "request.create"
	ListRequests           Operation = "request.list"
	GetRequest             Operation = "request.get"
	UpdateRequestStatus    Operation = "request.update_status"
	DeleteRequest          Operation = "request.delete"
	ProcessingStatus       Operation = "processing.status"
	ClaimProcessing        Operation = "processing.claim"
	ReleaseProcessing      Operation = "processing.release"
	ForceReleaseProcessing Operation = "processing.force_release"
	CreateDelivery         Operation = "delivery.create"
	ListDeliveries         Operation = "delivery.list"
	GetDelivery            Operation = "delivery.get"
	UpdateDelivery         Operation = "delivery.update"
	UpdateDeliveryStatus   Operation = "delivery.update_status"
	ConfirmReceipt         Operation = "delivery.confirm_receipt"
	ArchiveDelivery        Operation = "delivery.archive"
	ClearArchive           Operation = "archive.clear"
	Reconcile              Operation = "archive.reconcile"
)

var (
	anyRole   = []string{models.RoleAdmin, models.RoleWarehouse, models.RoleBranch}
	staff     = []string{models.RoleAdmin, models.RoleWarehouse}
	adminOnly = []string{models.RoleAdmin}
)

// Rules maps each operation to the roles allowed to invoke it. Ownership
// checks (branch scoping, creator-only deletes) are applied by the engines on
// top of this table.
var Rules = map[Operation][]string{
	CreateRequest:          {models.RoleBranch},
	ListRequests:           anyRole,
	GetRequest:             anyRole,
	UpdateRequestStatus:    staff,
	DeleteRequest:          {models.RoleAdmin, models.RoleBranch},
	ProcessingStatus:       anyRole,
	ClaimProcessing:        anyRole,
	ReleaseProcessing:      anyRole,
	ForceReleaseProcessing: adminOnly,
	CreateDelivery:         anyRole,
	ListDeliveries:         anyRole,
	GetDelivery:            anyRole,
	UpdateDelivery:         anyRole,
	UpdateDeliveryStatus:   staff,
	ConfirmReceipt:         {models.RoleAdmin, models.RoleBranch},
	ArchiveDelivery:        anyRole,
	ClearArchive:           adminOnly,
	Reconcile:              adminOnly,
}

type Policy struct {
	allowed map[Operation]map[string]bool
}

func New() *Policy {
	return NewFromRules(Rules)
}

func NewFromRules(rules map[Operation][]string) *Policy {
	allowed := make(map[Operation]map[string]bool, len(rules))
	for op, roles := range rules {
		set := make(map[string]bool, len(roles))
		for _, r := range roles {
			set[r] = true
		}
		allowed[op] = set
	}
	return &Policy{allowed: allowed}
}

// Allowed reports whether caller's role may invoke op. Unknown operations and
// roles are denied.
func (p *Policy) Allowed(caller models.Caller, op Operation) bool {
	return p.allowed[op][caller.Role]
}

// Authorize returns an authorization error when caller may not invoke op.
func (p *Policy) Authorize(caller models.Caller, op Operation) error {
	if p.Allowed(caller, op) {
		return nil
	}
	return apperr.Authorization("role %q may not perform %s", caller.Role, op)
}
