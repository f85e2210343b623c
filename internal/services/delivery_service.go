package services

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/metrics"
	"delivery-backend/internal/models"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/repositories"
	"delivery-backend/internal/validation"
)

const propagationTimeout = 5 * time.Second

// DeliveryService owns deliveries, their forward-only status lifecycle and
// the propagation of that status to a bound request.
type DeliveryService struct {
	Deliveries DeliveryStore
	Requests   RequestStore
	Policy     *policy.Policy
	Tracking   TrackingGenerator
	Events     Notifier
	Cache      Invalidator
	Log        logrus.FieldLogger
}

func NewDeliveryService(deliveries DeliveryStore, requests RequestStore, pol *policy.Policy, log logrus.FieldLogger) *DeliveryService {
	return &DeliveryService{
		Deliveries: deliveries,
		Requests:   requests,
		Policy:     pol,
		Tracking:   NewTrackingGenerator(time.Now),
		Events:     noopNotifier{},
		Cache:      noopInvalidator{},
		Log:        log.WithField("component", "deliveries"),
	}
}

// Create registers a delivery. With a request id the delivery takes the
// request's id, the request moves to processing and its claim is dropped, all
// in one transaction. New deliveries always start pending.
func (s *DeliveryService) Create(ctx context.Context, caller models.Caller, in *models.CreateDeliveryRequest) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.CreateDelivery); err != nil {
		return nil, err
	}
	in.RecipientName = strings.TrimSpace(in.RecipientName)
	in.RecipientAddress = strings.TrimSpace(in.RecipientAddress)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	d := &models.Delivery{
		RecipientName:    in.RecipientName,
		RecipientAddress: in.RecipientAddress,
		RecipientPhone:   optional(in.RecipientPhone),
		BranchID:         in.BranchID,
		CreatedBy:        caller.UserID,
		Notes:            optional(in.Notes),
		ScheduledDate:    in.ScheduledDate,
	}

	var req *models.DeliveryRequest
	if in.RequestID != nil {
		var err error
		req, err = s.Requests.Get(ctx, *in.RequestID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.Validation("request %d does not exist", *in.RequestID)
		}
		if err != nil {
			return nil, storeError(err, "request")
		}
		if req.DeliveryID != nil {
			return nil, apperr.Validation("request %d already has a delivery", req.ID).
				With("delivery_id", *req.DeliveryID)
		}
		if req.RequestStatus != models.RequestApproved {
			return nil, notApproved(req.RequestStatus)
		}
		if d.BranchID == nil {
			branchID := req.BranchID
			d.BranchID = &branchID
		}
		d.RequestID = &req.ID
	}

	if caller.Role == models.RoleBranch {
		if d.BranchID == nil {
			d.BranchID = caller.BranchID
		}
		if !caller.OwnsBranch(d.BranchID) {
			return nil, apperr.Authorization("branch users can only create deliveries for their own branch")
		}
	}

	d.TrackingNumber = s.Tracking(d.RequestID)

	if d.RequestID != nil {
		released, err := s.Deliveries.CreateFromRequest(ctx, d)
		var stateErr *repositories.StateError
		if errors.As(err, &stateErr) {
			return nil, notApproved(stateErr.Status)
		}
		if err != nil {
			return nil, storeError(err, "request")
		}
		metrics.RequestTransitions.WithLabelValues(models.RequestProcessing).Inc()
		s.publish(models.EventRequestStatus, req.ID, models.RequestProcessing, &req.BranchID, caller)
		if released > 0 {
			s.publish(models.EventProcessingReleased, req.ID, "", &req.BranchID, caller)
		}
		s.Cache.InvalidateRequests(ctx)
	} else if err := s.Deliveries.Create(ctx, d); err != nil {
		return nil, storeError(err, "delivery")
	}

	metrics.DeliveryTransitions.WithLabelValues(models.DeliveryPending).Inc()
	s.Log.WithFields(logrus.Fields{
		"delivery_id":     d.ID,
		"tracking_number": d.TrackingNumber,
	}).Info("[Delivery] Created")
	s.publish(models.EventDeliveryCreated, d.ID, d.Status, d.BranchID, caller)
	s.Cache.InvalidateDeliveries(ctx)

	return s.reload(ctx, d)
}

func (s *DeliveryService) reload(ctx context.Context, d *models.Delivery) (*models.Delivery, error) {
	fresh, err := s.Deliveries.Get(ctx, d.ID)
	if err != nil {
		s.Log.WithError(err).WithField("delivery_id", d.ID).Warn("[Delivery] Reload after write failed")
		return d, nil
	}
	return fresh, nil
}

func (s *DeliveryService) Get(ctx context.Context, caller models.Caller, id int) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.GetDelivery); err != nil {
		return nil, err
	}
	return s.load(ctx, caller, id)
}

func (s *DeliveryService) load(ctx context.Context, caller models.Caller, id int) (*models.Delivery, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid delivery id")
	}
	d, err := s.Deliveries.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "delivery")
	}
	if err := checkBranch(caller, d); err != nil {
		return nil, err
	}
	return d, nil
}

func checkBranch(caller models.Caller, d *models.Delivery) error {
	if caller.Role == models.RoleBranch && !caller.OwnsBranch(d.BranchID) {
		return apperr.Authorization("delivery belongs to another branch")
	}
	return nil
}

func (s *DeliveryService) GetByTracking(ctx context.Context, caller models.Caller, trackingNumber string) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.GetDelivery); err != nil {
		return nil, err
	}
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, apperr.Validation("tracking number is required")
	}
	d, err := s.Deliveries.GetByTracking(ctx, trackingNumber)
	if err != nil {
		return nil, storeError(err, "delivery")
	}
	if err := checkBranch(caller, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns deliveries matching filter. Branch users are always scoped to
// their own branch.
func (s *DeliveryService) List(ctx context.Context, caller models.Caller, filter models.DeliveryFilter) ([]*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.ListDeliveries); err != nil {
		return nil, err
	}
	if filter.Status != "" && !models.IsDeliveryStatus(filter.Status) {
		return nil, apperr.Validation("unknown delivery status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperr.Validation("date range ends before it starts")
	}
	if caller.Role == models.RoleBranch {
		if caller.BranchID == nil {
			return nil, apperr.Authorization("branch user is not assigned to a branch")
		}
		filter.BranchID = caller.BranchID
	}

	deliveries, err := s.Deliveries.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "delivery")
	}
	return deliveries, nil
}

// UpdateFull replaces a delivery's editable fields. An empty status keeps the
// current one; an unknown status is treated as pending and then has to pass
// the same forward-only rule as UpdateStatus.
func (s *DeliveryService) UpdateFull(ctx context.Context, caller models.Caller, id int, in *models.UpdateDeliveryRequest) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.UpdateDelivery); err != nil {
		return nil, err
	}
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	in.RecipientName = strings.TrimSpace(in.RecipientName)
	in.RecipientAddress = strings.TrimSpace(in.RecipientAddress)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	current, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if current.IsArchived {
		return nil, apperr.Precondition("archived deliveries cannot be edited")
	}

	status := in.Status
	switch {
	case status == "":
		status = current.Status
	case !models.IsDeliveryStatus(status):
		status = models.DeliveryPending
	}
	if status != current.Status {
		if err := s.Policy.Authorize(caller, policy.UpdateDeliveryStatus); err != nil {
			return nil, err
		}
		if !models.CanAdvance(current.Status, status) {
			return nil, cannotMove(current.Status, status)
		}
	}

	updated := *current
	updated.TrackingNumber = in.TrackingNumber
	updated.RecipientName = in.RecipientName
	updated.RecipientAddress = in.RecipientAddress
	updated.RecipientPhone = optional(in.RecipientPhone)
	updated.Status = status
	updated.Notes = optional(in.Notes)
	updated.ScheduledDate = in.ScheduledDate
	if in.BranchID != nil {
		updated.BranchID = in.BranchID
	}
	if err := checkBranch(caller, &updated); err != nil {
		return nil, err
	}

	err = s.Deliveries.Update(ctx, &updated, current.Status, caller.UserID)
	if errors.Is(err, repositories.ErrStatusChanged) {
		return nil, apperr.Conflict("delivery changed while it was being edited; reload and retry")
	}
	if err != nil {
		return nil, storeError(err, "delivery")
	}

	s.Log.WithField("delivery_id", id).Info("[Delivery] Updated")
	s.publish(models.EventDeliveryUpdated, id, status, updated.BranchID, caller)
	if status != current.Status {
		metrics.DeliveryTransitions.WithLabelValues(status).Inc()
		s.propagate(ctx, current, status, caller)
	}
	s.Cache.InvalidateDeliveries(ctx)

	return s.reload(ctx, &updated)
}

// UpdateStatus moves a delivery forward. Setting the current status again is a
// no-op; backward moves and moves out of delivered or cancelled are refused.
func (s *DeliveryService) UpdateStatus(ctx context.Context, caller models.Caller, id int, status string) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.UpdateDeliveryStatus); err != nil {
		return nil, err
	}
	if !models.IsDeliveryStatus(status) {
		return nil, apperr.Validation("invalid status %q", status)
	}
	current, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.IsArchived {
		return nil, apperr.Precondition("archived deliveries cannot change status")
	}
	if !models.CanAdvance(current.Status, status) {
		return nil, cannotMove(current.Status, status)
	}

	err = s.Deliveries.SetStatus(ctx, id, current.Status, status, caller.UserID)
	if errors.Is(err, repositories.ErrStatusChanged) {
		return nil, apperr.Conflict("delivery status changed concurrently; reload and retry")
	}
	if err != nil {
		return nil, storeError(err, "delivery")
	}

	s.transitioned(ctx, current, status, caller)
	return s.reload(ctx, current)
}

// ConfirmReceipt marks an in-transit delivery as delivered.
func (s *DeliveryService) ConfirmReceipt(ctx context.Context, caller models.Caller, id int) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.ConfirmReceipt); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.DeliveryInTransit {
		return nil, apperr.Precondition("only in-transit deliveries can be confirmed; delivery is %s", current.Status).
			With("status", current.Status)
	}

	err = s.Deliveries.SetStatus(ctx, id, models.DeliveryInTransit, models.DeliveryDelivered, caller.UserID)
	if errors.Is(err, repositories.ErrStatusChanged) {
		return nil, apperr.Precondition("delivery is no longer in transit")
	}
	if err != nil {
		return nil, storeError(err, "delivery")
	}

	s.transitioned(ctx, current, models.DeliveryDelivered, caller)
	return s.reload(ctx, current)
}

func (s *DeliveryService) transitioned(ctx context.Context, d *models.Delivery, status string, caller models.Caller) {
	metrics.DeliveryTransitions.WithLabelValues(status).Inc()
	s.Log.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"from":        d.Status,
		"status":      status,
	}).Info("[Delivery] Status changed")
	s.publish(models.EventDeliveryStatus, d.ID, status, d.BranchID, caller)
	s.propagate(ctx, d, status, caller)
	s.Cache.InvalidateDeliveries(ctx)
}

// propagate pushes a delivery status onto its bound request. The delivery
// change is already committed, so a failure here is logged and counted, not
// returned; Reconcile repairs what is left behind.
func (s *DeliveryService) propagate(ctx context.Context, d *models.Delivery, status string, caller models.Caller) {
	if d.RequestID == nil {
		return
	}
	target := models.PropagatedRequestStatus(status)
	if target == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), propagationTimeout)
	defer cancel()

	changed, err := s.Requests.SetStatus(ctx, *d.RequestID, target)
	if err != nil {
		metrics.PropagationFailures.Inc()
		s.Log.WithError(err).WithFields(logrus.Fields{
			"delivery_id": d.ID,
			"request_id":  *d.RequestID,
			"status":      target,
		}).Warn("[Delivery] Failed to propagate status to request")
		return
	}
	if changed {
		metrics.RequestTransitions.WithLabelValues(target).Inc()
		s.publish(models.EventRequestStatus, *d.RequestID, target, d.BranchID, caller)
		s.Cache.InvalidateRequests(ctx)
	}
}

// Archive soft-deletes a delivery; the row stays until ClearArchive.
func (s *DeliveryService) Archive(ctx context.Context, caller models.Caller, id int) (*models.Delivery, error) {
	if err := s.Policy.Authorize(caller, policy.ArchiveDelivery); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.Deliveries.Archive(ctx, id, caller.UserID); err != nil {
		return nil, storeError(err, "delivery")
	}

	if !current.IsArchived {
		status := models.DeliveryCancelled
		if current.Status == models.DeliveryDelivered {
			status = current.Status
		}
		s.Log.WithFields(logrus.Fields{"delivery_id": id, "user_id": caller.UserID}).Info("[Delivery] Archived")
		s.publish(models.EventDeliveryArchived, id, status, current.BranchID, caller)
	}
	s.Cache.InvalidateDeliveries(ctx)
	return s.reload(ctx, current)
}

func cannotMove(from, to string) error {
	return apperr.Precondition("delivery cannot move from %s to %s", from, to).
		With("status", from)
}

func (s *DeliveryService) publish(kind string, id int, status string, branchID *int, caller models.Caller) {
	s.Events.Publish(models.LifecycleEvent{
		Type:     kind,
		EntityID: id,
		Status:   status,
		BranchID: branchID,
		UserID:   caller.UserID,
		At:       time.Now(),
	})
}
