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

// RequestService owns delivery requests and their approval state machine.
type RequestService struct {
	Requests RequestStore
	Policy   *policy.Policy
	Events   Notifier
	Cache    Invalidator
	Log      logrus.FieldLogger
}

func NewRequestService(requests RequestStore, pol *policy.Policy, log logrus.FieldLogger) *RequestService {
	return &RequestService{
		Requests: requests,
		Policy:   pol,
		Events:   noopNotifier{},
		Cache:    noopInvalidator{},
		Log:      log.WithField("component", "requests"),
	}
}

// Create stores a pending request with its items for the caller's branch.
func (s *RequestService) Create(ctx context.Context, caller models.Caller, in *models.CreateDeliveryRequestRequest) (*models.DeliveryRequest, error) {
	if err := s.Policy.Authorize(caller, policy.CreateRequest); err != nil {
		return nil, err
	}
	if caller.BranchID == nil {
		return nil, apperr.Validation("branch user is not assigned to a branch")
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	items := make([]models.DeliveryRequestItem, len(in.Items))
	var total float64
	for i, it := range in.Items {
		items[i] = models.DeliveryRequestItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			Unit:        strings.TrimSpace(it.Unit),
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.LineSubtotal(),
		}
		total += items[i].Subtotal
	}
	if in.TotalAmount != nil {
		total = *in.TotalAmount
	}

	req := &models.DeliveryRequest{
		BranchID:     *caller.BranchID,
		CreatedBy:    caller.UserID,
		TotalAmount:  total,
		DeliveryDate: in.DeliveryDate,
		Priority:     in.Priority,
		Notes:        optional(in.Notes),
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}

	if err := s.Requests.CreateWithItems(ctx, req, items); err != nil {
		return nil, storeError(err, "request")
	}
	metrics.RequestTransitions.WithLabelValues(models.RequestPending).Inc()
	s.Log.WithFields(logrus.Fields{"request_id": req.ID, "items": len(items)}).Info("[Request] Created")
	s.publish(models.EventRequestCreated, req.ID, models.RequestPending, &req.BranchID, caller)

	return s.reload(ctx, req)
}

// reload fetches the enriched row after a committed write, falling back to
// what the caller already has if the read fails.
func (s *RequestService) reload(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryRequest, error) {
	fresh, err := s.Requests.Get(ctx, req.ID)
	if err != nil {
		s.Log.WithError(err).WithField("request_id", req.ID).Warn("[Request] Reload after write failed")
		return req, nil
	}
	return fresh, nil
}

// Get returns one request with its items. Branch users only see their own.
func (s *RequestService) Get(ctx context.Context, caller models.Caller, id int) (*models.DeliveryRequest, error) {
	if err := s.Policy.Authorize(caller, policy.GetRequest); err != nil {
		return nil, err
	}
	return s.load(ctx, caller, id)
}

func (s *RequestService) load(ctx context.Context, caller models.Caller, id int) (*models.DeliveryRequest, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid request id")
	}
	req, err := s.Requests.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "request")
	}
	if caller.Role == models.RoleBranch && !caller.OwnsBranch(&req.BranchID) {
		return nil, apperr.Authorization("request belongs to another branch")
	}
	return req, nil
}

// List returns requests visible to caller, optionally narrowed by status.
func (s *RequestService) List(ctx context.Context, caller models.Caller, status string) ([]*models.DeliveryRequest, error) {
	if err := s.Policy.Authorize(caller, policy.ListRequests); err != nil {
		return nil, err
	}
	if status != "" && !models.IsRequestStatus(status) {
		return nil, apperr.Validation("unknown request status %q", status)
	}

	filter := models.RequestFilter{Status: status}
	if caller.Role == models.RoleBranch {
		if caller.BranchID == nil {
			return nil, apperr.Authorization("branch user is not assigned to a branch")
		}
		filter.BranchID = caller.BranchID
	}

	requests, err := s.Requests.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "request")
	}
	return requests, nil
}

// UpdateStatus approves or rejects a pending request. Only the first decision
// on a request wins; later ones get a conflict naming who decided.
func (s *RequestService) UpdateStatus(ctx context.Context, caller models.Caller, id int, in *models.UpdateRequestStatusRequest) (*models.DeliveryRequest, error) {
	if err := s.Policy.Authorize(caller, policy.UpdateRequestStatus); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, apperr.Validation("invalid request id")
	}
	if !models.IsRequestStatus(in.Status) {
		return nil, apperr.Validation("invalid status %q", in.Status)
	}
	reason := strings.TrimSpace(in.Reason)
	if in.Status == models.RequestRejected && reason == "" {
		return nil, apperr.Validation("reason is required when rejecting a request")
	}

	current, err := s.Requests.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "request")
	}
	if current.RequestStatus != models.RequestPending {
		return nil, s.notPending(models.NotPendingInfo{
			Status:          current.RequestStatus,
			ProcessedBy:     current.ProcessedBy,
			ProcessedByName: current.ProcessedByName,
		})
	}
	if !models.IsDecision(in.Status) {
		return nil, apperr.Precondition("a pending request can only be approved or rejected")
	}

	err = s.Requests.TransitionFromPending(ctx, id, in.Status, optional(reason), caller.UserID)
	var np *repositories.NotPendingError
	if errors.As(err, &np) {
		return nil, s.notPending(np.NotPendingInfo)
	}
	if err != nil {
		return nil, storeError(err, "request")
	}

	metrics.RequestTransitions.WithLabelValues(in.Status).Inc()
	s.Log.WithFields(logrus.Fields{
		"request_id": id,
		"status":     in.Status,
		"user_id":    caller.UserID,
	}).Info("[Request] Status updated")
	s.publish(models.EventRequestStatus, id, in.Status, &current.BranchID, caller)

	return s.reload(ctx, current)
}

func (s *RequestService) notPending(info models.NotPendingInfo) error {
	metrics.ApprovalConflicts.Inc()
	e := apperr.Conflict("request has already been %s", info.Status).
		With("current_status", info.Status)
	if info.ProcessedBy != nil {
		e.With("processed_by", *info.ProcessedBy)
	}
	if info.ProcessedByName != "" {
		e.With("processed_by_name", info.ProcessedByName)
	}
	return e
}

// Delete removes a request. Admins may delete any request; a branch user only
// its own branch's requests while they are still pending.
func (s *RequestService) Delete(ctx context.Context, caller models.Caller, id int) error {
	if err := s.Policy.Authorize(caller, policy.DeleteRequest); err != nil {
		return err
	}
	req, err := s.load(ctx, caller, id)
	if err != nil {
		return err
	}

	branchOnly := caller.Role == models.RoleBranch
	if branchOnly && req.RequestStatus != models.RequestPending {
		return apperr.Authorization("only pending requests can be deleted by the branch")
	}

	deleted, err := s.Requests.Delete(ctx, id, branchOnly)
	if err != nil {
		return storeError(err, "request")
	}
	if !deleted {
		if branchOnly {
			return apperr.Authorization("only pending requests can be deleted by the branch")
		}
		return apperr.NotFound("request not found")
	}

	s.Log.WithFields(logrus.Fields{"request_id": id, "user_id": caller.UserID}).Info("[Request] Deleted")
	s.publish(models.EventRequestDeleted, id, "", &req.BranchID, caller)
	return nil
}

func (s *RequestService) publish(kind string, id int, status string, branchID *int, caller models.Caller) {
	s.Cache.InvalidateRequests(context.Background())
	s.Events.Publish(models.LifecycleEvent{
		Type:     kind,
		EntityID: id,
		Status:   status,
		BranchID: branchID,
		UserID:   caller.UserID,
		At:       time.Now(),
	})
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
