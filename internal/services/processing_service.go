package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/metrics"
	"delivery-backend/internal/models"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/repositories"
)

// ProcessingService coordinates the advisory claim an operator takes on an
// approved request while turning it into a delivery. Claims never expire;
// they end on release, force release or conversion.
type ProcessingService struct {
	Requests RequestStore
	Claims   ClaimStore
	Policy   *policy.Policy
	Events   Notifier
	Log      logrus.FieldLogger
}

func NewProcessingService(requests RequestStore, claims ClaimStore, pol *policy.Policy, log logrus.FieldLogger) *ProcessingService {
	return &ProcessingService{
		Requests: requests,
		Claims:   claims,
		Policy:   pol,
		Events:   noopNotifier{},
		Log:      log.WithField("component", "processing"),
	}
}

// approvedRequest loads the request and checks it is open for processing.
func (s *ProcessingService) approvedRequest(ctx context.Context, caller models.Caller, requestID int) (*models.DeliveryRequest, error) {
	if requestID <= 0 {
		return nil, apperr.Validation("invalid request id")
	}
	req, err := s.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "request")
	}
	if caller.Role == models.RoleBranch && !caller.OwnsBranch(&req.BranchID) {
		return nil, apperr.Authorization("request belongs to another branch")
	}
	if req.RequestStatus != models.RequestApproved {
		return nil, notApproved(req.RequestStatus)
	}
	return req, nil
}

func notApproved(status string) error {
	return apperr.Precondition("request is %s; only approved requests can be processed", status).
		With("request_status", status)
}

func (s *ProcessingService) Status(ctx context.Context, caller models.Caller, requestID int) (*models.ProcessingStatus, error) {
	if err := s.Policy.Authorize(caller, policy.ProcessingStatus); err != nil {
		return nil, err
	}
	if _, err := s.approvedRequest(ctx, caller, requestID); err != nil {
		return nil, err
	}
	claim, err := s.Claims.Get(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "processing claim")
	}
	return models.NewProcessingStatus(requestID, claim, caller.UserID), nil
}

// Claim takes the processing claim for caller. Claiming again is a no-op; a
// claim held by someone else is a conflict naming the holder.
func (s *ProcessingService) Claim(ctx context.Context, caller models.Caller, requestID int) (*models.ProcessingStatus, error) {
	if err := s.Policy.Authorize(caller, policy.ClaimProcessing); err != nil {
		return nil, err
	}
	req, err := s.approvedRequest(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}

	holder, acquired, err := s.Claims.Claim(ctx, requestID, caller.UserID)
	var stateErr *repositories.StateError
	if errors.As(err, &stateErr) {
		return nil, notApproved(stateErr.Status)
	}
	if err != nil {
		return nil, storeError(err, "request")
	}

	if holder.UserID != caller.UserID {
		metrics.ProcessingClaims.WithLabelValues("conflict").Inc()
		status := models.NewProcessingStatus(requestID, holder, caller.UserID)
		return nil, apperr.Conflict("request is already being processed by %s", holder.UserName).
			With("processing_user", status.ProcessingUser)
	}

	if acquired {
		metrics.ProcessingClaims.WithLabelValues("acquired").Inc()
		s.Log.WithFields(logrus.Fields{"request_id": requestID, "user_id": caller.UserID}).Info("[Processing] Claimed")
		s.publish(models.EventProcessingClaimed, requestID, &req.BranchID, caller)
	} else {
		metrics.ProcessingClaims.WithLabelValues("held").Inc()
	}
	return models.NewProcessingStatus(requestID, holder, caller.UserID), nil
}

// Release drops caller's claim. With force an admin drops whoever holds it.
// Releasing nothing succeeds.
func (s *ProcessingService) Release(ctx context.Context, caller models.Caller, requestID int, force bool) error {
	op := policy.ReleaseProcessing
	if force {
		op = policy.ForceReleaseProcessing
	}
	if err := s.Policy.Authorize(caller, op); err != nil {
		return err
	}
	if requestID <= 0 {
		return apperr.Validation("invalid request id")
	}

	if force {
		n, err := s.Claims.ReleaseAll(ctx, requestID)
		if err != nil {
			return storeError(err, "processing claim")
		}
		if n > 0 {
			s.Log.WithFields(logrus.Fields{"request_id": requestID, "user_id": caller.UserID}).Warn("[Processing] Claim force-released")
			s.publish(models.EventProcessingReleased, requestID, nil, caller)
		}
		return nil
	}

	n, err := s.Claims.Release(ctx, requestID, caller.UserID)
	if err != nil {
		return storeError(err, "processing claim")
	}
	if n > 0 {
		s.publish(models.EventProcessingReleased, requestID, nil, caller)
	}
	return nil
}

func (s *ProcessingService) publish(kind string, requestID int, branchID *int, caller models.Caller) {
	s.Events.Publish(models.LifecycleEvent{
		Type:     kind,
		EntityID: requestID,
		BranchID: branchID,
		UserID:   caller.UserID,
		At:       time.Now(),
	})
}
