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
)

// snapshotTimeout bounds a single snapshot upload.
const snapshotTimeout = 30 * time.Second

// ArchiveService clears terminal records and repairs request/delivery
// status drift.
type ArchiveService struct {
	Archive  ArchiveStore
	Requests RequestStore
	Policy   *policy.Policy
	// Snapshots, when set, receives a copy of everything ClearArchive is
	// about to delete. An upload failure aborts the clear.
	Snapshots SnapshotUploader
	Events    Notifier
	Cache     Invalidator
	Log       logrus.FieldLogger
}

func NewArchiveService(archive ArchiveStore, requests RequestStore, pol *policy.Policy, log logrus.FieldLogger) *ArchiveService {
	return &ArchiveService{
		Archive:  archive,
		Requests: requests,
		Policy:   pol,
		Events:   noopNotifier{},
		Cache:    noopInvalidator{},
		Log:      log.WithField("component", "archive"),
	}
}

// ClearArchive deletes archived or cancelled deliveries, rejected requests and
// the requests bound to those deliveries in a single transaction. The
// snapshot upload happens before that transaction opens.
func (s *ArchiveService) ClearArchive(ctx context.Context, caller models.Caller) (*models.ArchiveResult, error) {
	if err := s.Policy.Authorize(caller, policy.ClearArchive); err != nil {
		return nil, err
	}

	var snapshotKey string
	var before func(*models.ArchiveSnapshot) error
	if s.Snapshots != nil {
		before = func(snapshot *models.ArchiveSnapshot) error {
			uploadCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
			defer cancel()
			key, err := s.Snapshots.Upload(uploadCtx, snapshot)
			if err != nil {
				return errors.Wrap(err, "upload archive snapshot")
			}
			snapshotKey = key
			return nil
		}
	}

	result, err := s.Archive.Clear(ctx, caller.UserID, before)
	if err != nil {
		return nil, storeError(err, "archive")
	}
	result.SnapshotKey = snapshotKey

	metrics.ArchiveDeleted.WithLabelValues("request").Add(float64(result.RequestsDeleted))
	metrics.ArchiveDeleted.WithLabelValues("delivery").Add(float64(result.DeliveriesDeleted))
	s.Log.WithFields(logrus.Fields{
		"requests":   result.RequestsDeleted,
		"deliveries": result.DeliveriesDeleted,
		"snapshot":   snapshotKey,
	}).Info("[Archive] Cleared")

	if result.RequestsDeleted+result.DeliveriesDeleted > 0 {
		s.Events.Publish(models.LifecycleEvent{
			Type:   models.EventArchiveCleared,
			UserID: caller.UserID,
			At:     time.Now(),
		})
		s.Cache.InvalidateRequests(ctx)
		s.Cache.InvalidateDeliveries(ctx)
	}
	return result, nil
}

// Reconcile finds requests whose status lags their bound delivery and applies
// the propagation that was missed.
func (s *ArchiveService) Reconcile(ctx context.Context, caller models.Caller) (*models.ReconcileResult, error) {
	if err := s.Policy.Authorize(caller, policy.Reconcile); err != nil {
		return nil, err
	}

	pairs, err := s.Requests.ListBound(ctx)
	if err != nil {
		return nil, storeError(err, "request")
	}

	result := &models.ReconcileResult{Checked: len(pairs), Drifts: []models.StatusDrift{}}
	for _, p := range pairs {
		expected := models.PropagatedRequestStatus(p.DeliveryStatus)
		if expected == "" || expected == p.RequestStatus || p.RequestStatus == models.RequestDelivered {
			continue
		}
		p.Expected = expected
		result.Drifts = append(result.Drifts, p)

		changed, err := s.Requests.SetStatus(ctx, p.RequestID, expected)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.Internal(ctx.Err(), true)
			}
			s.Log.WithError(err).WithField("request_id", p.RequestID).Warn("[Reconcile] Repair failed")
			continue
		}
		if changed {
			result.Repaired++
			metrics.ReconcileRepairs.Inc()
			metrics.RequestTransitions.WithLabelValues(expected).Inc()
			s.Log.WithFields(logrus.Fields{
				"request_id":  p.RequestID,
				"delivery_id": p.DeliveryID,
				"from":        p.RequestStatus,
				"status":      expected,
			}).Info("[Reconcile] Request repaired")
		}
	}

	if result.Repaired > 0 {
		s.Cache.InvalidateRequests(ctx)
	}
	return result, nil
}
