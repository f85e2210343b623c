package services

import (
	"context"
	"regexp"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/models"
)

var (
	boundTracking      = regexp.MustCompile(`^REQ-\d+-\d{6}-\d{4}$`)
	standaloneTracking = regexp.MustCompile(`^SBN-\d{6}-\d{4}$`)
)

func TestCreateDeliveryFromRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequest(t)
	_, err := f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)

	d, err := f.deliveries.Create(ctx, warehouse, &models.CreateDeliveryRequest{
		RequestID:        &req.ID,
		RecipientName:    "North Branch Store",
		RecipientAddress: "12 Market Road",
		Status:           models.DeliveryDelivered,
	})
	require.NoError(t, err)

	assert.Equal(t, req.ID, d.ID)
	require.NotNil(t, d.RequestID)
	assert.Equal(t, req.ID, *d.RequestID)
	assert.Equal(t, models.DeliveryPending, d.Status)
	assert.Regexp(t, boundTracking, d.TrackingNumber)
	assert.Contains(t, d.TrackingNumber, "REQ-"+strconv.Itoa(req.ID)+"-")
	require.NotNil(t, d.BranchID)
	assert.Equal(t, branchA, *d.BranchID)

	stored, err := f.requests.Get(ctx, warehouse, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestProcessing, stored.RequestStatus)
	require.NotNil(t, stored.DeliveryID)
	assert.Equal(t, d.ID, *stored.DeliveryID)

	claim, err := f.db.Claims().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestCreateDeliveryTwiceForSameRequest(t *testing.T) {
	f := newFixture(t)
	req, _ := f.boundDelivery(t)

	_, err := f.deliveries.Create(context.Background(), admin, &models.CreateDeliveryRequest{
		RequestID:        &req.ID,
		RecipientName:    "Again",
		RecipientAddress: "Elsewhere",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, deliveries := f.db.Count()
	assert.Equal(t, 1, deliveries)
}

func TestCreateDeliveryRequestChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := 999
	_, err := f.deliveries.Create(ctx, warehouse, &models.CreateDeliveryRequest{
		RequestID: &missing, RecipientName: "A", RecipientAddress: "B",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	pending := f.pendingRequest(t)
	_, err = f.deliveries.Create(ctx, warehouse, &models.CreateDeliveryRequest{
		RequestID: &pending.ID, RecipientName: "A", RecipientAddress: "B",
	})
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.deliveries.Create(ctx, warehouse, &models.CreateDeliveryRequest{RecipientName: "A"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, deliveries := f.db.Count()
	assert.Zero(t, deliveries)
}

func TestCreateStandaloneDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.deliveries.Create(ctx, branchUser, &models.CreateDeliveryRequest{
		RecipientName: "Walk-in", RecipientAddress: "3 Side Street",
	})
	require.NoError(t, err)
	assert.Regexp(t, standaloneTracking, d.TrackingNumber)
	assert.Nil(t, d.RequestID)
	require.NotNil(t, d.BranchID)
	assert.Equal(t, branchA, *d.BranchID)

	req := f.approvedRequest(t)
	assert.NotEqual(t, d.ID, req.ID, "standalone deliveries share the request id sequence")

	_, err = f.deliveries.Create(ctx, branchUser, &models.CreateDeliveryRequest{
		RecipientName: "Walk-in", RecipientAddress: "3 Side Street", BranchID: &branchB,
	})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestCreateDeliveryTrackingCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deliveries.Tracking = func(*int) string { return "SBN-000001-0001" }

	in := &models.CreateDeliveryRequest{RecipientName: "A", RecipientAddress: "B"}
	_, err := f.deliveries.Create(ctx, warehouse, in)
	require.NoError(t, err)

	_, err = f.deliveries.Create(ctx, warehouse, in)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, d := f.boundDelivery(t)

	got, err := f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryLoading)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryLoading, got.Status)
	assert.Nil(t, got.ReceivedAt)
	assert.Equal(t, models.RequestProcessing, f.requestStatus(t, req.ID))

	same, err := f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryLoading)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryLoading, same.Status)

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryPreparing)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryCancelled)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, d.ID, "lost")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.deliveries.UpdateStatus(ctx, branchUser, d.ID, models.DeliveryInTransit)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, 999, models.DeliveryInTransit)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateStatusToDeliveredStampsReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, d := f.boundDelivery(t)

	got, err := f.deliveries.UpdateStatus(ctx, admin, d.ID, models.DeliveryDelivered)
	require.NoError(t, err)
	require.NotNil(t, got.ReceivedAt)
	require.NotNil(t, got.ReceivedBy)
	assert.Equal(t, admin.UserID, *got.ReceivedBy)
	assert.Equal(t, models.RequestDelivered, f.requestStatus(t, req.ID))

	_, err = f.deliveries.UpdateStatus(ctx, admin, d.ID, models.DeliveryInTransit)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestConfirmReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, d := f.boundDelivery(t)

	_, err := f.deliveries.ConfirmReceipt(ctx, branchUser, d.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryInTransit)
	require.NoError(t, err)

	_, err = f.deliveries.ConfirmReceipt(ctx, otherUser, d.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	_, err = f.deliveries.ConfirmReceipt(ctx, warehouse, d.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	got, err := f.deliveries.ConfirmReceipt(ctx, branchUser, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, got.Status)
	require.NotNil(t, got.ReceivedAt)
	receivedAt := *got.ReceivedAt
	assert.Equal(t, "Bea Branch", got.ReceivedByName)
	assert.Equal(t, models.RequestDelivered, f.requestStatus(t, req.ID))

	_, err = f.deliveries.ConfirmReceipt(ctx, branchUser, d.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	after, err := f.deliveries.Get(ctx, admin, d.ID)
	require.NoError(t, err)
	assert.Equal(t, receivedAt, *after.ReceivedAt)
}

func TestPropagationFailureIsLoggedAndReconciled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, d := f.boundDelivery(t)

	f.db.FailRequestStatus(errors.New("connection reset"))
	got, err := f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryDelivered)
	require.NoError(t, err, "the delivery change stands even when propagation fails")
	assert.Equal(t, models.DeliveryDelivered, got.Status)
	assert.Equal(t, models.RequestProcessing, f.requestStatus(t, req.ID))

	var warned bool
	for _, entry := range f.log.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["request_id"] == req.ID {
			warned = true
		}
	}
	assert.True(t, warned)

	f.db.FailRequestStatus(nil)
	result, err := f.archive.Reconcile(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Repaired)
	require.Len(t, result.Drifts, 1)
	assert.Equal(t, models.RequestDelivered, result.Drifts[0].Expected)
	assert.Equal(t, models.RequestDelivered, f.requestStatus(t, req.ID))

	again, err := f.archive.Reconcile(ctx, admin)
	require.NoError(t, err)
	assert.Zero(t, again.Repaired)

	_, err = f.archive.Reconcile(ctx, warehouse)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestUpdateFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, d := f.boundDelivery(t)

	in := &models.UpdateDeliveryRequest{
		TrackingNumber:   d.TrackingNumber,
		RecipientName:    "New Name",
		RecipientAddress: "New Address",
		RecipientPhone:   "555-0100",
	}
	got, err := f.deliveries.UpdateFull(ctx, warehouse, d.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.RecipientName)
	assert.Equal(t, models.DeliveryPending, got.Status)
	require.NotNil(t, got.RecipientPhone)

	in.Status = "teleported"
	got, err = f.deliveries.UpdateFull(ctx, warehouse, d.ID, in)
	require.NoError(t, err, "unknown status on a pending delivery normalises to pending")
	assert.Equal(t, models.DeliveryPending, got.Status)

	in.Status = models.DeliveryPreparing
	got, err = f.deliveries.UpdateFull(ctx, warehouse, d.ID, in)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPreparing, got.Status)

	in.Status = "teleported"
	_, err = f.deliveries.UpdateFull(ctx, warehouse, d.ID, in)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	in.Status = models.DeliveryLoading
	_, err = f.deliveries.UpdateFull(ctx, branchUser, d.ID, in)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.deliveries.UpdateFull(ctx, warehouse, d.ID, &models.UpdateDeliveryRequest{TrackingNumber: "X"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.deliveries.UpdateFull(ctx, warehouse, 999, &models.UpdateDeliveryRequest{
		TrackingNumber: "X", RecipientName: "A", RecipientAddress: "B",
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateFullTrackingCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, first := f.boundDelivery(t)
	_, second := f.boundDelivery(t)

	_, err := f.deliveries.UpdateFull(ctx, warehouse, second.ID, &models.UpdateDeliveryRequest{
		TrackingNumber:   first.TrackingNumber,
		RecipientName:    "A",
		RecipientAddress: "B",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestArchiveKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, d := f.boundDelivery(t)

	got, err := f.deliveries.Archive(ctx, warehouse, d.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	assert.Equal(t, models.DeliveryCancelled, got.Status)
	require.NotNil(t, got.ArchivedBy)
	assert.Equal(t, warehouse.UserID, *got.ArchivedBy)
	firstStamp := *got.ArchivedAt

	_, deliveries := f.db.Count()
	assert.Equal(t, 1, deliveries)

	again, err := f.deliveries.Archive(ctx, admin, d.ID)
	require.NoError(t, err)
	assert.Equal(t, warehouse.UserID, *again.ArchivedBy)
	assert.Equal(t, firstStamp, *again.ArchivedAt)

	_, err = f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryPreparing)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.deliveries.Archive(ctx, otherUser, d.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestArchiveDeliveredStaysDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, d := f.boundDelivery(t)
	_, err := f.deliveries.UpdateStatus(ctx, warehouse, d.ID, models.DeliveryDelivered)
	require.NoError(t, err)

	got, err := f.deliveries.Archive(ctx, warehouse, d.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	assert.Equal(t, models.DeliveryDelivered, got.Status)
}

func TestListDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, active := f.boundDelivery(t)
	_, archived := f.boundDelivery(t)
	_, err := f.deliveries.Archive(ctx, admin, archived.ID)
	require.NoError(t, err)
	_, err = f.deliveries.Create(ctx, otherUser, &models.CreateDeliveryRequest{RecipientName: "S", RecipientAddress: "South"})
	require.NoError(t, err)

	list, err := f.deliveries.List(ctx, admin, models.DeliveryFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.deliveries.List(ctx, admin, models.DeliveryFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = f.deliveries.List(ctx, branchUser, models.DeliveryFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.deliveries.List(ctx, branchUser, models.DeliveryFilter{OngoingOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	_, err = f.deliveries.List(ctx, admin, models.DeliveryFilter{Status: "lost"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestGetByTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, d := f.boundDelivery(t)

	got, err := f.deliveries.GetByTracking(ctx, branchUser, d.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = f.deliveries.GetByTracking(ctx, otherUser, d.TrackingNumber)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.deliveries.GetByTracking(ctx, admin, "REQ-0-000000-0000")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
