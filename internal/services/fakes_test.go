package services

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/models"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/storetest"
)

var (
	_ RequestStore  = storetest.RequestTable{}
	_ ClaimStore    = storetest.ClaimTable{}
	_ DeliveryStore = storetest.DeliveryTable{}
	_ ArchiveStore  = storetest.ArchiveTable{}
	_ UserStore     = storetest.UserTable{}
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (r *eventRecorder) Publish(e models.LifecycleEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type countingInvalidator struct {
	mu                   sync.Mutex
	requests, deliveries int
}

func (c *countingInvalidator) InvalidateRequests(context.Context) {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()
}

func (c *countingInvalidator) InvalidateDeliveries(context.Context) {
	c.mu.Lock()
	c.deliveries++
	c.mu.Unlock()
}

var (
	branchA = 10
	branchB = 11

	admin      = models.Caller{UserID: 1, Role: models.RoleAdmin}
	warehouse  = models.Caller{UserID: 2, Role: models.RoleWarehouse}
	warehouse2 = models.Caller{UserID: 3, Role: models.RoleWarehouse}
	branchUser = models.Caller{UserID: 4, Role: models.RoleBranch, BranchID: &branchA}
	otherUser  = models.Caller{UserID: 5, Role: models.RoleBranch, BranchID: &branchB}
)

type fixture struct {
	db         *storetest.DB
	log        *test.Hook
	events     *eventRecorder
	cache      *countingInvalidator
	requests   *RequestService
	processing *ProcessingService
	deliveries *DeliveryService
	archive    *ArchiveService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.NewDB()
	db.AddBranch(branchA, "North Branch")
	db.AddBranch(branchB, "South Branch")
	for _, u := range []*models.User{
		{ID: 1, Name: "Ada Admin", Role: models.RoleAdmin, IsActive: true},
		{ID: 2, Name: "Wes Warehouse", Role: models.RoleWarehouse, IsActive: true},
		{ID: 3, Name: "Wren Warehouse", Role: models.RoleWarehouse, IsActive: true},
		{ID: 4, Name: "Bea Branch", Role: models.RoleBranch, BranchID: &branchA, IsActive: true},
		{ID: 5, Name: "Sol South", Role: models.RoleBranch, BranchID: &branchB, IsActive: true},
	} {
		db.AddUser(u)
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	pol := policy.New()
	events := &eventRecorder{}
	cache := &countingInvalidator{}

	requests := db.Requests()
	f := &fixture{
		db:         db,
		log:        hook,
		events:     events,
		cache:      cache,
		requests:   NewRequestService(requests, pol, logger),
		processing: NewProcessingService(requests, db.Claims(), pol, logger),
		deliveries: NewDeliveryService(db.Deliveries(), requests, pol, logger),
		archive:    NewArchiveService(db.Archive(), requests, pol, logger),
	}
	f.requests.Events, f.requests.Cache = events, cache
	f.processing.Events = events
	f.deliveries.Events, f.deliveries.Cache = events, cache
	f.archive.Events, f.archive.Cache = events, cache
	return f
}

func sampleRequest() *models.CreateDeliveryRequestRequest {
	return &models.CreateDeliveryRequestRequest{
		Items: []models.CreateRequestItem{
			{Description: "Rice bags", Quantity: 3, Unit: "bag", UnitPrice: 10},
			{Description: "Cooking oil", Quantity: 1, Unit: "tin", UnitPrice: 5},
		},
		Priority: "high",
	}
}

// pendingRequest creates a request as the branch user.
func (f *fixture) pendingRequest(t *testing.T) *models.DeliveryRequest {
	t.Helper()
	req, err := f.requests.Create(context.Background(), branchUser, sampleRequest())
	require.NoError(t, err)
	return req
}

func (f *fixture) approvedRequest(t *testing.T) *models.DeliveryRequest {
	t.Helper()
	req := f.pendingRequest(t)
	approved, err := f.requests.UpdateStatus(context.Background(), warehouse, req.ID,
		&models.UpdateRequestStatusRequest{Status: models.RequestApproved})
	require.NoError(t, err)
	return approved
}

func (f *fixture) boundDelivery(t *testing.T) (*models.DeliveryRequest, *models.Delivery) {
	t.Helper()
	req := f.approvedRequest(t)
	d, err := f.deliveries.Create(context.Background(), warehouse, &models.CreateDeliveryRequest{
		RequestID:        &req.ID,
		RecipientName:    "North Branch Store",
		RecipientAddress: "12 Market Road",
	})
	require.NoError(t, err)
	return req, d
}

func (f *fixture) requestStatus(t *testing.T, id int) string {
	t.Helper()
	r, err := f.db.Requests().Get(context.Background(), id)
	require.NoError(t, err)
	return r.RequestStatus
}
