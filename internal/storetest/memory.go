// Package storetest provides in-memory implementations of the lifecycle
// stores for tests. Every method runs under one mutex, which gives the same
// all-or-nothing behaviour the pgx repositories get from transactions and
// row locks.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"delivery-backend/internal/models"
	"delivery-backend/internal/repositories"
)

// DB stands in for Postgres.
type DB struct {
	mu         sync.Mutex
	seq        int
	itemSeq    int
	requests   map[int]*models.DeliveryRequest
	deliveries map[int]*models.Delivery
	claims     map[int]*models.ProcessingClaim
	users      map[int]*models.User
	branches   map[int]string

	setStatusErr error
}

func NewDB() *DB {
	return &DB{
		requests:   map[int]*models.DeliveryRequest{},
		deliveries: map[int]*models.Delivery{},
		claims:     map[int]*models.ProcessingClaim{},
		users:      map[int]*models.User{},
		branches:   map[int]string{},
	}
}

func (db *DB) userName(id *int) string {
	if id == nil {
		return ""
	}
	if u, ok := db.users[*id]; ok {
		return u.Name
	}
	return ""
}

func (db *DB) copyRequest(r *models.DeliveryRequest) *models.DeliveryRequest {
	c := *r
	c.Items = append([]models.DeliveryRequestItem{}, r.Items...)
	c.BranchName = db.branches[r.BranchID]
	c.CreatedByName = db.userName(&r.CreatedBy)
	c.ProcessedByName = db.userName(r.ProcessedBy)
	return &c
}

func (db *DB) copyDelivery(d *models.Delivery) *models.Delivery {
	c := *d
	if d.BranchID != nil {
		c.BranchName = db.branches[*d.BranchID]
	}
	c.CreatedByName = db.userName(&d.CreatedBy)
	c.ReceivedByName = db.userName(d.ReceivedBy)
	return &c
}

func (db *DB) trackingTaken(tracking string, except int) bool {
	for id, d := range db.deliveries {
		if id != except && d.TrackingNumber == tracking {
			return true
		}
	}
	return false
}

// Count returns the number of stored requests and deliveries.
func (db *DB) Count() (requests, deliveries int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.requests), len(db.deliveries)
}

func (db *DB) AddBranch(id int, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.branches[id] = name
}

func (db *DB) AddUser(u *models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := *u
	db.users[u.ID] = &c
}

// UpdateUser applies fn to a stored user.
func (db *DB) UpdateUser(id int, fn func(*models.User)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[id]; ok {
		fn(u)
	}
}

// FailRequestStatus makes every request SetStatus call return err until it
// is called again with nil.
func (db *DB) FailRequestStatus(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.setStatusErr = err
}

func (db *DB) Requests() RequestTable { return RequestTable{db} }
func (db *DB) Claims() ClaimTable { return ClaimTable{db} }
func (db *DB) Deliveries() DeliveryTable { return DeliveryTable{db} }
func (db *DB) Archive() ArchiveTable { return ArchiveTable{db} }
func (db *DB) Users() UserTable { return UserTable{db} }

type RequestTable struct{ db *DB }

func (m RequestTable) CreateWithItems(ctx context.Context, req *models.DeliveryRequest, items []models.DeliveryRequestItem) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.seq++
	req.ID = m.db.seq
	req.RequestStatus = models.RequestPending
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	for i := range items {
		m.db.itemSeq++
		items[i].ID = m.db.itemSeq
		items[i].RequestID = req.ID
		items[i].CreatedAt = req.CreatedAt
	}
	req.Items = items
	stored := *req
	stored.Items = append([]models.DeliveryRequestItem{}, items...)
	m.db.requests[req.ID] = &stored
	return nil
}

func (m RequestTable) Get(ctx context.Context, id int) (*models.DeliveryRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.requests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return m.db.copyRequest(r), nil
}

func (m RequestTable) List(ctx context.Context, filter models.RequestFilter) ([]*models.DeliveryRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := []*models.DeliveryRequest{}
	for _, r := range m.db.requests {
		if filter.BranchID != nil && r.BranchID != *filter.BranchID {
			continue
		}
		if filter.Status != "" && r.RequestStatus != filter.Status {
			continue
		}
		out = append(out, m.db.copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m RequestTable) TransitionFromPending(ctx context.Context, id int, status string, reason *string, processedBy int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.requests[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if r.RequestStatus != models.RequestPending {
		return &repositories.NotPendingError{NotPendingInfo: models.NotPendingInfo{
			Status:          r.RequestStatus,
			ProcessedBy:     r.ProcessedBy,
			ProcessedByName: m.db.userName(r.ProcessedBy),
		}}
	}
	now := time.Now()
	r.RequestStatus = status
	r.Reason = reason
	r.ProcessedBy = &processedBy
	r.ProcessedAt = &now
	return nil
}

func (m RequestTable) SetStatus(ctx context.Context, id int, status string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.setStatusErr != nil {
		return false, m.db.setStatusErr
	}
	r, ok := m.db.requests[id]
	if !ok || r.RequestStatus == status {
		return false, nil
	}
	if r.RequestStatus != models.RequestApproved && r.RequestStatus != models.RequestProcessing {
		return false, nil
	}
	r.RequestStatus = status
	return true, nil
}

func (m RequestTable) Delete(ctx context.Context, id int, onlyPending bool) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.requests[id]
	if !ok || (onlyPending && r.RequestStatus != models.RequestPending) {
		return false, nil
	}
	delete(m.db.requests, id)
	delete(m.db.claims, id)
	for _, d := range m.db.deliveries {
		if d.RequestID != nil && *d.RequestID == id {
			d.RequestID = nil
		}
	}
	return true, nil
}

func (m RequestTable) ListBound(ctx context.Context) ([]models.StatusDrift, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := []models.StatusDrift{}
	for _, d := range m.db.deliveries {
		if d.RequestID == nil {
			continue
		}
		if r, ok := m.db.requests[*d.RequestID]; ok {
			out = append(out, models.StatusDrift{
				RequestID:      r.ID,
				RequestStatus:  r.RequestStatus,
				DeliveryID:     d.ID,
				DeliveryStatus: d.Status,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out, nil
}

type ClaimTable struct{ db *DB }

func (m ClaimTable) copyClaim(c *models.ProcessingClaim) *models.ProcessingClaim {
	cc := *c
	cc.UserName = m.db.userName(&c.UserID)
	return &cc
}

func (m ClaimTable) Get(ctx context.Context, requestID int) (*models.ProcessingClaim, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if c, ok := m.db.claims[requestID]; ok {
		return m.copyClaim(c), nil
	}
	return nil, nil
}

func (m ClaimTable) Claim(ctx context.Context, requestID, userID int) (*models.ProcessingClaim, bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.requests[requestID]
	if !ok {
		return nil, false, repositories.ErrNotFound
	}
	if r.RequestStatus != models.RequestApproved {
		return nil, false, &repositories.StateError{Status: r.RequestStatus}
	}
	if c, ok := m.db.claims[requestID]; ok {
		return m.copyClaim(c), false, nil
	}
	c := &models.ProcessingClaim{RequestID: requestID, UserID: userID, StartedAt: time.Now()}
	m.db.claims[requestID] = c
	return m.copyClaim(c), true, nil
}

func (m ClaimTable) Release(ctx context.Context, requestID, userID int) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if c, ok := m.db.claims[requestID]; ok && c.UserID == userID {
		delete(m.db.claims, requestID)
		return 1, nil
	}
	return 0, nil
}

func (m ClaimTable) ReleaseAll(ctx context.Context, requestID int) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.claims[requestID]; !ok {
		return 0, nil
	}
	delete(m.db.claims, requestID)
	return 1, nil
}

type DeliveryTable struct{ db *DB }

func (m DeliveryTable) Create(ctx context.Context, d *models.Delivery) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.trackingTaken(d.TrackingNumber, 0) {
		return repositories.ErrDuplicateTracking
	}
	m.db.seq++
	d.ID = m.db.seq
	d.Status = models.DeliveryPending
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	stored := *d
	m.db.deliveries[d.ID] = &stored
	return nil
}

func (m DeliveryTable) CreateFromRequest(ctx context.Context, d *models.Delivery) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.requests[*d.RequestID]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	if r.DeliveryID != nil {
		return 0, repositories.ErrRequestAlreadyDelivered
	}
	if r.RequestStatus != models.RequestApproved {
		return 0, &repositories.StateError{Status: r.RequestStatus}
	}
	if _, taken := m.db.deliveries[r.ID]; taken {
		return 0, repositories.ErrDuplicateID
	}
	if m.db.trackingTaken(d.TrackingNumber, 0) {
		return 0, repositories.ErrDuplicateTracking
	}

	d.ID = r.ID
	d.Status = models.DeliveryPending
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	stored := *d
	m.db.deliveries[d.ID] = &stored

	r.RequestStatus = models.RequestProcessing
	deliveryID := d.ID
	r.DeliveryID = &deliveryID

	var released int64
	if _, ok := m.db.claims[r.ID]; ok {
		delete(m.db.claims, r.ID)
		released = 1
	}
	return released, nil
}

func (m DeliveryTable) Get(ctx context.Context, id int) (*models.Delivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return m.db.copyDelivery(d), nil
}

func (m DeliveryTable) GetByTracking(ctx context.Context, trackingNumber string) (*models.Delivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, d := range m.db.deliveries {
		if d.TrackingNumber == trackingNumber {
			return m.db.copyDelivery(d), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m DeliveryTable) List(ctx context.Context, filter models.DeliveryFilter) ([]*models.Delivery, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := []*models.Delivery{}
	for _, d := range m.db.deliveries {
		switch {
		case d.IsArchived && !filter.IncludeArchived:
			continue
		case filter.BranchID != nil && (d.BranchID == nil || *d.BranchID != *filter.BranchID):
			continue
		case filter.Status != "" && d.Status != filter.Status:
			continue
		case filter.OngoingOnly && models.IsTerminalDelivery(d.Status):
			continue
		case filter.From != nil && d.CreatedAt.Before(*filter.From):
			continue
		case filter.To != nil && !d.CreatedAt.Before(*filter.To):
			continue
		}
		out = append(out, m.db.copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m DeliveryTable) stampReceipt(d *models.Delivery, to string, userID int) {
	if to == models.DeliveryDelivered && d.Status != models.DeliveryDelivered {
		now := time.Now()
		d.ReceivedAt = &now
		d.ReceivedBy = &userID
	}
}

func (m DeliveryTable) Update(ctx context.Context, d *models.Delivery, observed string, userID int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	stored, ok := m.db.deliveries[d.ID]
	if !ok || stored.Status != observed {
		return repositories.ErrStatusChanged
	}
	if m.db.trackingTaken(d.TrackingNumber, d.ID) {
		return repositories.ErrDuplicateTracking
	}
	m.stampReceipt(stored, d.Status, userID)
	stored.TrackingNumber = d.TrackingNumber
	stored.RecipientName = d.RecipientName
	stored.RecipientAddress = d.RecipientAddress
	stored.RecipientPhone = d.RecipientPhone
	stored.Status = d.Status
	stored.BranchID = d.BranchID
	stored.Notes = d.Notes
	stored.ScheduledDate = d.ScheduledDate
	stored.UpdatedAt = time.Now()
	return nil
}

func (m DeliveryTable) SetStatus(ctx context.Context, id int, from, to string, userID int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok || d.Status != from {
		return repositories.ErrStatusChanged
	}
	m.stampReceipt(d, to, userID)
	d.Status = to
	d.UpdatedAt = time.Now()
	return nil
}

func (m DeliveryTable) Archive(ctx context.Context, id, userID int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.deliveries[id]
	if !ok {
		return repositories.ErrNotFound
	}
	d.IsArchived = true
	if d.Status != models.DeliveryDelivered {
		d.Status = models.DeliveryCancelled
	}
	if d.ArchivedBy == nil {
		d.ArchivedBy = &userID
		now := time.Now()
		d.ArchivedAt = &now
	}
	return nil
}

type ArchiveTable struct{ db *DB }

func (m ArchiveTable) Clear(ctx context.Context, takenBy int, before func(*models.ArchiveSnapshot) error) (*models.ArchiveResult, error) {
	m.db.mu.Lock()
	snapshot := &models.ArchiveSnapshot{TakenAt: time.Now(), TakenBy: takenBy}
	deliveryIDs := map[int]bool{}
	boundRequests := map[int]bool{}
	for id, d := range m.db.deliveries {
		if d.IsArchived || d.Status == models.DeliveryCancelled {
			deliveryIDs[id] = true
			if d.RequestID != nil {
				boundRequests[*d.RequestID] = true
			}
			snapshot.Deliveries = append(snapshot.Deliveries, m.db.copyDelivery(d))
		}
	}
	requestIDs := map[int]bool{}
	for id, r := range m.db.requests {
		bound := r.DeliveryID != nil && deliveryIDs[*r.DeliveryID]
		if r.RequestStatus == models.RequestRejected || bound || boundRequests[id] {
			requestIDs[id] = true
			snapshot.Requests = append(snapshot.Requests, m.db.copyRequest(r))
		}
	}
	m.db.mu.Unlock()

	result := &models.ArchiveResult{}
	if snapshot.Empty() {
		return result, nil
	}
	if before != nil {
		if err := before(snapshot); err != nil {
			return nil, err
		}
	}

	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for id := range deliveryIDs {
		d, ok := m.db.deliveries[id]
		if !ok || !(d.IsArchived || d.Status == models.DeliveryCancelled) {
			continue
		}
		delete(m.db.deliveries, id)
		result.DeliveriesDeleted++
	}
	for id := range requestIDs {
		r, ok := m.db.requests[id]
		if !ok {
			continue
		}
		if m.db.hasDelivery(r) {
			continue
		}
		delete(m.db.requests, id)
		delete(m.db.claims, id)
		result.RequestsDeleted++
	}
	return result, nil
}

// hasDelivery reports whether a delivery still references r or is referenced by it.
func (db *DB) hasDelivery(r *models.DeliveryRequest) bool {
	if r.DeliveryID != nil {
		if _, ok := db.deliveries[*r.DeliveryID]; ok {
			return true
		}
	}
	for _, d := range db.deliveries {
		if d.RequestID != nil && *d.RequestID == r.ID {
			return true
		}
	}
	return false
}

type UserTable struct{ db *DB }

func (m UserTable) Get(ctx context.Context, id int) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m UserTable) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, u := range m.db.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}
