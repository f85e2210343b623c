package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/models"
)

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequest(t)

	status, err := f.processing.Status(ctx, warehouse, req.ID)
	require.NoError(t, err)
	assert.False(t, status.IsBeingProcessed)

	status, err = f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)
	assert.True(t, status.IsBeingProcessed)
	assert.True(t, status.IsCurrentUser)

	again, err := f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)
	assert.Equal(t, status.ProcessingUser.StartedAt, again.ProcessingUser.StartedAt)

	_, err = f.processing.Claim(ctx, warehouse2, req.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict))
	e, _ := apperr.As(err)
	holder, ok := e.Details["processing_user"].(*models.ProcessingUser)
	require.True(t, ok)
	assert.Equal(t, warehouse.UserID, holder.ID)
	assert.Equal(t, "Wes Warehouse", holder.Name)

	seen, err := f.processing.Status(ctx, warehouse2, req.ID)
	require.NoError(t, err)
	assert.True(t, seen.IsBeingProcessed)
	assert.False(t, seen.IsCurrentUser)

	require.NoError(t, f.processing.Release(ctx, warehouse, req.ID, false))
	status, err = f.processing.Claim(ctx, warehouse2, req.ID)
	require.NoError(t, err)
	assert.True(t, status.IsCurrentUser)

	assert.Contains(t, f.events.types(), models.EventProcessingClaimed)
	assert.Contains(t, f.events.types(), models.EventProcessingReleased)
}

func TestClaimRequiresApprovedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.pendingRequest(t)

	_, err := f.processing.Claim(ctx, warehouse, pending.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.processing.Status(ctx, warehouse, pending.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.processing.Claim(ctx, warehouse, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.processing.Status(ctx, warehouse, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	f := newFixture(t)
	req := f.approvedRequest(t)

	const claimants = 12
	for i := 0; i < claimants; i++ {
		id := 100 + i
		f.db.AddUser(&models.User{ID: id, Name: "Operator", Role: models.RoleWarehouse, IsActive: true})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := f.processing.Claim(context.Background(), models.Caller{UserID: id, Role: models.RoleWarehouse}, req.ID)
			if err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindConflict))
		}(100 + i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	claim, err := f.db.Claims().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], claim.UserID)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequest(t)

	require.NoError(t, f.processing.Release(ctx, warehouse, req.ID, false))

	_, err := f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)
	require.NoError(t, f.processing.Release(ctx, warehouse2, req.ID, false))

	status, err := f.processing.Status(ctx, warehouse, req.ID)
	require.NoError(t, err)
	assert.True(t, status.IsCurrentUser, "another user's release leaves the claim alone")
	assert.NotContains(t, f.events.types(), models.EventProcessingReleased)
}

func TestReleasePublishesOnlyWhenClaimDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequest(t)

	_, err := f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)
	require.NoError(t, f.processing.Release(ctx, warehouse, req.ID, false))
	require.NoError(t, f.processing.Release(ctx, warehouse, req.ID, false))

	released := 0
	for _, typ := range f.events.types() {
		if typ == models.EventProcessingReleased {
			released++
		}
	}
	assert.Equal(t, 1, released)
}

func TestForceRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequest(t)
	_, err := f.processing.Claim(ctx, warehouse, req.ID)
	require.NoError(t, err)

	err = f.processing.Release(ctx, warehouse2, req.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	require.NoError(t, f.processing.Release(ctx, admin, req.ID, true))
	status, err := f.processing.Status(ctx, warehouse2, req.ID)
	require.NoError(t, err)
	assert.False(t, status.IsBeingProcessed)
}
