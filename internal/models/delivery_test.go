package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{DeliveryPending, DeliveryPreparing, true},
		{DeliveryPending, DeliveryInTransit, true},
		{DeliveryLoading, DeliveryInTransit, true},
		{DeliveryInTransit, DeliveryDelivered, true},
		{DeliveryInTransit, DeliveryLoading, false},
		{DeliveryPreparing, DeliveryPreparing, false},
		{DeliveryDelivered, DeliveryPending, false},
		{DeliveryCancelled, DeliveryPreparing, false},
		{DeliveryPending, DeliveryCancelled, false},
		{"unknown", DeliveryPreparing, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanAdvance(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestPropagatedRequestStatus(t *testing.T) {
	assert.Equal(t, RequestDelivered, PropagatedRequestStatus(DeliveryDelivered))
	assert.Equal(t, RequestProcessing, PropagatedRequestStatus(DeliveryInTransit))
	assert.Equal(t, RequestProcessing, PropagatedRequestStatus(DeliveryLoading))
	assert.Empty(t, PropagatedRequestStatus(DeliveryPreparing))
	assert.Empty(t, PropagatedRequestStatus(DeliveryPending))
	assert.Empty(t, PropagatedRequestStatus(DeliveryCancelled))
}

func TestLineSubtotal(t *testing.T) {
	explicit := 12.5
	assert.Equal(t, 30.0, CreateRequestItem{Quantity: 3, UnitPrice: 10}.LineSubtotal())
	assert.Equal(t, 12.5, CreateRequestItem{Quantity: 3, UnitPrice: 10, Subtotal: &explicit}.LineSubtotal())
}

func TestNewProcessingStatus(t *testing.T) {
	empty := NewProcessingStatus(4, nil, 1)
	assert.False(t, empty.IsBeingProcessed)
	assert.Nil(t, empty.ProcessingUser)

	st := NewProcessingStatus(4, &ProcessingClaim{RequestID: 4, UserID: 7, UserName: "Wu"}, 7)
	assert.True(t, st.IsBeingProcessed)
	assert.True(t, st.IsCurrentUser)
	assert.Equal(t, "Wu", st.ProcessingUser.Name)

	other := NewProcessingStatus(4, &ProcessingClaim{RequestID: 4, UserID: 7}, 8)
	assert.False(t, other.IsCurrentUser)
}
