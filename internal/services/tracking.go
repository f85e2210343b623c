package services

import (
	"fmt"
	"math/rand"
	"time"
)

// TrackingGenerator returns a tracking number for a delivery, bound to
// requestID when it is not nil.
type TrackingGenerator func(requestID *int) string

// NewTrackingGenerator builds tracking numbers from the clock's last six
// millisecond digits and a four digit random suffix.
func NewTrackingGenerator(now func() time.Time) TrackingGenerator {
	return func(requestID *int) string {
		return FormatTrackingNumber(requestID, now(), rand.Intn(10000))
	}
}

// FormatTrackingNumber renders REQ-{request}-{millis}-{nnnn} for bound
// deliveries and SBN-{millis}-{nnnn} otherwise.
func FormatTrackingNumber(requestID *int, at time.Time, suffix int) string {
	ms := at.UnixMilli() % 1000000
	if requestID != nil {
		return fmt.Sprintf("REQ-%d-%06d-%04d", *requestID, ms, suffix)
	}
	return fmt.Sprintf("SBN-%06d-%04d", ms, suffix)
}
