package repositories

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"delivery-backend/internal/models"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrDuplicateTracking       = errors.New("tracking number already exists")
	ErrDuplicateID             = errors.New("delivery id already exists")
	ErrRequestAlreadyDelivered = errors.New("request already has a delivery")
	ErrRequestNotApproved      = errors.New("request is not approved")
	ErrStatusChanged           = errors.New("status changed concurrently")
	ErrCheckViolation          = errors.New("value rejected by check constraint")
)

// NotPendingError is returned when a request already left pending.
type NotPendingError struct {
	models.NotPendingInfo
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("request already %s", e.Status)
}

// StateError reports the state a row was found in when a guarded write
// could not apply.
type StateError struct {
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("unexpected state %q", e.Status)
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

var constraintErrors = map[string]error{
	"deliveries_tracking_number_key": ErrDuplicateTracking,
	"deliveries_pkey":                ErrDuplicateID,
	"deliveries_request_id_key":      ErrRequestAlreadyDelivered,
}

// translate maps driver errors onto repository sentinels, wrapping anything
// else with op for context.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			if sentinel, ok := constraintErrors[pgErr.ConstraintName]; ok {
				return sentinel
			}
		case checkViolation:
			return errors.Wrap(ErrCheckViolation, pgErr.ConstraintName)
		}
	}
	return errors.Wrap(err, op)
}
