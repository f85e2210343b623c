package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/db"
	"delivery-backend/internal/repositories"
)

// storeError maps a repository failure onto the error taxonomy. what names
// the entity for not-found messages.
func storeError(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound("%s not found", what)
	case errors.Is(err, repositories.ErrDuplicateTracking):
		return apperr.Conflict("tracking number already exists")
	case errors.Is(err, repositories.ErrDuplicateID):
		return apperr.Conflict("a delivery with this id already exists")
	case errors.Is(err, repositories.ErrRequestAlreadyDelivered):
		return apperr.Conflict("a delivery already exists for this request")
	case errors.Is(err, repositories.ErrCheckViolation):
		return apperr.Validation("a value is out of the accepted range")
	}
	return apperr.Internal(err, retryable(err))
}

// retryable reports whether repeating the operation may succeed: lost
// connections, serialization failures, deadlocks and timeouts.
func retryable(err error) bool {
	if db.IsFatal(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
