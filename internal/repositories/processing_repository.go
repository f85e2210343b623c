package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
)

// claimAttempts bounds the retries when a conflicting claim is released
// between the insert and the read of its holder.
const claimAttempts = 3

type ProcessingRepository struct {
	DB *db.Gateway
}

func NewProcessingRepository(gw *db.Gateway) *ProcessingRepository {
	return &ProcessingRepository{DB: gw}
}

const claimSelect = `
	SELECT rp.request_id, rp.user_id, COALESCE(u.name, ''), rp.started_at
	FROM request_processing rp
	LEFT JOIN users u ON u.id = rp.user_id
	WHERE rp.request_id = $1
`

func getClaim(ctx context.Context, q db.Querier, requestID int) (*models.ProcessingClaim, error) {
	var c models.ProcessingClaim
	err := q.QueryRow(ctx, claimSelect, requestID).Scan(&c.RequestID, &c.UserID, &c.UserName, &c.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get processing claim")
	}
	return &c, nil
}

// Get returns the current claim on requestID, or nil when there is none.
func (r *ProcessingRepository) Get(ctx context.Context, requestID int) (*models.ProcessingClaim, error) {
	return getClaim(ctx, r.DB, requestID)
}

// Claim inserts a claim for userID unless one exists. It returns whoever holds
// the claim afterwards and whether this call created it. The request row is
// share-locked so a concurrent conversion cannot interleave; the request must
// still be approved.
func (r *ProcessingRepository) Claim(ctx context.Context, requestID, userID int) (*models.ProcessingClaim, bool, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var (
			holder   *models.ProcessingClaim
			acquired bool
		)
		err := r.DB.WithTx(ctx, func(tx pgx.Tx) error {
			var status string
			err := tx.QueryRow(ctx,
				`SELECT request_status FROM delivery_requests WHERE id = $1 FOR SHARE`, requestID,
			).Scan(&status)
			if err != nil {
				return translate(err, "lock request")
			}
			if status != models.RequestApproved {
				return &StateError{Status: status}
			}

			tag, err := tx.Exec(ctx, `
				INSERT INTO request_processing (request_id, user_id, started_at)
				VALUES ($1, $2, NOW())
				ON CONFLICT (request_id) DO NOTHING`,
				requestID, userID)
			if err != nil {
				return translate(err, "insert processing claim")
			}
			acquired = tag.RowsAffected() == 1

			holder, err = getClaim(ctx, tx, requestID)
			return err
		})
		if err != nil {
			return nil, false, err
		}
		if holder != nil {
			return holder, acquired, nil
		}
	}
	return nil, false, errors.Errorf("processing claim on request %d kept changing", requestID)
}

// Release drops userID's claim on requestID and reports how many rows went.
// Releasing a claim that does not exist is not an error.
func (r *ProcessingRepository) Release(ctx context.Context, requestID, userID int) (int64, error) {
	tag, err := r.DB.Exec(ctx,
		`DELETE FROM request_processing WHERE request_id = $1 AND user_id = $2`, requestID, userID)
	if err != nil {
		return 0, translate(err, "release processing claim")
	}
	return tag.RowsAffected(), nil
}

// ReleaseAll drops any claim on requestID regardless of holder.
func (r *ProcessingRepository) ReleaseAll(ctx context.Context, requestID int) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM request_processing WHERE request_id = $1`, requestID)
	if err != nil {
		return 0, translate(err, "release processing claims")
	}
	return tag.RowsAffected(), nil
}
