package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// LedgerRepo records delivery reservations. The insert is the atomic
// first-claim check: a unique-constrained ON CONFLICT DO NOTHING RETURNING
// yields a row only for the call that created the reservation. Rows are never
// deleted, even when the subsequent send fails.
type LedgerRepo struct {
	db *sql.DB
}

var _ ports.DeliveryLedger = (*LedgerRepo)(nil)

// ReserveReport claims (user, report) for sending; true only on first claim.
func (r *LedgerRepo) ReserveReport(ctx context.Context, userID int64, reportID string) (bool, error) {
	query, args, err := builder.
		Insert("report_deliveries").
		Columns("user_id", "report_id").
		Values(userID, reportID).
		Suffix("on conflict do nothing returning id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build report reservation: %w", err)
	}
	return r.reserve(ctx, query, args)
}

// ReservePost claims (user, channel, message) for raw-post delivery mode.
func (r *LedgerRepo) ReservePost(ctx context.Context, userID int64, key domain.FactKey) (bool, error) {
	query, args, err := builder.
		Insert("deliveries").
		Columns("user_id", "channel_ref", "message_id").
		Values(userID, key.ChannelRef, key.MessageID).
		Suffix("on conflict do nothing returning id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build post reservation: %w", err)
	}
	return r.reserve(ctx, query, args)
}

func (r *LedgerRepo) reserve(ctx context.Context, query string, args []any) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert reservation: %w", err)
	}
	return true, nil
}
