package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IsDeliverySeen reports whether deliveryID has already been recorded.
func (r *Registry) IsDeliverySeen(ctx context.Context, deliveryID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT delivery_id FROM processed_deliveries WHERE delivery_id = $1`, deliveryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking delivery %s: %w", deliveryID, err)
	}
	return true, nil
}

// MarkDeliverySeen atomically records deliveryID, returning whether it was
// newly recorded (false means it was already present — the idempotent case).
// This single statement is the idempotency fence used by the Event Router's
// dedup check: readers should call this instead of check-then-insert.
func (r *Registry) MarkDeliverySeen(ctx context.Context, deliveryID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_deliveries (delivery_id) VALUES ($1)
		ON CONFLICT DO NOTHING`, deliveryID)
	if err != nil {
		return false, fmt.Errorf("marking delivery %s seen: %w", deliveryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected marking delivery %s: %w", deliveryID, err)
	}
	return n > 0, nil
}
