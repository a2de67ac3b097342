package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// ActivityJournal implements storage.ActivityJournal using ClickHouse.
type ActivityJournal struct {
	conn *Conn
}

// NewActivityJournal creates a new ActivityJournal.
func NewActivityJournal(conn *Conn) *ActivityJournal {
	return &ActivityJournal{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityJournal = (*ActivityJournal)(nil)

const activityColumns = `id, op, owner, recipient, amount_in, amount_out, timestamp`

// Append adds an activity. Returns ErrDuplicateKey if the ID exists.
func (j *ActivityJournal) Append(ctx context.Context, a *domain.Activity) (err error) {
	if a == nil || a.ID == uuid.Nil {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "append_activity", time.Since(start).Seconds(), err)
	}()

	// MergeTree does not enforce uniqueness, so check before insert.
	exists, err := j.exists(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	err = j.conn.Exec(ctx, `INSERT INTO ledger_activity (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		string(a.Op),
		a.Owner.String(),
		formatOptional(a.Recipient),
		a.AmountIn,
		a.AmountOut,
		a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListByOwner returns an owner's activities, newest first, at most limit.
func (j *ActivityJournal) ListByOwner(ctx context.Context, owner address.Address, limit int) ([]*domain.Activity, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM ledger_activity
		WHERE owner = ?
		ORDER BY timestamp DESC, inserted_at DESC
	` + limitClause(limit)

	rows, err := j.conn.Query(ctx, query, owner.String())
	if err != nil {
		return nil, fmt.Errorf("query by owner: %w", err)
	}
	defer rows.Close()

	return scanActivities(rows)
}

// ListRecent returns the newest activities across all owners.
func (j *ActivityJournal) ListRecent(ctx context.Context, limit int) ([]*domain.Activity, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM ledger_activity
		ORDER BY timestamp DESC, inserted_at DESC
	` + limitClause(limit)

	rows, err := j.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	return scanActivities(rows)
}

func (j *ActivityJournal) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count uint64
	if err := j.conn.QueryRow(ctx, `SELECT count() FROM ledger_activity WHERE id = ?`, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

func formatOptional(a address.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func scanActivities(rows driver.Rows) ([]*domain.Activity, error) {
	var result []*domain.Activity
	for rows.Next() {
		var a domain.Activity
		var op, owner, recipient string
		if err := rows.Scan(&a.ID, &op, &owner, &recipient, &a.AmountIn, &a.AmountOut, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}

		a.Op = domain.Op(op)
		var err error
		if a.Owner, err = address.Parse(owner); err != nil {
			return nil, fmt.Errorf("activity %s owner: %w", a.ID, err)
		}
		if recipient != "" {
			if a.Recipient, err = address.Parse(recipient); err != nil {
				return nil, fmt.Errorf("activity %s recipient: %w", a.ID, err)
			}
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
