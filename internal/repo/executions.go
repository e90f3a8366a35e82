package repo

import (
	"context"
	"database/sql"
)

// AppendExecutionTx records one successfully triggered payment. Entries are
// append-only; nothing ever removes or reorders them.
func (r Repo) AppendExecutionTx(ctx context.Context, tx *sql.Tx, scheduleID string, executedAt int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payment_executions(schedule_id, executed_at) VALUES (?,?)`, scheduleID, executedAt)
	return err
}

// ListExecutions returns the execution history for a schedule in insertion
// order, or an empty slice when none has been recorded yet.
func (r Repo) ListExecutions(ctx context.Context, scheduleID string) ([]int64, error) {
	return listExecutions(ctx, r.DB.QueryContext, scheduleID)
}

func (r Repo) ListExecutionsTx(ctx context.Context, tx *sql.Tx, scheduleID string) ([]int64, error) {
	return listExecutions(ctx, tx.QueryContext, scheduleID)
}

func listExecutions(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error), scheduleID string) ([]int64, error) {
	rows, err := query(ctx, `SELECT executed_at FROM payment_executions WHERE schedule_id=? ORDER BY id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	times := []int64{}
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		times = append(times, ts)
	}
	return times, rows.Err()
}
