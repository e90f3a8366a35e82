package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tempora/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const scheduleColumns = `id,task_id,sender,recipient,amount,token_address,start_time,interval,execution_times_json,enabled,created_at,updated_at`

func scanSchedule(scan func(dest ...any) error) (domain.ScheduleConfiguration, error) {
	var s domain.ScheduleConfiguration
	var amount int64
	var token, execTimes sql.NullString
	var startTime, interval sql.NullInt64
	err := scan(&s.ID, &s.TaskID, &s.Sender, &s.Recipient, &amount, &token, &startTime, &interval, &execTimes, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Amount = uint64(amount)
	if token.Valid {
		s.TokenAddress = &token.String
	}
	if startTime.Valid {
		s.StartTime = &startTime.Int64
	}
	if interval.Valid {
		s.Interval = &interval.Int64
	}
	if execTimes.Valid && execTimes.String != "" {
		if err := json.Unmarshal([]byte(execTimes.String), &s.ExecutionTimes); err != nil {
			return s, fmt.Errorf("decode execution times for %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func marshalExecutionTimes(times []int64) (any, error) {
	if times == nil {
		return nil, nil
	}
	b, err := json.Marshal(times)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertScheduleTx(ctx context.Context, tx *sql.Tx, s domain.ScheduleConfiguration) error {
	execTimes, err := marshalExecutionTimes(s.ExecutionTimes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schedules(`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Sender, s.Recipient, int64(s.Amount), nullableStringPtr(s.TokenAddress),
		nullableInt64Ptr(s.StartTime), nullableInt64Ptr(s.Interval), execTimes, s.Enabled, s.CreatedAt, s.UpdatedAt)
	return err
}

// UpdateScheduleTx replaces the stored record wholesale.
func (r Repo) UpdateScheduleTx(ctx context.Context, tx *sql.Tx, s domain.ScheduleConfiguration) error {
	execTimes, err := marshalExecutionTimes(s.ExecutionTimes)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE schedules SET task_id=?, sender=?, recipient=?, amount=?, token_address=?, start_time=?, interval=?, execution_times_json=?, enabled=?, updated_at=? WHERE id=?`,
		s.TaskID, s.Sender, s.Recipient, int64(s.Amount), nullableStringPtr(s.TokenAddress),
		nullableInt64Ptr(s.StartTime), nullableInt64Ptr(s.Interval), execTimes, s.Enabled, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetScheduleEnabledTx(ctx context.Context, tx *sql.Tx, id string, enabled bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedules SET enabled=?, updated_at=? WHERE id=?`, enabled, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.ScheduleConfiguration, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	return scanSchedule(row.Scan)
}

func (r Repo) GetScheduleTx(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleConfiguration, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	return scanSchedule(row.Scan)
}

func (r Repo) ScheduleExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// AddUserScheduleTx registers a schedule id in an account's reverse-index
// entry. Idempotent: re-adding an existing membership is a no-op.
func (r Repo) AddUserScheduleTx(ctx context.Context, tx *sql.Tx, accountID, scheduleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_schedules(account_id, schedule_id) VALUES (?,?)`, accountID, scheduleID)
	return err
}

func (r Repo) RemoveUserScheduleTx(ctx context.Context, tx *sql.Tx, accountID, scheduleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM user_schedules WHERE account_id=? AND schedule_id=?`, accountID, scheduleID)
	return err
}

func (r Repo) ListUserScheduleIDsTx(ctx context.Context, tx *sql.Tx, accountID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT schedule_id FROM user_schedules WHERE account_id=? ORDER BY schedule_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
