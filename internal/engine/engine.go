// Package engine holds the payment-schedule business rules: schedule
// lifecycle, token whitelist, admin authority and payment triggering.
// Every mutation runs inside a single database transaction; settlement
// goes through the Settlement collaborator as the final fallible step
// before the execution record is written.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"tempora/internal/config"
	"tempora/internal/domain"
	"tempora/internal/events"
	"tempora/internal/repo"
)

// Settlement moves value between accounts. TransferNative settles in the
// native unit, TransferFrom in a fungible token identified by its address.
type Settlement interface {
	TransferNative(ctx context.Context, from, to string, amount uint64) error
	TransferFrom(ctx context.Context, tokenAddress, from, to string, amount uint64) error
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Ledger Settlement
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, ledger Settlement) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Ledger: ledger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Admin returns the current admin authority account.
func (e Engine) Admin(ctx context.Context) (string, error) {
	return e.Repo.GetAdmin(ctx)
}

// SetAdmin hands the admin authority to newAdmin. Only the current admin
// may call it; the swap is a compare-and-set so two concurrent handovers
// cannot both win.
func (e Engine) SetAdmin(ctx context.Context, callerID, newAdmin string) error {
	if newAdmin == "" {
		return errors.New("new admin account is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetAdminTx(ctx, tx)
	if err != nil {
		return err
	}
	if callerID != current {
		return ErrUnauthorized
	}
	if err := e.Repo.SwapAdminTx(ctx, tx, current, newAdmin, e.now().UTC().Format(time.RFC3339)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, "admin.set", "admin", newAdmin, callerID, events.EventPayload{"previous": current}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddToWhitelist allows tokenAddress in schedules and token payments.
// Admin only; adding an already listed token is an error.
func (e Engine) AddToWhitelist(ctx context.Context, callerID, tokenAddress string) error {
	if tokenAddress == "" {
		return errors.New("token address is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.ensureAdminTx(ctx, tx, callerID); err != nil {
		return err
	}
	listed, err := e.Repo.WhitelistContainsTx(ctx, tx, tokenAddress)
	if err != nil {
		return err
	}
	if listed {
		return ErrTokenWhitelisted
	}
	if err := e.Repo.AddWhitelistTx(ctx, tx, tokenAddress, e.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "whitelist.add", "token", tokenAddress, callerID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveFromWhitelist removes tokenAddress from the whitelist. Admin only;
// removing an unlisted token is an error. Existing schedules referencing
// the token are left untouched, but new triggers for it will fail.
func (e Engine) RemoveFromWhitelist(ctx context.Context, callerID, tokenAddress string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.ensureAdminTx(ctx, tx, callerID); err != nil {
		return err
	}
	if err := e.Repo.RemoveWhitelistTx(ctx, tx, tokenAddress); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTokenNotWhitelisted
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, "whitelist.remove", "token", tokenAddress, callerID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Whitelisted reports whether tokenAddress is currently whitelisted.
func (e Engine) Whitelisted(ctx context.Context, tokenAddress string) (bool, error) {
	return e.Repo.WhitelistContains(ctx, tokenAddress)
}

// WhitelistedTokens lists every whitelisted token address.
func (e Engine) WhitelistedTokens(ctx context.Context) ([]string, error) {
	return e.Repo.ListWhitelist(ctx)
}

// ScheduleOptions are parameters for creating or updating a schedule
// configuration.
type ScheduleOptions struct {
	ID             string
	TaskID         string
	Recipient      string
	Amount         uint64
	TokenAddress   *string
	StartTime      *int64
	Interval       *int64
	ExecutionTimes []int64
	CallerID       string
}

// CreateSchedule validates and stores a new schedule configuration owned by
// the caller, and indexes it under both participating accounts.
func (e Engine) CreateSchedule(ctx context.Context, opts ScheduleOptions) (domain.ScheduleConfiguration, error) {
	if opts.ID == "" {
		return domain.ScheduleConfiguration{}, errors.New("schedule id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	defer tx.Rollback()

	if err := e.validateScheduleTx(ctx, tx, opts, true); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.ScheduleConfiguration{
		ID:             opts.ID,
		TaskID:         opts.TaskID,
		Sender:         opts.CallerID,
		Recipient:      opts.Recipient,
		Amount:         opts.Amount,
		TokenAddress:   opts.TokenAddress,
		StartTime:      opts.StartTime,
		Interval:       opts.Interval,
		ExecutionTimes: opts.ExecutionTimes,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertScheduleTx(ctx, tx, s); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	// Both participants find the schedule through the reverse index.
	if err := e.Repo.AddUserScheduleTx(ctx, tx, s.Sender, s.ID); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	if err := e.Repo.AddUserScheduleTx(ctx, tx, s.Recipient, s.ID); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.create", "schedule", s.ID, opts.CallerID, events.EventPayload{
		"recipient": s.Recipient, "amount": s.Amount, "task_id": s.TaskID,
	}); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	return s, nil
}

// UpdateSchedule replaces an existing schedule configuration. The caller
// must own the schedule; ownership and enablement carry over unchanged.
func (e Engine) UpdateSchedule(ctx context.Context, opts ScheduleOptions) (domain.ScheduleConfiguration, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetScheduleTx(ctx, tx, opts.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ScheduleConfiguration{}, ErrScheduleNotFound
		}
		return domain.ScheduleConfiguration{}, err
	}
	if existing.Sender != opts.CallerID {
		// A schedule owned by someone else looks the same as a missing one.
		return domain.ScheduleConfiguration{}, ErrScheduleNotFound
	}
	if err := e.validateScheduleTx(ctx, tx, opts, false); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	s := domain.ScheduleConfiguration{
		ID:             opts.ID,
		TaskID:         opts.TaskID,
		Sender:         existing.Sender,
		Recipient:      opts.Recipient,
		Amount:         opts.Amount,
		TokenAddress:   opts.TokenAddress,
		StartTime:      opts.StartTime,
		Interval:       opts.Interval,
		ExecutionTimes: opts.ExecutionTimes,
		Enabled:        existing.Enabled,
		CreatedAt:      existing.CreatedAt,
		UpdatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpdateScheduleTx(ctx, tx, s); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	// Repair the reverse index when the recipient changes: the old
	// recipient loses visibility, the new one gains it. The sender's
	// entry never moves.
	if existing.Recipient != s.Recipient {
		if err := e.Repo.RemoveUserScheduleTx(ctx, tx, existing.Recipient, s.ID); err != nil {
			return domain.ScheduleConfiguration{}, err
		}
		if err := e.Repo.AddUserScheduleTx(ctx, tx, s.Recipient, s.ID); err != nil {
			return domain.ScheduleConfiguration{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "schedule.update", "schedule", s.ID, opts.CallerID, events.EventPayload{
		"recipient": s.Recipient, "amount": s.Amount,
	}); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleConfiguration{}, err
	}
	return s, nil
}

// CancelSchedule disables a schedule owned by the caller. The configuration
// and its execution history stay readable; a cancelled schedule is never
// re-enabled.
func (e Engine) CancelSchedule(ctx context.Context, callerID, scheduleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetScheduleTx(ctx, tx, scheduleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	if s.Sender != callerID {
		return ErrScheduleNotFound
	}
	if err := e.Repo.SetScheduleEnabledTx(ctx, tx, scheduleID, false, e.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "schedule.cancel", "schedule", scheduleID, callerID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSchedule returns a schedule the caller participates in, as sender or
// recipient, together with its execution history.
func (e Engine) GetSchedule(ctx context.Context, callerID, scheduleID string) (domain.UserScheduleData, error) {
	s, err := e.Repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.UserScheduleData{}, ErrScheduleNotFound
		}
		return domain.UserScheduleData{}, err
	}
	if s.Sender != callerID && s.Recipient != callerID {
		return domain.UserScheduleData{}, ErrScheduleNotFound
	}
	execs, err := e.Repo.ListExecutions(ctx, scheduleID)
	if err != nil {
		return domain.UserScheduleData{}, err
	}
	return domain.UserScheduleData{Schedule: s, PaymentExecutions: execs}, nil
}

// UserSchedules returns every schedule the caller participates in, as
// sender or recipient, each paired with its execution history. The whole
// read runs in one transaction so the index and the rows it points at are
// consistent.
func (e Engine) UserSchedules(ctx context.Context, callerID string) ([]domain.UserScheduleData, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := e.Repo.ListUserScheduleIDsTx(ctx, tx, callerID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserScheduleData, 0, len(ids))
	for _, id := range ids {
		s, err := e.Repo.GetScheduleTx(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("indexed schedule %s: %w", id, err)
		}
		execs, err := e.Repo.ListExecutionsTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.UserScheduleData{Schedule: s, PaymentExecutions: execs})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerOptions are parameters for triggering a payment.
type TriggerOptions struct {
	Recipient    string
	Amount       uint64
	TokenAddress *string
	ScheduleID   string
	Attached     uint64
	CallerID     string
}

// TriggerPayment settles one payment from the caller to the recipient and
// records an execution timestamp against the schedule. With a token address
// the transfer is a token transfer-from and the token must be whitelisted
// at trigger time; without one the attached native amount must equal the
// payment amount exactly.
func (e Engine) TriggerPayment(ctx context.Context, opts TriggerOptions) (int64, error) {
	if opts.Recipient == opts.CallerID {
		return 0, ErrCallerIsRecipient
	}
	if opts.Amount == 0 {
		return 0, ErrZeroAmount
	}
	if opts.Amount > math.MaxInt64 {
		return 0, ErrAmountTooLarge
	}
	if e.Config != nil && e.Config.Trigger.Strict {
		if err := e.checkTriggerAgainstSchedule(ctx, opts); err != nil {
			return 0, err
		}
	}

	if opts.TokenAddress != nil {
		listed, err := e.Repo.WhitelistContains(ctx, *opts.TokenAddress)
		if err != nil {
			return 0, err
		}
		if !listed {
			return 0, ErrTokenNotWhitelisted
		}
		if err := e.Ledger.TransferFrom(ctx, *opts.TokenAddress, opts.CallerID, opts.Recipient, opts.Amount); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	} else {
		if opts.Attached != opts.Amount {
			return 0, ErrInsufficientBalance
		}
		if err := e.Ledger.TransferNative(ctx, opts.CallerID, opts.Recipient, opts.Amount); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	executedAt := e.now().UTC().Unix()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Repo.AppendExecutionTx(ctx, tx, opts.ScheduleID, executedAt); err != nil {
		return 0, err
	}
	payload := events.EventPayload{"recipient": opts.Recipient, "amount": opts.Amount, "executed_at": executedAt}
	evtType := "payment.native"
	if opts.TokenAddress != nil {
		evtType = "payment.token"
		payload["token_address"] = *opts.TokenAddress
	}
	if err := e.Events.Append(ctx, tx, evtType, "schedule", opts.ScheduleID, opts.CallerID, payload); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return executedAt, nil
}

// checkTriggerAgainstSchedule enforces strict trigger mode: the schedule
// must exist, belong to the caller, be enabled, and match the trigger's
// recipient, amount and token.
func (e Engine) checkTriggerAgainstSchedule(ctx context.Context, opts TriggerOptions) error {
	s, err := e.Repo.GetSchedule(ctx, opts.ScheduleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	if s.Sender != opts.CallerID {
		return ErrScheduleNotFound
	}
	if !s.Enabled {
		return ErrInvalidSchedule
	}
	if s.Recipient != opts.Recipient || s.Amount != opts.Amount {
		return ErrInvalidSchedule
	}
	if (s.TokenAddress == nil) != (opts.TokenAddress == nil) {
		return ErrInvalidSchedule
	}
	if s.TokenAddress != nil && *s.TokenAddress != *opts.TokenAddress {
		return ErrInvalidSchedule
	}
	return nil
}

// validateScheduleTx applies the schedule validation rules in order:
// uniqueness (creates only), caller/recipient distinctness, non-zero
// amount, token whitelist membership, and at least one timing mode.
func (e Engine) validateScheduleTx(ctx context.Context, tx *sql.Tx, opts ScheduleOptions, isNew bool) error {
	if isNew {
		exists, err := e.Repo.ScheduleExistsTx(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrScheduleExists
		}
	}
	if opts.CallerID == opts.Recipient {
		return ErrCallerIsRecipient
	}
	if opts.Amount == 0 {
		return ErrZeroAmount
	}
	// Amounts are stored in sqlite INTEGER columns; values past the signed
	// range would flip sign on the way in.
	if opts.Amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	if opts.TokenAddress != nil {
		listed, err := e.Repo.WhitelistContainsTx(ctx, tx, *opts.TokenAddress)
		if err != nil {
			return err
		}
		if !listed {
			return ErrTokenNotWhitelisted
		}
	}
	if opts.StartTime == nil && len(opts.ExecutionTimes) == 0 {
		return ErrInvalidSchedule
	}
	return nil
}

func (e Engine) ensureAdminTx(ctx context.Context, tx *sql.Tx, callerID string) error {
	admin, err := e.Repo.GetAdminTx(ctx, tx)
	if err != nil {
		return err
	}
	if callerID != admin {
		return ErrUnauthorized
	}
	return nil
}
