package engine_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tempora/internal/config"
	"tempora/internal/db"
	"tempora/internal/engine"
	"tempora/internal/ledger"
	"tempora/internal/migrate"
)

const adminID = "admin-1"

type testEnv struct {
	Engine engine.Engine
	Ledger ledger.Ledger
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(adminID)
	l := ledger.New(conn)
	eng := engine.New(conn, cfg, l)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := eng.Repo.SeedAdminTx(ctx, tx, adminID, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return testEnv{Engine: eng, Ledger: l, Ctx: ctx}
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func recurring(id, caller, recipient string, amount uint64) engine.ScheduleOptions {
	return engine.ScheduleOptions{
		ID:        id,
		TaskID:    "task-123",
		Recipient: recipient,
		Amount:    amount,
		StartTime: int64Ptr(100),
		Interval:  int64Ptr(100),
		CallerID:  caller,
	}
}

func TestCreateScheduleAndIndex(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Sender != "alice" || !s.Enabled {
		t.Fatalf("unexpected schedule: %+v", s)
	}
	// Both sides of the schedule land in the reverse index.
	for _, account := range []string{"alice", "bob"} {
		items, err := env.Engine.UserSchedules(env.Ctx, account)
		if err != nil {
			t.Fatalf("user schedules for %s: %v", account, err)
		}
		if len(items) != 1 || items[0].Schedule.ID != "sched-1" {
			t.Fatalf("expected one indexed schedule for %s, got %+v", account, items)
		}
		if items[0].PaymentExecutions == nil || len(items[0].PaymentExecutions) != 0 {
			t.Fatalf("expected empty execution list, got %v", items[0].PaymentExecutions)
		}
	}
}

func TestCreateScheduleValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("dup", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate id wins over every later rule, even for a different caller.
	bad := recurring("dup", "bob", "bob", 0)
	if _, err := env.Engine.CreateSchedule(env.Ctx, bad); !errors.Is(err, engine.ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}

	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("s2", "alice", "alice", 1000)); !errors.Is(err, engine.ErrCallerIsRecipient) {
		t.Fatalf("expected ErrCallerIsRecipient, got %v", err)
	}
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("s3", "alice", "bob", 0)); !errors.Is(err, engine.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}

	withToken := recurring("s4", "alice", "bob", 1000)
	withToken.TokenAddress = strPtr("tok-1")
	if _, err := env.Engine.CreateSchedule(env.Ctx, withToken); !errors.Is(err, engine.ErrTokenNotWhitelisted) {
		t.Fatalf("expected ErrTokenNotWhitelisted, got %v", err)
	}

	noTiming := engine.ScheduleOptions{ID: "s5", Recipient: "bob", Amount: 1000, CallerID: "alice"}
	if _, err := env.Engine.CreateSchedule(env.Ctx, noTiming); !errors.Is(err, engine.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}

	// Explicit execution times satisfy the timing rule without a start time.
	explicit := engine.ScheduleOptions{
		ID: "s6", Recipient: "bob", Amount: 1000, CallerID: "alice",
		ExecutionTimes: []int64{100, 200},
	}
	if _, err := env.Engine.CreateSchedule(env.Ctx, explicit); err != nil {
		t.Fatalf("explicit times: %v", err)
	}
}

func TestAmountBeyondSignedRangeRejected(t *testing.T) {
	env := newTestEnv(t)
	// Amounts land in INTEGER columns; anything past the signed range is
	// rejected before it can flip sign in storage.
	huge := recurring("sched-1", "alice", "bob", math.MaxUint64)
	if _, err := env.Engine.CreateSchedule(env.Ctx, huge); !errors.Is(err, engine.ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge on create, got %v", err)
	}
	_, err := env.Engine.TriggerPayment(env.Ctx, engine.TriggerOptions{
		Recipient:  "bob",
		Amount:     math.MaxUint64,
		ScheduleID: "sched-1",
		Attached:   math.MaxUint64,
		CallerID:   "alice",
	})
	if !errors.Is(err, engine.ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge on trigger, got %v", err)
	}
}

func TestUpdateSchedulePreservesOwnershipAndEnabled(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Someone else's update looks like a missing schedule.
	upd := recurring("sched-1", "mallory", "bob", 2000)
	if _, err := env.Engine.UpdateSchedule(env.Ctx, upd); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound for non-owner, got %v", err)
	}
	if _, err := env.Engine.UpdateSchedule(env.Ctx, recurring("ghost", "alice", "bob", 1)); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound for missing, got %v", err)
	}

	if err := env.Engine.CancelSchedule(env.Ctx, "alice", "sched-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	s, err := env.Engine.UpdateSchedule(env.Ctx, recurring("sched-1", "alice", "carol", 500))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.Sender != "alice" {
		t.Fatalf("sender changed on update: %s", s.Sender)
	}
	if s.Enabled {
		t.Fatalf("cancelled schedule re-enabled by update")
	}
	if s.Recipient != "carol" || s.Amount != 500 {
		t.Fatalf("update not applied: %+v", s)
	}
}

func TestCancelSchedule(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.CancelSchedule(env.Ctx, "mallory", "sched-1"); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound for non-owner, got %v", err)
	}
	if err := env.Engine.CancelSchedule(env.Ctx, "alice", "sched-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	data, err := env.Engine.GetSchedule(env.Ctx, "alice", "sched-1")
	if err != nil {
		t.Fatalf("get after cancel: %v", err)
	}
	if data.Schedule.Enabled {
		t.Fatalf("schedule still enabled after cancel")
	}
}

func TestWhitelistAdminGate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.AddToWhitelist(env.Ctx, "alice", "tok-1"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.Engine.AddToWhitelist(env.Ctx, adminID, "tok-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.Engine.AddToWhitelist(env.Ctx, adminID, "tok-1"); !errors.Is(err, engine.ErrTokenWhitelisted) {
		t.Fatalf("expected ErrTokenWhitelisted, got %v", err)
	}
	if err := env.Engine.RemoveFromWhitelist(env.Ctx, adminID, "tok-2"); !errors.Is(err, engine.ErrTokenNotWhitelisted) {
		t.Fatalf("expected ErrTokenNotWhitelisted, got %v", err)
	}
	listed, err := env.Engine.Whitelisted(env.Ctx, "tok-1")
	if err != nil || !listed {
		t.Fatalf("tok-1 should be listed: %v %v", listed, err)
	}
	if err := env.Engine.RemoveFromWhitelist(env.Ctx, adminID, "tok-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tokens, err := env.Engine.WhitelistedTokens(env.Ctx)
	if err != nil || len(tokens) != 0 {
		t.Fatalf("expected empty whitelist, got %v %v", tokens, err)
	}
}

func TestSetAdminHandover(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetAdmin(env.Ctx, "mallory", "mallory"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.Engine.SetAdmin(env.Ctx, adminID, "admin-2"); err != nil {
		t.Fatalf("handover: %v", err)
	}
	current, err := env.Engine.Admin(env.Ctx)
	if err != nil || current != "admin-2" {
		t.Fatalf("expected admin-2, got %s %v", current, err)
	}
	// The previous admin lost the authority with the handover.
	if err := env.Engine.AddToWhitelist(env.Ctx, adminID, "tok-1"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for old admin, got %v", err)
	}
	if err := env.Engine.AddToWhitelist(env.Ctx, "admin-2", "tok-1"); err != nil {
		t.Fatalf("new admin add: %v", err)
	}
}

func TestTriggerNativePayment(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1_000_000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	opts := engine.TriggerOptions{
		Recipient:  "bob",
		Amount:     1_000_000,
		ScheduleID: "sched-1",
		CallerID:   "alice",
	}

	// Attaching half the amount is rejected before any transfer happens.
	opts.Attached = 500_000
	if _, err := env.Engine.TriggerPayment(env.Ctx, opts); !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Exact amount but no funds in the ledger: the transfer itself fails.
	opts.Attached = 1_000_000
	if _, err := env.Engine.TriggerPayment(env.Ctx, opts); !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	if err := env.Ledger.Deposit(env.Ctx, "alice", 2_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	executedAt, err := env.Engine.TriggerPayment(env.Ctx, opts)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if executedAt != env.Engine.Now().UTC().Unix() {
		t.Fatalf("unexpected execution time %d", executedAt)
	}

	balance, err := env.Ledger.Balance(env.Ctx, "bob")
	if err != nil || balance != 1_000_000 {
		t.Fatalf("bob balance = %d, %v", balance, err)
	}
	data, err := env.Engine.GetSchedule(env.Ctx, "alice", "sched-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(data.PaymentExecutions) != 1 || data.PaymentExecutions[0] != executedAt {
		t.Fatalf("expected one execution at %d, got %v", executedAt, data.PaymentExecutions)
	}
}

func TestTriggerValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.TriggerPayment(env.Ctx, engine.TriggerOptions{
		Recipient: "bob", Amount: 1000, ScheduleID: "s", CallerID: "bob",
	}); !errors.Is(err, engine.ErrCallerIsRecipient) {
		t.Fatalf("expected ErrCallerIsRecipient, got %v", err)
	}
	if _, err := env.Engine.TriggerPayment(env.Ctx, engine.TriggerOptions{
		Recipient: "bob", Amount: 0, ScheduleID: "s", CallerID: "alice",
	}); !errors.Is(err, engine.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestTriggerTokenPayment(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.AddToWhitelist(env.Ctx, adminID, "tok-1"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	withToken := recurring("sched-1", "alice", "bob", 1000)
	withToken.TokenAddress = strPtr("tok-1")
	if _, err := env.Engine.CreateSchedule(env.Ctx, withToken); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Ledger.Mint(env.Ctx, "tok-1", "alice", 5000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	opts := engine.TriggerOptions{
		Recipient:    "bob",
		Amount:       1000,
		TokenAddress: strPtr("tok-1"),
		ScheduleID:   "sched-1",
		CallerID:     "alice",
	}
	if _, err := env.Engine.TriggerPayment(env.Ctx, opts); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	got, err := env.Ledger.TokenBalance(env.Ctx, "tok-1", "bob")
	if err != nil || got != 1000 {
		t.Fatalf("bob token balance = %d, %v", got, err)
	}

	// Removing the token from the whitelist blocks further triggers even
	// though the stored schedule stays enabled.
	if err := env.Engine.RemoveFromWhitelist(env.Ctx, adminID, "tok-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.TriggerPayment(env.Ctx, opts); !errors.Is(err, engine.ErrTokenNotWhitelisted) {
		t.Fatalf("expected ErrTokenNotWhitelisted, got %v", err)
	}
	data, err := env.Engine.GetSchedule(env.Ctx, "alice", "sched-1")
	if err != nil || !data.Schedule.Enabled {
		t.Fatalf("schedule should remain enabled: %+v %v", data, err)
	}
}

func TestTriggerTokenInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.AddToWhitelist(env.Ctx, adminID, "tok-1"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := env.Ledger.Mint(env.Ctx, "tok-1", "alice", 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err := env.Engine.TriggerPayment(env.Ctx, engine.TriggerOptions{
		Recipient:    "bob",
		Amount:       1000,
		TokenAddress: strPtr("tok-1"),
		ScheduleID:   "sched-1",
		CallerID:     "alice",
	})
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestTriggerStrictMode(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Trigger.Strict = true
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Ledger.Deposit(env.Ctx, "alice", 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	base := engine.TriggerOptions{
		Recipient:  "bob",
		Amount:     1000,
		ScheduleID: "sched-1",
		Attached:   1000,
		CallerID:   "alice",
	}

	missing := base
	missing.ScheduleID = "ghost"
	if _, err := env.Engine.TriggerPayment(env.Ctx, missing); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}

	wrongOwner := base
	wrongOwner.CallerID = "mallory"
	wrongOwner.Recipient = "bob"
	if _, err := env.Engine.TriggerPayment(env.Ctx, wrongOwner); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound for non-owner, got %v", err)
	}

	mismatch := base
	mismatch.Amount = 999
	mismatch.Attached = 999
	if _, err := env.Engine.TriggerPayment(env.Ctx, mismatch); !errors.Is(err, engine.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule on amount mismatch, got %v", err)
	}

	if _, err := env.Engine.TriggerPayment(env.Ctx, base); err != nil {
		t.Fatalf("matching trigger: %v", err)
	}

	if err := env.Engine.CancelSchedule(env.Ctx, "alice", "sched-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.TriggerPayment(env.Ctx, base); !errors.Is(err, engine.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for cancelled schedule, got %v", err)
	}
}

func TestUserSchedulesVisibility(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("a-1", "alice", "bob", 100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("b-1", "bob", "alice", 100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Alice participates in both: once as sender, once as recipient.
	items, err := env.Engine.UserSchedules(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("user schedules: %v", err)
	}
	if len(items) != 2 || items[0].Schedule.ID != "a-1" || items[1].Schedule.ID != "b-1" {
		t.Fatalf("expected both schedules for alice, got %+v", items)
	}
	// The recipient may read the schedule directly.
	if _, err := env.Engine.GetSchedule(env.Ctx, "alice", "b-1"); err != nil {
		t.Fatalf("recipient read: %v", err)
	}
	// An uninvolved identity sees nothing, by index or by id.
	none, err := env.Engine.UserSchedules(env.Ctx, "carol")
	if err != nil {
		t.Fatalf("user schedules: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no schedules for carol, got %+v", none)
	}
	if _, err := env.Engine.GetSchedule(env.Ctx, "carol", "a-1"); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestUpdateRepairsRecipientIndex(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.UpdateSchedule(env.Ctx, recurring("sched-1", "alice", "carol", 1000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	// The old recipient loses visibility, the new one gains it.
	old, err := env.Engine.UserSchedules(env.Ctx, "bob")
	if err != nil {
		t.Fatalf("user schedules: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected no schedules for old recipient, got %+v", old)
	}
	if _, err := env.Engine.GetSchedule(env.Ctx, "bob", "sched-1"); !errors.Is(err, engine.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound for old recipient, got %v", err)
	}
	gained, err := env.Engine.UserSchedules(env.Ctx, "carol")
	if err != nil {
		t.Fatalf("user schedules: %v", err)
	}
	if len(gained) != 1 || gained[0].Schedule.ID != "sched-1" {
		t.Fatalf("expected schedule for new recipient, got %+v", gained)
	}
}

func TestEventLogRecordsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSchedule(env.Ctx, recurring("sched-1", "alice", "bob", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.CancelSchedule(env.Ctx, "alice", "sched-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].Type != "schedule.cancel" || events[1].Type != "schedule.create" {
		t.Fatalf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ActorID != "alice" || events[0].EntityID != "sched-1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}
