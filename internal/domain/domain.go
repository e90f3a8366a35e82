package domain

// ScheduleConfiguration is one registered payment obligation. The id is
// chosen by the creator and never reused; sender is fixed at creation.
type ScheduleConfiguration struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id,omitempty"`
	Sender         string  `json:"sender"`
	Recipient      string  `json:"recipient"`
	Amount         uint64  `json:"amount"`
	TokenAddress   *string `json:"token_address,omitempty"`
	StartTime      *int64  `json:"start_time,omitempty"`
	Interval       *int64  `json:"interval,omitempty"`
	ExecutionTimes []int64 `json:"execution_times,omitempty"`
	Enabled        bool    `json:"enabled"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// Recurring reports whether the schedule is anchored at a start time
// rather than an explicit list of execution times.
func (s ScheduleConfiguration) Recurring() bool {
	return s.StartTime != nil
}

// UserScheduleData pairs a schedule with its execution history. It is
// computed on read and has no identity of its own.
type UserScheduleData struct {
	Schedule          ScheduleConfiguration `json:"schedule_configuration"`
	PaymentExecutions []int64               `json:"payment_executions"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
