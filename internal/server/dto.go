package server

import (
	"encoding/json"

	"tempora/internal/domain"
)

// Request payloads

type CreateScheduleRequest struct {
	ID             string  `json:"id"`
	TaskID         *string `json:"task_id,omitempty"`
	Recipient      string  `json:"recipient"`
	Amount         uint64  `json:"amount"`
	TokenAddress   *string `json:"token_address,omitempty"`
	StartTime      *int64  `json:"start_time,omitempty"`
	Interval       *int64  `json:"interval,omitempty"`
	ExecutionTimes []int64 `json:"execution_times,omitempty"`
}

type UpdateScheduleRequest struct {
	TaskID         *string `json:"task_id,omitempty"`
	Recipient      string  `json:"recipient"`
	Amount         uint64  `json:"amount"`
	TokenAddress   *string `json:"token_address,omitempty"`
	StartTime      *int64  `json:"start_time,omitempty"`
	Interval       *int64  `json:"interval,omitempty"`
	ExecutionTimes []int64 `json:"execution_times,omitempty"`
}

type TriggerPaymentRequest struct {
	Recipient    string  `json:"recipient"`
	Amount       uint64  `json:"amount"`
	TokenAddress *string `json:"token_address,omitempty"`
	ScheduleID   string  `json:"schedule_id"`
	Attached     uint64  `json:"attached,omitempty"`
}

type SetAdminRequest struct {
	Account string `json:"account"`
}

type WhitelistAddRequest struct {
	TokenAddress string `json:"token_address"`
}

// Response payloads

type ScheduleResponse struct {
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

type UserScheduleResponse struct {
	Schedule          ScheduleResponse `json:"schedule_configuration"`
	PaymentExecutions []int64          `json:"payment_executions"`
}

type TriggerPaymentResponse struct {
	ScheduleID string `json:"schedule_id"`
	ExecutedAt int64  `json:"executed_at"`
}

type AdminResponse struct {
	Account string `json:"account"`
}

type WhitelistResponse struct {
	Tokens []string `json:"tokens"`
}

type BalanceResponse struct {
	Account string            `json:"account"`
	Balance uint64            `json:"balance"`
	Tokens  map[string]uint64 `json:"tokens,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func scheduleResponse(s domain.ScheduleConfiguration) ScheduleResponse {
	return ScheduleResponse(s)
}

func userScheduleResponse(u domain.UserScheduleData) UserScheduleResponse {
	return UserScheduleResponse{
		Schedule:          scheduleResponse(u.Schedule),
		PaymentExecutions: nonNilInt64s(u.PaymentExecutions),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilInt64s(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func strVal(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
