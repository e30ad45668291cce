package models

import "time"

// TimerType tells why a deferred redelivery was scheduled.
type TimerType string

const (
	TimerTypeAckTimeout   TimerType = "ACK_TIMEOUT"
	TimerTypeTimeout      TimerType = "TIMEOUT"
	TimerTypeRetryDelay   TimerType = "RETRY_DELAY"
	TimerTypeScheduleTask TimerType = "SCHEDULE_TASK"
	TimerTypeSubResult    TimerType = "SUB_TRANSACTION_RESULT"
	// TimerTypeSystemUpdate settles a task the engine failed or completed on its own.
	TimerTypeSystemUpdate TimerType = "SYSTEM_UPDATE"
)

// Timer carries a synthetic status update to be redelivered at DueAt.
type Timer struct {
	ID     string     `json:"id"`
	Type   TimerType  `json:"type"`
	DueAt  time.Time  `json:"due_at"`
	Update TaskUpdate `json:"update"`
}

// NewTimer builds a timer firing after delay from now.
func NewTimer(id string, timerType TimerType, delay time.Duration, update TaskUpdate) Timer {
	return Timer{
		ID:     id,
		Type:   timerType,
		DueAt:  time.Now().UTC().Add(delay),
		Update: update,
	}
}
