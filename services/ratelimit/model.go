package ratelimit

import (
	"fmt"
	"time"
)

const (
	ActionCheck  = "check"
	ActionRecord = "record"
)

// GenerationEvent is one recorded generation. Rows are only read in
// aggregate over the trailing window.
type GenerationEvent struct {
	ID        string    `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index:idx_generation_events_user_created,priority:1" json:"user_id"`
	Action    string    `gorm:"column:action;size:32;not null" json:"action"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_generation_events_user_created,priority:2" json:"created_at"`
}

func (GenerationEvent) TableName() string { return "generation_events" }

type CheckParams struct {
	Action string
}

type Decision struct {
	CanGenerate        bool   `json:"can_generate"`
	Count              int64  `json:"count"`
	Limit              int64  `json:"limit"`
	Remaining          int64  `json:"remaining"`
	ResetInMinutes     int64  `json:"reset_in_minutes"`
	ResetTimeFormatted string `json:"reset_time_formatted"`
	Error              string `json:"error,omitempty"`
	Recorded           bool   `json:"recorded,omitempty"`
}

// resetInMinutes rounds the time left until the oldest event leaves the
// window up to whole minutes.
func resetInMinutes(oldest time.Time, window time.Duration, now time.Time) int64 {
	left := oldest.Add(window).Sub(now)
	if left <= 0 {
		return 0
	}
	minutes := int64(left / time.Minute)
	if left%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// FormatReset renders minutes as "5h 12m", or "12m" under an hour.
func FormatReset(minutes int64) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
