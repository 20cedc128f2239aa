package models

import (
	"fmt"
	"time"
)

const (
	TimeLeftOverdue = "Overdue"

	minuteMillis = int64(time.Minute / time.Millisecond)
	hourMillis   = int64(time.Hour / time.Millisecond)
)

type TimeLeftMode string

const (
	// TimeLeftLegacy reports only the minute offset within the current hour
	// of the difference, so "2h 15m away" renders as "15 Min Left". Stored
	// boards were written this way and the default keeps them consistent.
	TimeLeftLegacy TimeLeftMode = "legacy"
	// TimeLeftDuration reports the full number of minutes until the due date.
	TimeLeftDuration TimeLeftMode = "duration"
)

func (m TimeLeftMode) Valid() bool {
	return m == TimeLeftLegacy || m == TimeLeftDuration
}

func (m TimeLeftMode) Calculate(due *time.Time, now time.Time) string {
	if m == TimeLeftDuration {
		return CalculateRemaining(due, now)
	}
	return CalculateTimeLeft(due, now)
}

// StartOfUTCDay truncates t to midnight UTC of its UTC calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateDueDate rejects due dates whose UTC day is before the UTC day of now.
// A missing due date is always valid.
func ValidateDueDate(due *time.Time, now time.Time) error {
	if due == nil {
		return nil
	}
	if StartOfUTCDay(*due).Before(StartOfUTCDay(now)) {
		return ErrPastDueDate
	}
	return nil
}

// CalculateTimeLeft renders the legacy time-left badge: the minutes part of
// (diff mod 1h). Any due instant before now is "Overdue", including ones a
// whole number of hours ago whose remainder is zero.
func CalculateTimeLeft(due *time.Time, now time.Time) string {
	if due == nil {
		return ""
	}
	diff := due.Sub(now).Milliseconds()
	if diff < 0 {
		return TimeLeftOverdue
	}
	return fmt.Sprintf("%d Min Left", (diff%hourMillis)/minuteMillis)
}

// CalculateRemaining renders the whole number of minutes until due.
func CalculateRemaining(due *time.Time, now time.Time) string {
	if due == nil {
		return ""
	}
	diff := due.Sub(now).Milliseconds()
	if diff < 0 {
		return TimeLeftOverdue
	}
	return fmt.Sprintf("%d Min Left", diff/minuteMillis)
}
