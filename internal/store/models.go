// Package store provides SQLite-backed persistence for KidTrack.
// It owns the child activity, reminder and profile tables and everything
// needed to keep them consistent: schema bootstrap, statement caching,
// transactions and change notification.
package store

import (
	"context"
	"fmt"
)

// Table names as they appear on disk.
const (
	TableActivities = "activities"
	TableReminders  = "reminders"
	TableProfiles   = "profiles"
)

// Activity is a single scheduled or logged activity for a child profile.
type Activity struct {
	ID            int64  `json:"id"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	Notes         string `json:"notes"`
	DateTimestamp int64  `json:"dateTimestamp"` // epoch milliseconds
	TimeMinutes   int    `json:"timeMinutes"`   // minutes since midnight, 0-1439
	ProfileID     int64  `json:"profileId"`
}

// Frequency vocabulary for reminders. The store does not enforce it.
const (
	FrequencyOnce    = "once"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Reminder is a notification schedule, optionally tied to an activity.
// AssociatedActivityID 0 means the reminder stands alone.
type Reminder struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	TimeMinutes          int    `json:"timeMinutes"`
	Frequency            string `json:"frequency"`
	AssociatedActivityID int64  `json:"associatedActivityId"`
	ProfileID            int64  `json:"profileId"`
	DaysBefore           int    `json:"daysBefore"`
	EventDateTimestamp   int64  `json:"eventDateTimestamp"`
	SnoozeEnabled        bool   `json:"snoozeEnabled"`
}

// UserProfile is a child profile. PhotoURL is optional.
type UserProfile struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Age      int     `json:"age"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

// RecordKey says whether an insert creates a new row or replaces the row
// with a known identity.
type RecordKey struct {
	id      int64
	replace bool
}

// NewRecord asks the store to assign a fresh identity.
func NewRecord() RecordKey { return RecordKey{} }

// ReplaceRecord targets the row with the given identity, creating it if
// absent. The identity must be positive.
func ReplaceRecord(id int64) RecordKey { return RecordKey{id: id, replace: true} }

// KeyOf maps the zero-means-new convention onto a RecordKey.
func KeyOf(id int64) RecordKey {
	if id == 0 {
		return NewRecord()
	}
	return ReplaceRecord(id)
}

// IsNew reports whether the key asks for a fresh identity.
func (k RecordKey) IsNew() bool { return !k.replace }

// ID returns the targeted identity, or 0 for a new record.
func (k RecordKey) ID() int64 { return k.id }

func (k RecordKey) String() string {
	if k.IsNew() {
		return "new"
	}
	return fmt.Sprintf("replace(%d)", k.id)
}

// Storer defines the persistence surface handed to higher layers.
// All methods may block on disk I/O; call them off latency-sensitive paths.
type Storer interface {
	Activities() *ActivityRepository
	Reminders() *ReminderRepository
	Profiles() *ProfileRepository
	Tracker() *Tracker

	RunInTransaction(ctx context.Context, work func(ctx context.Context) error) error

	// Multi-table cleanup run as one transaction
	DeleteProfileCascade(ctx context.Context, profileID int64) error
	DeleteActivityCascade(ctx context.Context, activityID int64) error

	// Export/Import (JSON snapshot of all tables)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) error

	// Lifecycle
	Close() error
}
