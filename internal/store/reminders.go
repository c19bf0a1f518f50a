package store

import (
	"context"
	"math"
)

var reminderMapping = newMapping(TableReminders,
	func(r *Reminder) *int64 { return &r.ID },
	textField("name", func(r *Reminder) *string { return &r.Name }),
	boundedIntField("timeMinutes", 0, MaxTimeMinutes, func(r *Reminder) *int { return &r.TimeMinutes }),
	textField("frequency", func(r *Reminder) *string { return &r.Frequency }),
	int64Field("associatedActivityId", func(r *Reminder) *int64 { return &r.AssociatedActivityID }),
	int64Field("profileId", func(r *Reminder) *int64 { return &r.ProfileID }),
	boundedIntField("daysBefore", 0, math.MaxInt32, func(r *Reminder) *int { return &r.DaysBefore }),
	int64Field("eventDateTimestamp", func(r *Reminder) *int64 { return &r.EventDateTimestamp }),
	boolField("snoozeEnabled", func(r *Reminder) *bool { return &r.SnoozeEnabled }),
)

const (
	remindersByID       = `SELECT * FROM reminders WHERE id = ?`
	remindersAll        = `SELECT * FROM reminders ORDER BY timeMinutes ASC`
	remindersByProfile  = `SELECT * FROM reminders WHERE profileId = ? ORDER BY timeMinutes ASC`
	remindersByActivity = `SELECT * FROM reminders WHERE associatedActivityId = ?`

	remindersDeleteByID       = `DELETE FROM reminders WHERE id = ?`
	remindersDeleteByProfile  = `DELETE FROM reminders WHERE profileId = ?`
	remindersDeleteByActivity = `DELETE FROM reminders WHERE associatedActivityId = ?`
)

// ReminderRepository reads and writes the reminders table.
type ReminderRepository struct {
	repo *repository[Reminder]
}

func (r *ReminderRepository) Insert(ctx context.Context, rem Reminder) (int64, error) {
	return r.repo.put(ctx, KeyOf(rem.ID), rem)
}

func (r *ReminderRepository) Put(ctx context.Context, key RecordKey, rem Reminder) (int64, error) {
	return r.repo.put(ctx, key, rem)
}

func (r *ReminderRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return r.repo.deleteWhere(ctx, remindersDeleteByID, id)
}

func (r *ReminderRepository) DeleteByProfile(ctx context.Context, profileID int64) (int64, error) {
	return r.repo.deleteWhere(ctx, remindersDeleteByProfile, profileID)
}

// DeleteByActivity removes reminders attached to the activity. Reminders
// with no activity carry 0 and are not touched by a positive id.
func (r *ReminderRepository) DeleteByActivity(ctx context.Context, activityID int64) (int64, error) {
	return r.repo.deleteWhere(ctx, remindersDeleteByActivity, activityID)
}

func (r *ReminderRepository) GetByID(ctx context.Context, id int64) (*Reminder, error) {
	return r.repo.get(ctx, remindersByID, id)
}

// GetAll returns every reminder ordered by time of day.
func (r *ReminderRepository) GetAll(ctx context.Context) ([]Reminder, error) {
	return r.repo.list(ctx, remindersAll)
}

func (r *ReminderRepository) GetByProfile(ctx context.Context, profileID int64) ([]Reminder, error) {
	return r.repo.list(ctx, remindersByProfile, profileID)
}

// GetByActivity returns the activity's reminders in storage order.
func (r *ReminderRepository) GetByActivity(ctx context.Context, activityID int64) ([]Reminder, error) {
	return r.repo.list(ctx, remindersByActivity, activityID)
}
