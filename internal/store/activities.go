package store

import "context"

// MaxTimeMinutes is the last minute of a day.
const MaxTimeMinutes = 24*60 - 1

var activityMapping = newMapping(TableActivities,
	func(a *Activity) *int64 { return &a.ID },
	textField("category", func(a *Activity) *string { return &a.Category }),
	textField("description", func(a *Activity) *string { return &a.Description }),
	textField("notes", func(a *Activity) *string { return &a.Notes }),
	int64Field("dateTimestamp", func(a *Activity) *int64 { return &a.DateTimestamp }),
	boundedIntField("timeMinutes", 0, MaxTimeMinutes, func(a *Activity) *int { return &a.TimeMinutes }),
	int64Field("profileId", func(a *Activity) *int64 { return &a.ProfileID }),
)

const (
	activitiesByID        = `SELECT * FROM activities WHERE id = ?`
	activitiesAll         = `SELECT * FROM activities ORDER BY dateTimestamp ASC, timeMinutes ASC`
	activitiesByProfile   = `SELECT * FROM activities WHERE profileId = ? ORDER BY dateTimestamp ASC, timeMinutes ASC`
	activitiesByDateRange = `SELECT * FROM activities WHERE dateTimestamp >= ? AND dateTimestamp <= ? ORDER BY dateTimestamp ASC, timeMinutes ASC`

	activitiesDeleteByID      = `DELETE FROM activities WHERE id = ?`
	activitiesDeleteByProfile = `DELETE FROM activities WHERE profileId = ?`
)

// ActivityRepository reads and writes the activities table.
// Listings are ordered by date, then time of day.
type ActivityRepository struct {
	repo *repository[Activity]
}

// Insert upserts a. A zero ID assigns a new identity; any other ID replaces
// that row.
func (r *ActivityRepository) Insert(ctx context.Context, a Activity) (int64, error) {
	return r.repo.put(ctx, KeyOf(a.ID), a)
}

// Put upserts a under key, ignoring a.ID.
func (r *ActivityRepository) Put(ctx context.Context, key RecordKey, a Activity) (int64, error) {
	return r.repo.put(ctx, key, a)
}

func (r *ActivityRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return r.repo.deleteWhere(ctx, activitiesDeleteByID, id)
}

// DeleteByProfile removes every activity of the profile in one statement.
func (r *ActivityRepository) DeleteByProfile(ctx context.Context, profileID int64) (int64, error) {
	return r.repo.deleteWhere(ctx, activitiesDeleteByProfile, profileID)
}

// GetByID returns nil when the activity does not exist.
func (r *ActivityRepository) GetByID(ctx context.Context, id int64) (*Activity, error) {
	return r.repo.get(ctx, activitiesByID, id)
}

func (r *ActivityRepository) GetAll(ctx context.Context) ([]Activity, error) {
	return r.repo.list(ctx, activitiesAll)
}

func (r *ActivityRepository) GetByProfile(ctx context.Context, profileID int64) ([]Activity, error) {
	return r.repo.list(ctx, activitiesByProfile, profileID)
}

// GetByDateRange returns activities with start <= dateTimestamp <= end.
func (r *ActivityRepository) GetByDateRange(ctx context.Context, start, end int64) ([]Activity, error) {
	return r.repo.list(ctx, activitiesByDateRange, start, end)
}
