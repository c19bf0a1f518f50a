package store

import (
	"context"
	"math"
)

var profileMapping = newMapping(TableProfiles,
	func(p *UserProfile) *int64 { return &p.ID },
	textField("name", func(p *UserProfile) *string { return &p.Name }),
	boundedIntField("age", 0, math.MaxInt32, func(p *UserProfile) *int { return &p.Age }),
	nullableTextField("photoUrl", func(p *UserProfile) **string { return &p.PhotoURL }),
)

const (
	profilesByID       = `SELECT * FROM profiles WHERE id = ?`
	profilesAll        = `SELECT * FROM profiles`
	profilesDeleteByID = `DELETE FROM profiles WHERE id = ?`
)

// ProfileRepository reads and writes the profiles table. Deleting a profile
// leaves its activities and reminders in place; use Store.DeleteProfileCascade
// to remove them together.
type ProfileRepository struct {
	repo *repository[UserProfile]
}

func (r *ProfileRepository) Insert(ctx context.Context, p UserProfile) (int64, error) {
	return r.repo.put(ctx, KeyOf(p.ID), p)
}

func (r *ProfileRepository) Put(ctx context.Context, key RecordKey, p UserProfile) (int64, error) {
	return r.repo.put(ctx, key, p)
}

func (r *ProfileRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return r.repo.deleteWhere(ctx, profilesDeleteByID, id)
}

func (r *ProfileRepository) GetByID(ctx context.Context, id int64) (*UserProfile, error) {
	return r.repo.get(ctx, profilesByID, id)
}

// GetAll returns profiles in storage order.
func (r *ProfileRepository) GetAll(ctx context.Context) ([]UserProfile, error) {
	return r.repo.list(ctx, profilesAll)
}
