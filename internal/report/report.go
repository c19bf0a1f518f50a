// Package report computes activity statistics for the reports screen, the
// weekly summary and the dashboard's upcoming and overdue lists.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/kittclouds/kidtrack/internal/store"
)

// recentLimit is how many activities Statistics.RecentActivities keeps.
const recentLimit = 5

// DateLayout formats the day keys of WeeklySummary.ByDay.
const DateLayout = "2006-01-02"

// Statistics summarizes every activity relative to a point in time.
type Statistics struct {
	TotalActivities     int            `json:"totalActivities"`
	CompletedActivities int            `json:"completedActivities"`
	ThisWeekActivities  int            `json:"thisWeekActivities"`
	CompletionRate      int            `json:"completionRate"` // percent, rounded down
	CategoryBreakdown   map[string]int `json:"categoryBreakdown"`
	// Newest first
	RecentActivities []store.Activity `json:"recentActivities"`
}

// WeeklySummary counts the activities of one Monday-based week.
type WeeklySummary struct {
	Start           int64          `json:"start"`
	End             int64          `json:"end"`
	TotalActivities int            `json:"totalActivities"`
	ByCategory      map[string]int `json:"activitiesByCategory"`
	ByDay           map[string]int `json:"activitiesByDay"`
}

// ActivitySource is the read side of the activity repository.
type ActivitySource interface {
	GetAll(ctx context.Context) ([]store.Activity, error)
	GetByDateRange(ctx context.Context, start, end int64) ([]store.Activity, error)
}

// WeekBounds returns the first and last millisecond of the Monday-to-Sunday
// week containing now, in now's location.
func WeekBounds(now time.Time) (time.Time, time.Time) {
	offset := (int(now.Weekday()) + 6) % 7
	start := startOfDay(now).AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7).Add(-time.Millisecond)
	return start, end
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Summarize computes Statistics over activities, which must be ordered by
// date as ActivityRepository.GetAll returns them. An activity dated before
// the start of today counts as completed.
func Summarize(activities []store.Activity, now time.Time) Statistics {
	today := startOfDay(now).UnixMilli()
	weekStart, weekEnd := WeekBounds(now)
	from, to := weekStart.UnixMilli(), weekEnd.UnixMilli()

	stats := Statistics{
		TotalActivities:   len(activities),
		CategoryBreakdown: make(map[string]int),
		RecentActivities:  make([]store.Activity, 0, recentLimit),
	}
	for _, a := range activities {
		if a.DateTimestamp < today {
			stats.CompletedActivities++
		}
		if a.DateTimestamp >= from && a.DateTimestamp <= to {
			stats.ThisWeekActivities++
		}
		stats.CategoryBreakdown[a.Category]++
	}
	if stats.TotalActivities > 0 {
		stats.CompletionRate = stats.CompletedActivities * 100 / stats.TotalActivities
	}
	for i := len(activities) - 1; i >= 0 && len(stats.RecentActivities) < recentLimit; i-- {
		stats.RecentActivities = append(stats.RecentActivities, activities[i])
	}
	return stats
}

// Build loads every activity from src and summarizes it.
func Build(ctx context.Context, src ActivitySource, now time.Time) (Statistics, error) {
	all, err := src.GetAll(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("load activities: %w", err)
	}
	return Summarize(all, now), nil
}

// Upcoming returns the activities dated today or later, in src order.
func Upcoming(ctx context.Context, src ActivitySource, now time.Time) ([]store.Activity, error) {
	all, err := src.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load upcoming: %w", err)
	}
	today := startOfDay(now).UnixMilli()
	return filter(all, func(a store.Activity) bool { return a.DateTimestamp >= today }), nil
}

// Overdue returns the activities dated before the start of today.
func Overdue(ctx context.Context, src ActivitySource, now time.Time) ([]store.Activity, error) {
	all, err := src.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overdue: %w", err)
	}
	today := startOfDay(now).UnixMilli()
	return filter(all, func(a store.Activity) bool { return a.DateTimestamp < today }), nil
}

func filter(activities []store.Activity, keep func(store.Activity) bool) []store.Activity {
	out := make([]store.Activity, 0, len(activities))
	for _, a := range activities {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// Weekly counts the activities of the week containing now by category and
// by day.
func Weekly(ctx context.Context, src ActivitySource, now time.Time) (WeeklySummary, error) {
	start, end := WeekBounds(now)
	week, err := src.GetByDateRange(ctx, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return WeeklySummary{}, fmt.Errorf("load week: %w", err)
	}

	summary := WeeklySummary{
		Start:           start.UnixMilli(),
		End:             end.UnixMilli(),
		TotalActivities: len(week),
		ByCategory:      make(map[string]int),
		ByDay:           make(map[string]int),
	}
	for _, a := range week {
		summary.ByCategory[a.Category]++
		day := time.UnixMilli(a.DateTimestamp).In(now.Location()).Format(DateLayout)
		summary.ByDay[day]++
	}
	return summary, nil
}
