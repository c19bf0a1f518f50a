package livequery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kidtrack/internal/store"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("query was not reloaded")
	}
}

func TestQueryReloadsOnChange(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer s.Close()

	q, err := New(ctx, s.Tracker(), s.Profiles().GetAll, store.TableProfiles)
	require.NoError(t, err)
	defer q.Close()

	profiles, version := q.Get()
	require.Empty(t, profiles)
	require.Equal(t, int64(1), version)

	changed := q.Changed()
	_, err = s.Profiles().Insert(ctx, store.UserProfile{Name: "Ann", Age: 7})
	require.NoError(t, err)
	waitFor(t, changed)

	profiles, version = q.Get()
	require.Len(t, profiles, 1)
	require.Equal(t, "Ann", profiles[0].Name)
	require.Equal(t, int64(2), version)
	require.NoError(t, q.Err())
}

func TestQueryIgnoresOtherTables(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)

	q, err := New(ctx, s.Tracker(), s.Reminders().GetAll, store.TableReminders)
	require.NoError(t, err)

	_, err = s.Activities().Insert(ctx, store.Activity{Category: "c", Description: "d"})
	require.NoError(t, err)
	// Close drains pending notifications.
	require.NoError(t, s.Close())

	_, version := q.Get()
	require.Equal(t, int64(1), version)
}

func TestFailedReloadKeepsValue(t *testing.T) {
	ctx := context.Background()
	tracker := store.NewTracker(nil, store.TableProfiles)
	defer tracker.Close()

	calls := 0
	q, err := New(ctx, tracker, func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, errors.New("locked")
		}
		return calls, nil
	}, store.TableProfiles)
	require.NoError(t, err)

	require.Error(t, q.Refresh(ctx))
	v, version := q.Get()
	require.Equal(t, 1, v)
	require.Equal(t, int64(1), version)
	require.Error(t, q.Err())

	require.NoError(t, q.Refresh(ctx))
	v, version = q.Get()
	require.Equal(t, 3, v)
	require.Equal(t, int64(2), version)
}

func TestNewFailsOnUnknownTable(t *testing.T) {
	tracker := store.NewTracker(nil, store.TableProfiles)
	defer tracker.Close()

	_, err := New(context.Background(), tracker, func(context.Context) (int, error) { return 0, nil }, "notes")
	require.Error(t, err)
}
