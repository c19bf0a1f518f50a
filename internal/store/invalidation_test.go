package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) OnTablesChanged(tables []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tables)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func newTestTracker() *Tracker {
	return NewTracker(quietLogger(), TableActivities, TableReminders, TableProfiles)
}

func TestSubscribeValidatesTables(t *testing.T) {
	tr := newTestTracker()
	defer tr.Close()

	_, err := tr.Subscribe(&recorder{}, "notes")
	require.ErrorContains(t, err, "unknown table")
	_, err = tr.Subscribe(&recorder{})
	require.Error(t, err)
	_, err = tr.Subscribe(nil, TableProfiles)
	require.Error(t, err)

	sub, err := tr.Subscribe(&recorder{}, "PROFILES", TableActivities)
	require.NoError(t, err)
	require.Equal(t, []string{TableActivities, TableProfiles}, sub.Tables)
}

func TestNotifyDeliversIntersectionOnly(t *testing.T) {
	tr := newTestTracker()

	both := &recorder{}
	onlyProfiles := &recorder{}
	_, err := tr.Subscribe(both, TableActivities, TableProfiles)
	require.NoError(t, err)
	_, err = tr.Subscribe(onlyProfiles, TableProfiles)
	require.NoError(t, err)

	tr.notify([]string{TableActivities, TableReminders})
	tr.notify(nil)
	tr.Close()

	require.Equal(t, [][]string{{TableActivities}}, both.snapshot())
	require.Empty(t, onlyProfiles.snapshot())
}

func TestNotificationsKeepCommitOrder(t *testing.T) {
	tr := newTestTracker()
	rec := &recorder{}
	_, err := tr.Subscribe(rec, TableActivities, TableReminders)
	require.NoError(t, err)

	var want [][]string
	for i := 0; i < 200; i++ {
		batch := []string{TableActivities}
		if i%3 == 0 {
			batch = []string{TableReminders}
		}
		want = append(want, batch)
		tr.notify(batch)
	}
	tr.Close()
	require.Equal(t, want, rec.snapshot())
}

func TestSlowObserverDoesNotBlockNotify(t *testing.T) {
	tr := newTestTracker()
	release := make(chan struct{})
	_, err := tr.Subscribe(ObserverFunc(func([]string) { <-release }), TableProfiles)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tr.notify([]string{TableProfiles})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notify blocked on a slow observer")
	}
	close(release)
	tr.Close()
}

func TestUnsubscribe(t *testing.T) {
	tr := newTestTracker()
	defer tr.Close()

	rec := &recorder{}
	sub, err := tr.Subscribe(rec, TableProfiles)
	require.NoError(t, err)
	require.True(t, tr.Unsubscribe(sub))
	require.False(t, tr.Unsubscribe(sub))

	tr.notify([]string{TableProfiles})
	require.Empty(t, rec.snapshot())
}

func TestObserverPanicIsContained(t *testing.T) {
	tr := newTestTracker()
	var mu sync.Mutex
	calls := 0
	_, err := tr.Subscribe(ObserverFunc(func([]string) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("first call fails")
		}
	}), TableReminders)
	require.NoError(t, err)

	tr.notify([]string{TableReminders})
	tr.notify([]string{TableReminders})
	tr.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestSubscribeAfterClose(t *testing.T) {
	tr := newTestTracker()
	tr.Close()
	tr.Close()
	_, err := tr.Subscribe(&recorder{}, TableProfiles)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStoreWritesNotifyObservers(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory(ctx, WithLogger(quietLogger()))
	require.NoError(t, err)

	rec := &recorder{}
	_, err = s.Tracker().Subscribe(rec, TableReminders, TableProfiles)
	require.NoError(t, err)

	_, err = s.Activities().Insert(ctx, Activity{Category: "c", Description: "d"})
	require.NoError(t, err)
	id, err := s.Reminders().Insert(ctx, Reminder{Name: "r", Frequency: FrequencyOnce})
	require.NoError(t, err)
	// Nothing matched, nothing changed.
	_, err = s.Profiles().DeleteByID(ctx, 99)
	require.NoError(t, err)
	_, err = s.Reminders().DeleteByID(ctx, id)
	require.NoError(t, err)
	// Rolled back work is never reported.
	_ = s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, _ = s.Profiles().Insert(ctx, UserProfile{Name: "x"})
		return errBoom
	})

	require.NoError(t, s.Close())
	require.Equal(t, [][]string{{TableReminders}, {TableReminders}}, rec.snapshot())
}
