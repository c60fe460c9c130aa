package amreaper

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/assert"
	"github.com/go-redis/redis/v8"
)

const testUser = "a7fd6b2c-2f65-4b2f-a9c6-8b3e7bdb1b71"

func newTestReaper(t *testing.T) (*Reaper, *amstate.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	store := amstate.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	reaper := New(store, nil)
	store.OnMaintenanceChange(reaper.Reschedule)

	return reaper, store, mr
}

func createEndingIn(t *testing.T, store *amstate.Store, d time.Duration) *amstate.Maintenance {
	t.Helper()

	m, err := store.CreateMaintenance(context.Background(), amstate.MaintenanceParams{
		User:  testUser,
		Start: "now",
		End:   strconv.FormatInt(amstate.EpochMs(time.Now().Add(d)), 10),
		All:   true,
	})
	assert.Ok(t, err)

	return m
}

func runReaper(t *testing.T, reaper *Reaper) func() {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- reaper.Run(ctx)
	}()

	return func() {
		cancel()
		assert.Ok(t, <-done)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReaperExpiresWindows(t *testing.T) {
	reaper, store, _ := newTestReaper(t)

	endedMu := sync.Mutex{}
	ended := []int64{}
	store.OnMaintenanceEnd(func(_ context.Context, m *amstate.Maintenance) error {
		endedMu.Lock()
		defer endedMu.Unlock()
		ended = append(ended, m.Id)
		return nil
	})

	stop := runReaper(t, reaper)
	defer stop()

	first := createEndingIn(t, store, 300*time.Millisecond)
	// already ended => floored to minimum delay
	second := createEndingIn(t, store, -1*time.Minute)
	later := createEndingIn(t, store, 1*time.Hour)

	waitFor(t, "windows to expire", func() bool {
		endedMu.Lock()
		defer endedMu.Unlock()
		return len(ended) == 2
	})

	for _, id := range []int64{first.Id, second.Id} {
		m, err := store.GetMaintenance(context.Background(), testUser, id)
		assert.Ok(t, err)
		assert.Assert(t, m == nil)
	}

	stillThere, err := store.GetMaintenance(context.Background(), testUser, later.Id)
	assert.Ok(t, err)
	assert.Assert(t, stillThere != nil)

	// armed for the remaining window
	waitFor(t, "reaper to re-arm", reaper.Armed)

	assert.Ok(t, store.DeleteMaintenance(context.Background(), stillThere))

	waitFor(t, "reaper to go idle", func() bool { return !reaper.Armed() })
}

func TestReaperRetriesAfterStorageError(t *testing.T) {
	reaper, store, mr := newTestReaper(t)
	reaper.retryDelay = 100 * time.Millisecond

	m := createEndingIn(t, store, -1*time.Second)

	mr.SetError("ERR simulated outage")

	stop := runReaper(t, reaper)
	defer stop()

	// armed for retry, not crashed or idle
	waitFor(t, "retry to be armed", reaper.Armed)

	mr.SetError("")

	waitFor(t, "window to expire", func() bool {
		return !mr.Exists(m.Key())
	})
}

func TestReaperSelfHealsCorruptWindow(t *testing.T) {
	reaper, store, mr := newTestReaper(t)

	good := createEndingIn(t, store, 200*time.Millisecond)

	corruptKey := amstate.MaintenanceKey(testUser, 99)
	mr.HSet(corruptKey, "user", testUser, "id", "99", "all", "maybe")
	_, _ = mr.ZAdd("maintenancesByEnd", 1, corruptKey)

	stop := runReaper(t, reaper)
	defer stop()

	waitFor(t, "both windows to be gone", func() bool {
		return !mr.Exists(corruptKey) && !mr.Exists(good.Key())
	})

	waitFor(t, "reaper to go idle", func() bool { return !reaper.Armed() })
}

func TestRescheduleDoesNotBlock(t *testing.T) {
	reaper, _, _ := newTestReaper(t)

	// nobody is consuming
	for i := 0; i < 10; i++ {
		reaper.Reschedule()
	}

	assert.Assert(t, len(reaper.reschedule) == 1)
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()
	reaper, store, _ := newTestReaper(t)

	expired := createEndingIn(t, store, -1*time.Minute)
	_ = createEndingIn(t, store, 1*time.Hour)

	reaped, err := reaper.ReapExpired(ctx, time.Now())
	assert.Ok(t, err)
	assert.Assert(t, reaped == 1)

	m, err := store.GetMaintenance(ctx, testUser, expired.Id)
	assert.Ok(t, err)
	assert.Assert(t, m == nil)

	reaped, err = reaper.ReapExpired(ctx, time.Now())
	assert.Ok(t, err)
	assert.Assert(t, reaped == 0)

	all, err := store.ListAllMaintenances(ctx)
	assert.Ok(t, err)
	assert.Assert(t, len(all) == 1)
}
