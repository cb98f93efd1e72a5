package syncmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Track_AddsDirectory(t *testing.T) {
	m := New(func(ctx context.Context, dir string) error { return nil }, time.Hour)

	m.Track("/a")
	m.Track("/b")

	assert.ElementsMatch(t, []string{"/a", "/b"}, m.TrackedDirs())
}

func TestManager_Untrack_RemovesDirectory(t *testing.T) {
	m := New(func(ctx context.Context, dir string) error { return nil }, time.Hour)

	m.Track("/a")
	m.Track("/b")
	m.Untrack("/a")

	assert.Equal(t, []string{"/b"}, m.TrackedDirs())
}

func TestManager_SyncNow_RunsImmediately(t *testing.T) {
	var calls atomic.Int32
	m := New(func(ctx context.Context, dir string) error {
		calls.Add(1)
		return nil
	}, time.Hour)

	m.Track("/a")
	m.Start(context.Background())
	defer m.Stop()

	m.SyncNow()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestManager_Tick_CoversAllTrackedDirs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	m := New(func(ctx context.Context, dir string) error {
		mu.Lock()
		seen[dir] = true
		mu.Unlock()
		return nil
	}, time.Hour)

	m.Track("/a")
	m.Track("/b")
	m.Track("/c")
	m.Start(context.Background())
	defer m.Stop()

	m.SyncNow()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)
}

func TestManager_Tick_OneFailureDoesNotStopOthers(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	m := New(func(ctx context.Context, dir string) error {
		if dir == "/bad" {
			return assertError{"boom"}
		}
		mu.Lock()
		seen[dir] = true
		mu.Unlock()
		return nil
	}, time.Hour)

	m.Track("/bad")
	m.Track("/good")
	m.Start(context.Background())
	defer m.Stop()

	m.SyncNow()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["/good"]
	}, time.Second, time.Millisecond)
}

func TestManager_Stop_WhenNeverStarted(t *testing.T) {
	m := New(func(ctx context.Context, dir string) error { return nil }, time.Hour)
	m.Stop()
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
