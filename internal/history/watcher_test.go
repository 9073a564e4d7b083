package history

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/testutil"
)

type stubSource struct {
	calls atomic.Int32
	err   error
}

func (s *stubSource) CollectSnapshot(context.Context) (*snapshot.Snapshot, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	snap := snapshot.New("isolates/7", time.Now().UTC())
	snap = snap.WithCPU(&snapshot.CPUData{
		SampleCount: 50,
		TopFunctions: []snapshot.FunctionSample{{
			Name:       "checkout",
			ClassName:  "Cart",
			Library:    "package:shop/cart.dart",
			Percentage: 60,
			UserCode:   true,
			Location:   &snapshot.CodeLocation{FilePath: "/Users/alice/shop/lib/cart.dart", Line: snapshot.LineOf(12)},
		}},
	})
	return snap.WithMemory(&snapshot.MemoryData{HeapUsedBytes: 8 << 20}), nil
}

func TestWatcher_CollectAndStore(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	store := newTestStore(t)

	w := NewWatcher(&stubSource{}, privacy.NewRedactorWithSalt("salt"), store, WatchConfig{}, testutil.NewTestLogger(t))
	var seen []Record
	w.OnRecord = func(r Record) { seen = append(seen, r) }

	require.NoError(t, w.CollectAndStore(ctx))
	require.Len(t, seen, 1)

	records, err := store.Recent(ctx, Filter{IsolateID: "isolates/7"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, privacy.LevelMaximum, records[0].Level)
	assert.Equal(t, 8.0, records[0].HeapUsedMB)
	require.NotNil(t, records[0].Summary.CPU)
	require.Len(t, records[0].Summary.CPU.AppFunctions, 1)
	assert.NotContains(t, records[0].Summary.CPU.AppFunctions[0].File, "alice", "absolute paths never reach storage")
}

func TestWatcher_CollectError(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	store := newTestStore(t)

	w := NewWatcher(&stubSource{err: errors.New("vm gone")}, privacy.NewRedactorWithSalt("salt"), store, WatchConfig{}, testutil.NewTestLoggerWithOutput(t))
	assert.ErrorContains(t, w.CollectAndStore(ctx), "vm gone")

	records, err := store.Recent(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWatcher_RunUntilCancelled(t *testing.T) {
	parent, cancelParent := testutil.NewTestContext()
	defer cancelParent()
	ctx, cancel := context.WithCancel(parent)
	store := newTestStore(t)

	src := &stubSource{}
	w := NewWatcher(src, privacy.NewRedactorWithSalt("salt"), store, WatchConfig{Interval: 10 * time.Millisecond}, testutil.NewTestLogger(t))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
