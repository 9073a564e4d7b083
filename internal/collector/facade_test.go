package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/testutil"
	"github.com/coral-mesh/vmlens/internal/vmservice"
	"github.com/coral-mesh/vmlens/internal/vmservice/vmservicetest"
)

func newFacade(t *testing.T, vm vmservice.Client, resolver Resolver) *Facade {
	t.Helper()
	return NewFacade(vm, resolver, nil, Config{}, testutil.NewTestLogger(t))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	t.Cleanup(cancel)
	return ctx
}

func populatedFake() *vmservicetest.Fake {
	vm := retentionFixture()
	vm.NowMicros = 20_000_000
	vm.CPUSamples = stacks(250, shopFunctions(), []int{0}, []int{0, 1}, []int{2})
	vm.AllocationProfile = &vmservice.AllocationProfile{Members: []vmservice.ClassHeapStats{
		heapStats(classRef("classes/2", "OrderItem", "package:shop/models/order.dart"), 1200, 600_000),
	}}
	vm.Timeline = &vmservice.Timeline{TraceEvents: []vmservice.TraceEvent{complete("VSYNC", 19_000_000, 20_000)}}
	return vm
}

func TestFacade_InitializePicksMain(t *testing.T) {
	vm := vmservicetest.New()
	vm.VM.Isolates = []vmservice.IsolateRef{
		{ID: "isolates/7", Name: "worker"},
		{ID: "isolates/9", Name: "main"},
	}
	f := newFacade(t, vm, nil)

	require.NoError(t, f.Initialize(context.Background()))
	require.NoError(t, f.Initialize(context.Background()))
	assert.Equal(t, "isolates/9", f.IsolateID())
	assert.Equal(t, 1, vm.Calls("getVM"))
	assert.Equal(t, 1, vm.Calls("setVMTimelineFlags"))
}

func TestFacade_InitializeFallsBackToFirstIsolate(t *testing.T) {
	vm := vmservicetest.New()
	vm.VM.Isolates = []vmservice.IsolateRef{{ID: "isolates/7", Name: "worker"}, {ID: "isolates/8", Name: "other"}}
	f := newFacade(t, vm, nil)

	require.NoError(t, f.Initialize(context.Background()))
	assert.Equal(t, "isolates/7", f.IsolateID())
}

func TestFacade_InitializeWithoutIsolates(t *testing.T) {
	vm := vmservicetest.New()
	vm.VM.Isolates = nil
	f := newFacade(t, vm, nil)

	err := f.Initialize(context.Background())
	assert.True(t, perrors.Is(err, perrors.KindUnavailable), "got %v", err)
	assert.Empty(t, f.IsolateID())

	_, err = f.CollectSnapshot(context.Background())
	assert.True(t, perrors.Is(err, perrors.KindUnavailable))
}

func TestFacade_EnableFailureIsNotFatal(t *testing.T) {
	vm := vmservicetest.New()
	vm.SetError("setVMTimelineFlags", errors.New("stream unavailable"))
	vm.SetError("clearCpuSamples", errors.New("profiler disabled"))

	f := newFacade(t, vm, nil)
	require.NoError(t, f.Initialize(context.Background()))
	assert.Equal(t, "isolates/1", f.IsolateID())
}

func TestFacade_CollectSnapshot(t *testing.T) {
	vm := populatedFake()
	f := newFacade(t, vm, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return at }

	snap, err := f.CollectSnapshot(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, "isolates/1", snap.IsolateID)
	assert.Equal(t, at, snap.Timestamp)
	assert.NotEmpty(t, snap.ID)
	require.NotNil(t, snap.CPU)
	assert.Equal(t, 3, snap.CPU.SampleCount)
	require.NotNil(t, snap.Memory)
	assert.Equal(t, "OrderItem", snap.Memory.Allocations[0].ClassName)
	require.NotNil(t, snap.Timeline)
	assert.Equal(t, 1, snap.Timeline.JankFrames)
}

func TestFacade_FailingCollectorLeavesSectionNil(t *testing.T) {
	vm := populatedFake()
	vm.SetError("getAllocationProfile", perrors.Newf(perrors.KindUnavailable, "getAllocationProfile", "heap busy"))
	f := newFacade(t, vm, nil)

	snap, err := f.CollectSnapshot(testContext(t))
	require.NoError(t, err)
	assert.Nil(t, snap.Memory)
	assert.NotNil(t, snap.CPU)
	assert.NotNil(t, snap.Timeline)
}

func TestFacade_CollectorTimeout(t *testing.T) {
	vm := populatedFake()
	vm.Block["getVMTimeline"] = true
	f := newFacade(t, vm, nil)
	require.NoError(t, f.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snap, err := f.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Timeline)
	assert.NotNil(t, snap.CPU)
}

type panickingResolver struct{}

func (panickingResolver) ResolveClass(context.Context, string, string) *snapshot.CodeLocation {
	panic("resolver bug")
}

func (panickingResolver) ResolveFunction(context.Context, string, string) *snapshot.CodeLocation {
	panic("resolver bug")
}

func TestFacade_EnhanceClass(t *testing.T) {
	vm := populatedFake()
	resolver := &stubResolver{classes: map[string]*snapshot.CodeLocation{
		"classes/2": {FilePath: "lib/models/order.dart", Line: snapshot.LineOf(3)},
	}}
	f := newFacade(t, vm, resolver)
	ctx := testContext(t)

	sample := snapshot.AllocationSample{ClassName: "OrderItem", ClassID: "classes/2", UserClass: true}
	assert.Equal(t, sample, f.EnhanceClass(ctx, sample), "uninitialized facade returns the input")

	require.NoError(t, f.Initialize(ctx))
	out := f.EnhanceClass(ctx, sample)
	require.NotNil(t, out.Location)
	assert.Equal(t, "lib/models/order.dart", out.Location.FilePath)
	assert.NotNil(t, out.Retention)
}

func TestFacade_EnhanceClassRecoversPanics(t *testing.T) {
	vm := populatedFake()
	f := newFacade(t, vm, panickingResolver{})
	ctx := testContext(t)
	require.NoError(t, f.Initialize(ctx))

	sample := snapshot.AllocationSample{ClassName: "OrderItem", ClassID: "classes/2"}
	assert.Equal(t, sample, f.EnhanceClass(ctx, sample))
}

type countingResolver struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
	release chan struct{}
}

func (r *countingResolver) ResolveClass(context.Context, string, string) *snapshot.CodeLocation {
	return nil
}

func (r *countingResolver) ResolveFunction(_ context.Context, _, functionID string) *snapshot.CodeLocation {
	r.mu.Lock()
	r.active++
	r.calls++
	r.peak = max(r.peak, r.active)
	r.mu.Unlock()

	<-r.release

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return &snapshot.CodeLocation{FilePath: "lib/" + functionID + ".dart", Line: snapshot.LineOf(1)}
}

func TestFacade_EnhanceFunctions(t *testing.T) {
	vm := populatedFake()
	resolver := &countingResolver{release: make(chan struct{})}
	f := NewFacade(vm, resolver, nil, Config{EnhanceParallelism: 2}, testutil.NewTestLogger(t))
	ctx := testContext(t)
	require.NoError(t, f.Initialize(ctx))

	cpu := &snapshot.CPUData{SampleCount: 6}
	for i := 0; i < 6; i++ {
		cpu.TopFunctions = append(cpu.TopFunctions, snapshot.FunctionSample{Name: "fn", FunctionID: "f" + string(rune('0'+i))})
	}
	cpu.TopFunctions = append(cpu.TopFunctions, snapshot.FunctionSample{Name: "native"})

	go func() {
		for i := 0; i < 6; i++ {
			resolver.release <- struct{}{}
		}
	}()
	out := f.EnhanceFunctions(ctx, cpu)

	assert.Equal(t, 6, resolver.calls)
	assert.LessOrEqual(t, resolver.peak, 2)
	for i := 0; i < 6; i++ {
		require.NotNil(t, out.TopFunctions[i].Location)
		assert.Equal(t, "lib/f"+string(rune('0'+i))+".dart", out.TopFunctions[i].Location.FilePath)
		assert.Nil(t, cpu.TopFunctions[i].Location, "input must not be modified")
	}
	assert.Nil(t, out.TopFunctions[6].Location, "functions without an id are skipped")
}

func TestFacade_TraceRetention(t *testing.T) {
	vm := populatedFake()
	f := newFacade(t, vm, nil)
	ctx := testContext(t)

	_, err := f.TraceRetention(ctx, "classes/2")
	assert.True(t, perrors.Is(err, perrors.KindUnavailable))

	require.NoError(t, f.Initialize(ctx))
	info, err := f.TraceRetention(ctx, "classes/2")
	require.NoError(t, err)
	assert.Equal(t, snapshot.RootWidgetTree, info.RootType)
}

func TestFacade_RawCPUSamples(t *testing.T) {
	vm := populatedFake()
	f := newFacade(t, vm, nil)

	batch, err := f.RawCPUSamples(testContext(t))
	require.NoError(t, err)
	assert.Len(t, batch.Samples, 3)
	assert.Equal(t, []any{"isolates/1", int64(10_000_000), int64(10_000_000)}, vm.Args("getCpuSamples"))
}

func TestSelection_Staleness(t *testing.T) {
	vm := populatedFake()
	f := newFacade(t, vm, nil)
	ctx := testContext(t)
	require.NoError(t, f.Initialize(ctx))

	sample := snapshot.AllocationSample{ClassName: "OrderItem", ClassID: "classes/2"}

	first := f.BeginSelection()
	second := f.BeginSelection()
	assert.False(t, f.Current(first))
	assert.True(t, f.Current(second))

	_, ok := f.EnhanceSelectedClass(ctx, first, sample)
	assert.False(t, ok, "superseded selection is dropped")

	out, ok := f.EnhanceSelectedClass(ctx, second, sample)
	assert.True(t, ok)
	assert.NotNil(t, out.Retention)

	_, err := f.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, f.Current(second), "a new snapshot invalidates the selection")
}
