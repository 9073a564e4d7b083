package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/safe"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// Config groups the collector settings.
type Config struct {
	CPU      CPUConfig
	Memory   MemoryConfig
	Timeline TimelineConfig
	// EnhanceParallelism bounds concurrent enhancement lookups (default: 4).
	EnhanceParallelism int
}

// Facade runs the collectors against one isolate and hands out snapshots.
type Facade struct {
	vm       vmservice.Client
	resolver Resolver
	cpu      *CPUCollector
	memory   *MemoryCollector
	timeline *TimelineCollector
	config   Config
	logger   zerolog.Logger

	initMu    sync.Mutex
	isolateID string

	// version is bumped by every selection and snapshot; see selection.go.
	version atomic.Uint64

	now func() time.Time
}

// NewFacade creates a facade. resolver may be nil.
func NewFacade(vm vmservice.Client, resolver Resolver, classifier *snapshot.Classifier, config Config, logger zerolog.Logger) *Facade {
	if config.EnhanceParallelism <= 0 {
		config.EnhanceParallelism = 4
	}
	if classifier == nil {
		classifier = snapshot.NewClassifier(nil, nil)
	}
	return &Facade{
		vm:       vm,
		resolver: resolver,
		cpu:      NewCPUCollector(vm, classifier, config.CPU, logger),
		memory:   NewMemoryCollector(vm, resolver, classifier, config.Memory, logger),
		timeline: NewTimelineCollector(vm, config.Timeline, logger),
		config:   config,
		logger:   logger.With().Str("component", "collector").Logger(),
		now:      time.Now,
	}
}

// Initialize selects the isolate named main, or the first one, and enables
// CPU sampling and timeline recording. Later calls are no-ops.
func (f *Facade) Initialize(ctx context.Context) error {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.isolateID != "" {
		return nil
	}

	vm, err := f.vm.GetVM(ctx)
	if err != nil {
		return perrors.New(perrors.KindUnavailable, "initialize", err)
	}

	isolate, ok := pickIsolate(vm.Isolates)
	if !ok {
		return perrors.Newf(perrors.KindUnavailable, "initialize", "VM %q has no isolates", vm.Name)
	}

	if err := f.cpu.Enable(ctx, isolate.ID); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to enable CPU sampling")
	}
	if err := f.timeline.Enable(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to enable timeline recording")
	}

	f.isolateID = isolate.ID
	f.logger.Info().
		Str("isolate", isolate.ID).
		Str("name", isolate.Name).
		Int("pid", vm.PID).
		Msg("Collector initialized")
	return nil
}

func pickIsolate(isolates []vmservice.IsolateRef) (vmservice.IsolateRef, bool) {
	for _, iso := range isolates {
		if iso.Name == vmservice.MainIsolateName {
			return iso, true
		}
	}
	if len(isolates) > 0 {
		return isolates[0], true
	}
	return vmservice.IsolateRef{}, false
}

// IsolateID returns the selected isolate, or "" before Initialize.
func (f *Facade) IsolateID() string {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	return f.isolateID
}

// CollectSnapshot runs the three collectors concurrently. A collector that
// fails or panics leaves its section nil; only a failed initialization
// fails the call.
func (f *Facade) CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := f.Initialize(ctx); err != nil {
		return nil, err
	}
	f.version.Add(1)
	isolateID := f.IsolateID()

	var (
		wg       sync.WaitGroup
		cpu      *snapshot.CPUData
		memory   *snapshot.MemoryData
		timeline *snapshot.TimelineData
	)

	run := func(name string, fn func() error) {
		defer wg.Done()
		start := time.Now()
		if err := safe.Run(f.logger, name, fn); err != nil {
			ev := f.logger.Warn()
			if perrors.Soft(err) {
				ev = f.logger.Debug()
			}
			ev.Err(err).Str("collector", name).Msg("Collector failed; section left empty")
			return
		}
		f.logger.Debug().Str("collector", name).Dur("took", time.Since(start)).Msg("Collector finished")
	}

	wg.Add(3)
	go run("cpu", func() (err error) {
		cpu, err = f.cpu.Collect(ctx, isolateID)
		return err
	})
	go run("memory", func() (err error) {
		memory, err = f.memory.Collect(ctx, isolateID)
		return err
	})
	go run("timeline", func() (err error) {
		timeline, err = f.timeline.Collect(ctx)
		return err
	})
	wg.Wait()

	return snapshot.New(isolateID, f.now()).
		WithCPU(cpu).
		WithMemory(memory).
		WithTimeline(timeline), nil
}

// EnhanceClass adds the source location and retention path of one class.
// On any failure the sample comes back unenhanced.
func (f *Facade) EnhanceClass(ctx context.Context, sample snapshot.AllocationSample) snapshot.AllocationSample {
	isolateID := f.IsolateID()
	if isolateID == "" {
		return sample
	}

	var out snapshot.AllocationSample
	err := safe.Run(f.logger, "enhance_class", func() error {
		out = f.memory.Enhance(ctx, isolateID, sample)
		return nil
	})
	if err != nil {
		return sample
	}
	return out
}

// EnhanceFunctions resolves source locations for the ranked functions,
// bounded by EnhanceParallelism. The input is not modified.
func (f *Facade) EnhanceFunctions(ctx context.Context, cpu *snapshot.CPUData) *snapshot.CPUData {
	if cpu == nil {
		return nil
	}
	out := cpu.Clone()
	isolateID := f.IsolateID()
	if f.resolver == nil || isolateID == "" {
		return out
	}

	sem := make(chan struct{}, f.config.EnhanceParallelism)
	var wg sync.WaitGroup
	for i := range out.TopFunctions {
		fn := &out.TopFunctions[i]
		if fn.FunctionID == "" || fn.Location != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			_ = safe.Run(f.logger, "enhance_function", func() error {
				fn.Location = f.resolver.ResolveFunction(ctx, isolateID, fn.FunctionID)
				return nil
			})
		}()
	}
	wg.Wait()
	return out
}

// TraceRetention returns the retention path of a class.
func (f *Facade) TraceRetention(ctx context.Context, classID string) (*snapshot.RetentionInfo, error) {
	isolateID := f.IsolateID()
	if isolateID == "" {
		return nil, perrors.Newf(perrors.KindUnavailable, "trace retention", "collector not initialized")
	}
	return f.memory.Tracer().Trace(ctx, isolateID, classID)
}

// RawCPUSamples returns the unaggregated samples of the CPU window, for
// export.
func (f *Facade) RawCPUSamples(ctx context.Context) (*vmservice.CPUSamples, error) {
	if err := f.Initialize(ctx); err != nil {
		return nil, err
	}
	origin, extent, err := trailingWindow(ctx, f.vm, f.cpu.config.Window)
	if err != nil {
		return nil, err
	}
	return f.vm.GetCPUSamples(ctx, f.IsolateID(), origin, extent)
}
