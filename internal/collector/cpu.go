// Package collector gathers CPU, memory and timeline data from a VM and
// assembles performance snapshots.
package collector

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// CPUConfig holds configuration for CPU sampling.
type CPUConfig struct {
	Window             time.Duration // Trailing window per collection (default: 10s)
	SamplePeriodMicros int           // VM profile_period (default: 250us)
	TopN               int           // Ranked functions kept (default: 20)
}

func (c *CPUConfig) setDefaults() {
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.SamplePeriodMicros <= 0 {
		c.SamplePeriodMicros = 250
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
}

// CPUCollector ranks functions by CPU samples.
type CPUCollector struct {
	vm         vmservice.Client
	classifier *snapshot.Classifier
	config     CPUConfig
	logger     zerolog.Logger

	enableMu sync.Mutex
	enabled  bool
}

// NewCPUCollector creates a CPU collector.
func NewCPUCollector(vm vmservice.Client, classifier *snapshot.Classifier, config CPUConfig, logger zerolog.Logger) *CPUCollector {
	config.setDefaults()
	return &CPUCollector{
		vm:         vm,
		classifier: classifier,
		config:     config,
		logger:     logger.With().Str("component", "cpu_collector").Logger(),
	}
}

// Enable sets the sampling period and clears earlier samples. Only the
// first successful call talks to the VM.
func (c *CPUCollector) Enable(ctx context.Context, isolateID string) error {
	c.enableMu.Lock()
	defer c.enableMu.Unlock()
	if c.enabled {
		return nil
	}

	if err := c.vm.SetFlag(ctx, "profile_period", strconv.Itoa(c.config.SamplePeriodMicros)); err != nil {
		// The flag cannot change once the profiler runs; sampling still works.
		c.logger.Warn().Err(err).Msg("Failed to set profile period")
	}
	if err := c.vm.ClearCPUSamples(ctx, isolateID); err != nil {
		return err
	}

	c.enabled = true
	c.logger.Debug().Int("period_us", c.config.SamplePeriodMicros).Msg("CPU sampling enabled")
	return nil
}

// Collect returns the CPU hotspots of the trailing window, or nil when the
// VM captured no samples.
func (c *CPUCollector) Collect(ctx context.Context, isolateID string) (*snapshot.CPUData, error) {
	origin, extent, err := trailingWindow(ctx, c.vm, c.config.Window)
	if err != nil {
		return nil, err
	}

	samples, err := c.vm.GetCPUSamples(ctx, isolateID, origin, extent)
	if err != nil {
		return nil, err
	}

	if len(samples.Samples) == 0 {
		c.logger.Info().
			Dur("window", c.config.Window).
			Msg("No CPU samples captured; the app may be idle, running in release mode or on a platform without the profiler")
		return nil, nil
	}

	return c.aggregate(samples), nil
}

// Aggregate ranks a raw sample batch without talking to the VM.
func (c *CPUCollector) Aggregate(samples *vmservice.CPUSamples) *snapshot.CPUData {
	if samples == nil || len(samples.Samples) == 0 {
		return nil
	}
	return c.aggregate(samples)
}

func (c *CPUCollector) aggregate(batch *vmservice.CPUSamples) *snapshot.CPUData {
	exclusive := make(map[int]int)
	inclusive := make(map[int]int)
	total := 0
	malformed := 0

	for _, sample := range batch.Samples {
		if len(sample.Stack) == 0 {
			continue
		}
		leaf := sample.Stack[0]
		if leaf < 0 || leaf >= len(batch.Functions) {
			malformed++
			continue
		}
		total++
		exclusive[leaf]++

		seen := make(map[int]struct{}, len(sample.Stack))
		for _, idx := range sample.Stack {
			if idx < 0 || idx >= len(batch.Functions) {
				malformed++
				continue
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			inclusive[idx]++
		}
	}

	if malformed > 0 {
		c.logger.Warn().
			Int("frames", malformed).
			Int("function_table", len(batch.Functions)).
			Msg("Skipped frames with out-of-range function index")
	}

	ranked := make([]snapshot.FunctionSample, 0, len(inclusive))
	for idx, incl := range inclusive {
		fn := batch.Functions[idx].Function
		sample := c.classifier.NewFunctionSample(fn.Name, ownerClass(&fn), libraryOf(batch.Functions[idx]), fn.ID)
		sample.ExclusiveTicks = exclusive[idx]
		sample.InclusiveTicks = incl
		if total > 0 {
			sample.Percentage = float64(sample.ExclusiveTicks) / float64(total) * 100
		}
		ranked = append(ranked, sample)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ExclusiveTicks != ranked[j].ExclusiveTicks {
			return ranked[i].ExclusiveTicks > ranked[j].ExclusiveTicks
		}
		if ranked[i].InclusiveTicks != ranked[j].InclusiveTicks {
			return ranked[i].InclusiveTicks > ranked[j].InclusiveTicks
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > c.config.TopN {
		ranked = ranked[:c.config.TopN]
	}

	return &snapshot.CPUData{
		SampleCount:        total,
		SamplePeriodMicros: batch.SamplePeriod,
		MaxStackDepth:      batch.MaxStackDepth,
		TotalCPUTimeMillis: float64(int64(total)*batch.SamplePeriod) / 1000,
		TopFunctions:       ranked,
	}
}

func ownerClass(fn *vmservice.Ref) string {
	if fn.Owner != nil && fn.Owner.BaseType() == vmservice.TypeClass {
		return fn.Owner.Name
	}
	// Closures are owned by their enclosing function.
	if fn.Owner != nil && fn.Owner.BaseType() == vmservice.TypeFunction {
		return ownerClass(fn.Owner)
	}
	return ""
}

func libraryOf(pf vmservice.ProfileFunction) string {
	if lib := pf.Function.LibraryURI(); lib != "" {
		return lib
	}
	return pf.ResolvedURL
}

// trailingWindow returns the VM-clock origin and extent of the last d.
func trailingWindow(ctx context.Context, vm vmservice.Client, d time.Duration) (int64, int64, error) {
	now, err := vm.GetVMTimelineMicros(ctx)
	if err != nil {
		return 0, 0, err
	}
	extent := d.Microseconds()
	origin := now - extent
	if origin < 0 {
		// The VM has been up for less than d.
		origin = 0
	}
	return origin, extent, nil
}
