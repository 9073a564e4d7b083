package collector

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/safe"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// Resolver locates classes and functions in source. *source.Resolver
// implements it.
type Resolver interface {
	ResolveClass(ctx context.Context, isolateID, classID string) *snapshot.CodeLocation
	ResolveFunction(ctx context.Context, isolateID, functionID string) *snapshot.CodeLocation
}

// MemoryConfig holds configuration for heap collection.
type MemoryConfig struct {
	TopUserClasses      int  // User classes kept (default: 30)
	TopFrameworkClasses int  // Framework classes kept (default: 20)
	ForceGC             bool // Collect garbage before reading the profile
	Retention           RetentionConfig
}

func (c *MemoryConfig) setDefaults() {
	if c.TopUserClasses <= 0 {
		c.TopUserClasses = 30
	}
	if c.TopFrameworkClasses <= 0 {
		c.TopFrameworkClasses = 20
	}
}

// MemoryCollector ranks classes by live heap bytes.
type MemoryCollector struct {
	vm         vmservice.Client
	resolver   Resolver
	tracer     *RetentionTracer
	classifier *snapshot.Classifier
	config     MemoryConfig
	logger     zerolog.Logger
}

// NewMemoryCollector creates a memory collector. resolver may be nil, in
// which case enhancement only adds retention paths.
func NewMemoryCollector(vm vmservice.Client, resolver Resolver, classifier *snapshot.Classifier, config MemoryConfig, logger zerolog.Logger) *MemoryCollector {
	config.setDefaults()
	return &MemoryCollector{
		vm:         vm,
		resolver:   resolver,
		tracer:     NewRetentionTracer(vm, resolver, classifier, config.Retention, logger),
		classifier: classifier,
		config:     config,
		logger:     logger.With().Str("component", "memory_collector").Logger(),
	}
}

// Collect returns heap usage and the ranked classes: user classes by live
// bytes, then framework classes by live bytes.
func (m *MemoryCollector) Collect(ctx context.Context, isolateID string) (*snapshot.MemoryData, error) {
	profile, err := m.vm.GetAllocationProfile(ctx, isolateID, m.config.ForceGC)
	if err != nil {
		return nil, err
	}

	var user, framework []snapshot.AllocationSample
	for _, member := range profile.Members {
		name := member.Class.Name
		if member.InstancesCurrent <= 0 || snapshot.IsInternalClass(name) {
			continue
		}
		sample := m.classifier.NewAllocationSample(
			name,
			member.Class.LibraryURI(),
			member.Class.ID,
			member.InstancesCurrent,
			member.BytesCurrent,
			member.AccumulatedSize,
		)
		if sample.IsUserClass() {
			user = append(user, sample)
		} else {
			framework = append(framework, sample)
		}
	}

	sortByLiveBytes(user)
	sortByLiveBytes(framework)
	if len(user) > m.config.TopUserClasses {
		user = user[:m.config.TopUserClasses]
	}
	if len(framework) > m.config.TopFrameworkClasses {
		framework = framework[:m.config.TopFrameworkClasses]
	}

	m.logger.Debug().
		Int("classes", len(profile.Members)).
		Int("user", len(user)).
		Int("framework", len(framework)).
		Msg("Allocation profile collected")

	return &snapshot.MemoryData{
		HeapUsedBytes:     profile.MemoryUsage.HeapUsage,
		HeapCapacityBytes: profile.MemoryUsage.HeapCapacity,
		ExternalBytes:     profile.MemoryUsage.ExternalUsage,
		GCCount:           profile.GCCount(),
		Allocations:       append(user, framework...),
	}, nil
}

// Enhance resolves the source location and the retention path of one
// class in parallel. The input is never modified; fields that could not be
// resolved stay unset.
func (m *MemoryCollector) Enhance(ctx context.Context, isolateID string, sample snapshot.AllocationSample) snapshot.AllocationSample {
	out := sample.Clone()
	if sample.ClassID == "" {
		return out
	}

	var (
		wg        sync.WaitGroup
		location  *snapshot.CodeLocation
		retention *snapshot.RetentionInfo
	)

	if m.resolver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = safe.Run(m.logger, "resolve_class", func() error {
				location = m.resolver.ResolveClass(ctx, isolateID, sample.ClassID)
				return nil
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		var info *snapshot.RetentionInfo
		err := safe.Run(m.logger, "trace_retention", func() (err error) {
			info, err = m.tracer.Trace(ctx, isolateID, sample.ClassID)
			return err
		})
		if err != nil {
			ev := m.logger.Warn()
			if perrors.Soft(err) {
				ev = m.logger.Debug()
			}
			ev.Err(err).Str("class", sample.ClassName).Msg("Retention path not available")
			return
		}
		retention = info
	}()

	wg.Wait()

	if location != nil {
		out.Location = location
		if location.UsageContext != "" {
			out.UsageSites = append(out.UsageSites, snapshot.CodeLocation{
				FilePath: location.FilePath,
				Snippet:  location.UsageContext,
			})
		}
	}
	if retention != nil {
		out.Retention = retention
	}
	return out
}

// Tracer returns the retention tracer used by Enhance.
func (m *MemoryCollector) Tracer() *RetentionTracer {
	return m.tracer
}

func sortByLiveBytes(samples []snapshot.AllocationSample) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].LiveBytes != samples[j].LiveBytes {
			return samples[i].LiveBytes > samples[j].LiveBytes
		}
		if samples[i].InstanceCount != samples[j].InstanceCount {
			return samples[i].InstanceCount > samples[j].InstanceCount
		}
		return samples[i].ClassName < samples[j].ClassName
	})
}
