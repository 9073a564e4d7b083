// Package snapshot defines the performance snapshot model shared by the
// collectors, the privacy stage and every consumer.
//
// Snapshots are values: enhancement and redaction produce new snapshots
// through the With* methods and never write into an existing one.
package snapshot

import (
	"time"

	"github.com/google/uuid"
)

// JankThresholdMicros is the 60 Hz frame budget. Frames taking longer are
// jank.
const JankThresholdMicros = 16_667

// DataSource tells whether timeline data was measured or synthesized.
type DataSource string

const (
	SourceReal      DataSource = "real"
	SourceSynthetic DataSource = "synthetic"
)

// Snapshot is one collection cycle.
type Snapshot struct {
	ID        uuid.UUID     `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	IsolateID string        `json:"isolate_id"`
	CPU       *CPUData      `json:"cpu,omitempty"`
	Memory    *MemoryData   `json:"memory,omitempty"`
	Timeline  *TimelineData `json:"timeline,omitempty"`
}

// New creates a snapshot for an isolate.
func New(isolateID string, at time.Time) *Snapshot {
	return &Snapshot{ID: uuid.New(), Timestamp: at, IsolateID: isolateID}
}

// WithCPU returns a copy of s carrying cpu.
func (s *Snapshot) WithCPU(cpu *CPUData) *Snapshot {
	c := *s
	c.CPU = cpu
	return &c
}

// WithMemory returns a copy of s carrying mem.
func (s *Snapshot) WithMemory(mem *MemoryData) *Snapshot {
	c := *s
	c.Memory = mem
	return &c
}

// WithTimeline returns a copy of s carrying tl.
func (s *Snapshot) WithTimeline(tl *TimelineData) *Snapshot {
	c := *s
	c.Timeline = tl
	return &c
}

// CodeLocation points at source. Line is nil when only the file is known.
type CodeLocation struct {
	FilePath     string `json:"file_path"`
	Line         *int   `json:"line,omitempty"`
	Name         string `json:"name,omitempty"`
	Snippet      string `json:"snippet,omitempty"`
	UsageContext string `json:"usage_context,omitempty"`
}

// Clone returns a deep copy.
func (l *CodeLocation) Clone() *CodeLocation {
	if l == nil {
		return nil
	}
	c := *l
	if l.Line != nil {
		line := *l.Line
		c.Line = &line
	}
	return &c
}

// LineOf returns a pointer to n for CodeLocation.Line.
func LineOf(n int) *int {
	return &n
}

// FunctionSample is one ranked CPU hotspot.
type FunctionSample struct {
	Name           string        `json:"name"`
	ClassName      string        `json:"class_name,omitempty"`
	Library        string        `json:"library,omitempty"`
	ExclusiveTicks int           `json:"exclusive_ticks"`
	InclusiveTicks int           `json:"inclusive_ticks"`
	Percentage     float64       `json:"percentage"`
	Location       *CodeLocation `json:"location,omitempty"`
	FunctionID     string        `json:"function_id,omitempty"`
	UserCode       bool          `json:"user_code"`
}

// IsUserCode reports the classification made when the sample was built.
func (f FunctionSample) IsUserCode() bool {
	return f.UserCode
}

// CPUData is the CPU section of a snapshot.
type CPUData struct {
	SampleCount        int              `json:"sample_count"`
	SamplePeriodMicros int64            `json:"sample_period_us"`
	MaxStackDepth      int              `json:"max_stack_depth"`
	TotalCPUTimeMillis float64          `json:"total_cpu_time_ms"`
	TopFunctions       []FunctionSample `json:"top_functions"`
}

// Clone returns a copy whose function list can be modified independently.
func (d *CPUData) Clone() *CPUData {
	if d == nil {
		return nil
	}
	c := *d
	c.TopFunctions = make([]FunctionSample, len(d.TopFunctions))
	for i, fn := range d.TopFunctions {
		fn.Location = fn.Location.Clone()
		c.TopFunctions[i] = fn
	}
	return &c
}

// RetentionStep is one link between a retained object and its root.
type RetentionStep struct {
	Description string        `json:"description"`
	FieldLabel  string        `json:"field_label,omitempty"`
	ClassName   string        `json:"class_name,omitempty"`
	Location    *CodeLocation `json:"location,omitempty"`
	IsGCRoot    bool          `json:"is_gc_root"`
	UserCode    bool          `json:"user_code"`
}

// Labels for retaining path elements that are not plain objects.
const (
	LabelClosureContext = "Closure Context"
	LabelSentinel       = "Sentinel"
)

// IsProtocolLabel reports whether a step label names a VM object kind
// rather than a program identifier.
func IsProtocolLabel(label string) bool {
	switch label {
	case LabelClosureContext, LabelSentinel, "Instance", "Object", "":
		return true
	}
	_, ok := internalTypes[label]
	return ok
}

// Root type tags assigned by the retention classifier.
const (
	RootWidgetTree  = "Widget Tree"
	RootStaticField = "Static Field"
	RootIsolate     = "Isolate/Process Root"
)

// RetentionInfo explains why instances of a class stay alive. Steps run
// from the object outwards and end with the GC root step.
type RetentionInfo struct {
	ClassName string          `json:"class_name"`
	Steps     []RetentionStep `json:"steps"`
	RootType  string          `json:"root_type"`
	// RemoteRootType is the root kind reported by the VM, if any.
	RemoteRootType string `json:"remote_root_type,omitempty"`
}

// Clone returns a deep copy.
func (r *RetentionInfo) Clone() *RetentionInfo {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = make([]RetentionStep, len(r.Steps))
	for i, s := range r.Steps {
		s.Location = s.Location.Clone()
		c.Steps[i] = s
	}
	return &c
}

// AllocationSample is the heap footprint of one class.
type AllocationSample struct {
	ClassName        string         `json:"class_name"`
	Library          string         `json:"library,omitempty"`
	InstanceCount    int64          `json:"instance_count"`
	LiveBytes        int64          `json:"live_bytes"`
	AccumulatedBytes int64          `json:"accumulated_bytes"`
	ClassID          string         `json:"class_id,omitempty"`
	Location         *CodeLocation  `json:"location,omitempty"`
	Retention        *RetentionInfo `json:"retention,omitempty"`
	UsageSites       []CodeLocation `json:"usage_sites,omitempty"`
	UserClass        bool           `json:"user_class"`
}

// IsUserClass reports the classification made when the sample was built.
func (a AllocationSample) IsUserClass() bool {
	return a.UserClass
}

// Clone returns a deep copy.
func (a AllocationSample) Clone() AllocationSample {
	a.Location = a.Location.Clone()
	a.Retention = a.Retention.Clone()
	if a.UsageSites != nil {
		sites := make([]CodeLocation, len(a.UsageSites))
		for i := range a.UsageSites {
			sites[i] = *a.UsageSites[i].Clone()
		}
		a.UsageSites = sites
	}
	return a
}

// MemoryData is the memory section of a snapshot. Allocations list user
// classes first, then framework classes.
type MemoryData struct {
	HeapUsedBytes     int64              `json:"heap_used_bytes"`
	HeapCapacityBytes int64              `json:"heap_capacity_bytes"`
	ExternalBytes     int64              `json:"external_bytes"`
	GCCount           int64              `json:"gc_count"`
	Allocations       []AllocationSample `json:"allocations"`
}

// Clone returns a deep copy.
func (d *MemoryData) Clone() *MemoryData {
	if d == nil {
		return nil
	}
	c := *d
	c.Allocations = make([]AllocationSample, len(d.Allocations))
	for i, a := range d.Allocations {
		c.Allocations[i] = a.Clone()
	}
	return &c
}

// FrameTiming is one rendered frame.
type FrameTiming struct {
	BuildMicros  int64 `json:"build_us"`
	RasterMicros int64 `json:"raster_us"`
	TotalMicros  int64 `json:"total_us"`
	Jank         bool  `json:"jank"`
}

// NewFrameTiming builds a frame and flags jank.
func NewFrameTiming(build, raster, total int64) FrameTiming {
	return FrameTiming{
		BuildMicros:  build,
		RasterMicros: raster,
		TotalMicros:  total,
		Jank:         IsJank(total),
	}
}

// IsJank reports whether a frame of totalMicros misses the frame budget.
func IsJank(totalMicros int64) bool {
	return totalMicros > JankThresholdMicros
}

// Event categories for slow timeline events.
const (
	CategoryBuild  = "build"
	CategoryLayout = "layout"
	CategoryPaint  = "paint"
	CategoryRaster = "raster"
	CategoryGC     = "gc"
	CategoryImage  = "image"
	CategoryOther  = "other"
)

// SlowEvent is a timeline event that exceeded the slow threshold.
type SlowEvent struct {
	Name            string         `json:"name"`
	DurationMicros  int64          `json:"duration_us"`
	TimestampMicros int64          `json:"timestamp_us"`
	Category        string         `json:"category"`
	Args            map[string]any `json:"args,omitempty"`
}

// TimelineData is the timeline section of a snapshot.
type TimelineData struct {
	Frames         []FrameTiming `json:"frames"`
	TotalFrames    int           `json:"total_frames"`
	JankFrames     int           `json:"jank_frames"`
	AvgFrameMillis float64       `json:"avg_frame_ms"`
	P95FrameMillis float64       `json:"p95_frame_ms"`
	P99FrameMillis float64       `json:"p99_frame_ms"`
	SlowEvents     []SlowEvent   `json:"slow_events"`
	Source         DataSource    `json:"source"`
}

// Synthetic reports whether the data is a placeholder.
func (d *TimelineData) Synthetic() bool {
	return d != nil && d.Source == SourceSynthetic
}

// Clone returns a deep copy.
func (d *TimelineData) Clone() *TimelineData {
	if d == nil {
		return nil
	}
	c := *d
	c.Frames = append([]FrameTiming(nil), d.Frames...)
	c.SlowEvents = make([]SlowEvent, len(d.SlowEvents))
	for i, ev := range d.SlowEvents {
		if ev.Args != nil {
			args := make(map[string]any, len(ev.Args))
			for k, v := range ev.Args {
				args[k] = v
			}
			ev.Args = args
		}
		c.SlowEvents[i] = ev
	}
	return &c
}
