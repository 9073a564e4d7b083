package privacy

import (
	"time"

	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// Summary limits.
const (
	MaxAppFunctions       = 10
	MaxFrameworkFunctions = 5
	MaxAppClasses         = 10
	MaxFrameworkClasses   = 5
	MaxSlowEvents         = 10
	MaxRetentionSteps     = 8
)

// Summary is the compact projection of a snapshot handed to advisors and
// tool clients.
type Summary struct {
	Level     Level            `json:"privacy_level,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	CPU       *CPUSummary      `json:"cpu,omitempty"`
	Memory    *MemorySummary   `json:"memory,omitempty"`
	Timeline  *TimelineSummary `json:"timeline,omitempty"`
}

type CPUSummary struct {
	SampleCount        int             `json:"sample_count"`
	TotalCPUTimeMillis float64         `json:"total_cpu_time_ms"`
	AppFunctions       []FunctionEntry `json:"app_functions"`
	FrameworkFunctions []FunctionEntry `json:"framework_functions"`
}

type FunctionEntry struct {
	Name           string  `json:"name"`
	ClassName      string  `json:"class_name,omitempty"`
	Percentage     float64 `json:"percentage"`
	ExclusiveTicks int     `json:"exclusive_ticks"`
	InclusiveTicks int     `json:"inclusive_ticks"`
	File           string  `json:"file,omitempty"`
	Line           int     `json:"line,omitempty"`
}

type MemorySummary struct {
	HeapUsedMB       float64      `json:"heap_used_mb"`
	HeapCapacityMB   float64      `json:"heap_capacity_mb"`
	ExternalMB       float64      `json:"external_mb"`
	GCCount          int64        `json:"gc_count"`
	AppClasses       []ClassEntry `json:"app_classes"`
	FrameworkClasses []ClassEntry `json:"framework_classes"`
}

type ClassEntry struct {
	Name          string   `json:"name"`
	Instances     int64    `json:"instances"`
	LiveKB        float64  `json:"live_kb"`
	File          string   `json:"file,omitempty"`
	Line          int      `json:"line,omitempty"`
	UsageContext  string   `json:"usage_context,omitempty"`
	RetentionRoot string   `json:"retention_root,omitempty"`
	RetentionPath []string `json:"retention_path,omitempty"`
}

type TimelineSummary struct {
	TotalFrames    int          `json:"total_frames"`
	JankFrames     int          `json:"jank_frames"`
	JankPercent    float64      `json:"jank_percent"`
	AvgFrameMillis float64      `json:"avg_frame_ms"`
	P95FrameMillis float64      `json:"p95_frame_ms"`
	P99FrameMillis float64      `json:"p99_frame_ms"`
	Synthetic      bool         `json:"synthetic"`
	SlowEvents     []EventEntry `json:"slow_events"`
}

type EventEntry struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	DurationMillis float64 `json:"duration_ms"`
}

// Summary redacts snap at level and summarizes the result.
func (r *Redactor) Summary(snap *snapshot.Snapshot, level Level) Summary {
	s := Summarize(r.Redact(snap, level))
	s.Level = level
	return s
}

// Summarize projects snap into a Summary. It does not redact; callers
// pass a snapshot that went through Redact first.
func Summarize(snap *snapshot.Snapshot) Summary {
	if snap == nil {
		return Summary{}
	}
	return Summary{
		Timestamp: snap.Timestamp,
		CPU:       summarizeCPU(snap.CPU),
		Memory:    summarizeMemory(snap.Memory),
		Timeline:  summarizeTimeline(snap.Timeline),
	}
}

func summarizeCPU(cpu *snapshot.CPUData) *CPUSummary {
	if cpu == nil {
		return nil
	}
	out := &CPUSummary{
		SampleCount:        cpu.SampleCount,
		TotalCPUTimeMillis: cpu.TotalCPUTimeMillis,
		AppFunctions:       []FunctionEntry{},
		FrameworkFunctions: []FunctionEntry{},
	}
	for _, fn := range cpu.TopFunctions {
		if fn.IsUserCode() {
			if len(out.AppFunctions) < MaxAppFunctions {
				out.AppFunctions = append(out.AppFunctions, SummarizeFunction(fn))
			}
		} else if len(out.FrameworkFunctions) < MaxFrameworkFunctions {
			out.FrameworkFunctions = append(out.FrameworkFunctions, SummarizeFunction(fn))
		}
	}
	return out
}

// SummarizeFunction projects one function sample.
func SummarizeFunction(fn snapshot.FunctionSample) FunctionEntry {
	e := FunctionEntry{
		Name:           fn.Name,
		ClassName:      fn.ClassName,
		Percentage:     fn.Percentage,
		ExclusiveTicks: fn.ExclusiveTicks,
		InclusiveTicks: fn.InclusiveTicks,
	}
	if fn.Location != nil {
		e.File = fn.Location.FilePath
		if fn.Location.Line != nil {
			e.Line = *fn.Location.Line
		}
	}
	return e
}

func summarizeMemory(mem *snapshot.MemoryData) *MemorySummary {
	if mem == nil {
		return nil
	}
	out := &MemorySummary{
		HeapUsedMB:       megabytes(mem.HeapUsedBytes),
		HeapCapacityMB:   megabytes(mem.HeapCapacityBytes),
		ExternalMB:       megabytes(mem.ExternalBytes),
		GCCount:          mem.GCCount,
		AppClasses:       []ClassEntry{},
		FrameworkClasses: []ClassEntry{},
	}
	for _, a := range mem.Allocations {
		if a.IsUserClass() {
			if len(out.AppClasses) < MaxAppClasses {
				out.AppClasses = append(out.AppClasses, SummarizeClass(a))
			}
		} else if len(out.FrameworkClasses) < MaxFrameworkClasses {
			out.FrameworkClasses = append(out.FrameworkClasses, SummarizeClass(a))
		}
	}
	return out
}

// SummarizeClass projects one allocation sample, including its retention
// path when it was enhanced.
func SummarizeClass(a snapshot.AllocationSample) ClassEntry {
	e := ClassEntry{
		Name:      a.ClassName,
		Instances: a.InstanceCount,
		LiveKB:    float64(a.LiveBytes) / 1024,
	}
	if a.Location != nil {
		e.File = a.Location.FilePath
		if a.Location.Line != nil {
			e.Line = *a.Location.Line
		}
		e.UsageContext = a.Location.UsageContext
	}
	if a.Retention != nil {
		e.RetentionRoot = a.Retention.RootType
		for i, step := range a.Retention.Steps {
			if i == MaxRetentionSteps && i < len(a.Retention.Steps)-1 {
				// Keep the root visible after truncation.
				e.RetentionPath = append(e.RetentionPath, "...", a.Retention.Steps[len(a.Retention.Steps)-1].Description)
				break
			}
			e.RetentionPath = append(e.RetentionPath, step.Description)
		}
	}
	return e
}

func summarizeTimeline(tl *snapshot.TimelineData) *TimelineSummary {
	if tl == nil {
		return nil
	}
	out := &TimelineSummary{
		TotalFrames:    tl.TotalFrames,
		JankFrames:     tl.JankFrames,
		AvgFrameMillis: tl.AvgFrameMillis,
		P95FrameMillis: tl.P95FrameMillis,
		P99FrameMillis: tl.P99FrameMillis,
		Synthetic:      tl.Synthetic(),
		SlowEvents:     []EventEntry{},
	}
	if tl.TotalFrames > 0 {
		out.JankPercent = float64(tl.JankFrames) / float64(tl.TotalFrames) * 100
	}
	for _, ev := range tl.SlowEvents {
		if len(out.SlowEvents) == MaxSlowEvents {
			break
		}
		out.SlowEvents = append(out.SlowEvents, EventEntry{
			Name:           ev.Name,
			Category:       ev.Category,
			DurationMillis: float64(ev.DurationMicros) / 1000,
		})
	}
	return out
}

func megabytes(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
