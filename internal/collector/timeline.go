package collector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// RecordedStreams are the timeline streams enabled on the VM.
var RecordedStreams = []string{"Dart", "Embedder", "GC"}

// TimelineConfig holds configuration for frame analysis.
type TimelineConfig struct {
	Window              time.Duration // Trailing window per collection (default: 5s)
	SlowThresholdMicros int64         // Events longer than this are slow (default: 2000)
	MaxSlowEvents       int           // Slow events kept, longest first (default: 50)
	MaxArgs             int           // Arguments kept per slow event (default: 8)
	MaxArgLength        int           // Longest string argument kept (default: 120)
}

func (c *TimelineConfig) setDefaults() {
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	if c.SlowThresholdMicros <= 0 {
		c.SlowThresholdMicros = 2000
	}
	if c.MaxSlowEvents <= 0 {
		c.MaxSlowEvents = 50
	}
	if c.MaxArgs <= 0 {
		c.MaxArgs = 8
	}
	if c.MaxArgLength <= 0 {
		c.MaxArgLength = 120
	}
}

// TimelineCollector reconstructs frames from VM trace events.
type TimelineCollector struct {
	vm     vmservice.Client
	config TimelineConfig
	logger zerolog.Logger

	enableMu sync.Mutex
	enabled  bool
}

// NewTimelineCollector creates a timeline collector.
func NewTimelineCollector(vm vmservice.Client, config TimelineConfig, logger zerolog.Logger) *TimelineCollector {
	config.setDefaults()
	return &TimelineCollector{
		vm:     vm,
		config: config,
		logger: logger.With().Str("component", "timeline_collector").Logger(),
	}
}

// Enable turns on the recorded streams once.
func (t *TimelineCollector) Enable(ctx context.Context) error {
	t.enableMu.Lock()
	defer t.enableMu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.vm.SetVMTimelineFlags(ctx, RecordedStreams); err != nil {
		return err
	}
	t.enabled = true
	t.logger.Debug().Strs("streams", RecordedStreams).Msg("Timeline recording enabled")
	return nil
}

// Collect analyses the trailing window. Without events it returns a
// placeholder distribution marked synthetic.
func (t *TimelineCollector) Collect(ctx context.Context) (*snapshot.TimelineData, error) {
	origin, extent, err := trailingWindow(ctx, t.vm, t.config.Window)
	if err != nil {
		return nil, err
	}

	timeline, err := t.vm.GetVMTimeline(ctx, origin, extent)
	if err != nil {
		return nil, err
	}

	if len(timeline.TraceEvents) == 0 {
		t.logger.Info().Msg("No timeline events recorded; returning synthetic frame data")
		return Placeholder(), nil
	}
	return t.Analyze(timeline.TraceEvents), nil
}

// span is a completed event, from an X event or a matched B/E pair.
type span struct {
	name     string
	category string
	start    int64
	dur      int64
	args     map[string]any
}

func (s span) end() int64 { return s.start + s.dur }

// Analyze turns trace events into frame timings and slow events.
func (t *TimelineCollector) Analyze(events []vmservice.TraceEvent) *snapshot.TimelineData {
	spans := pairEvents(events)

	var boundaries, build, raster []span
	var slow []snapshot.SlowEvent
	for _, s := range spans {
		lower := strings.ToLower(s.name)
		if s.dur > t.config.SlowThresholdMicros {
			slow = append(slow, snapshot.SlowEvent{
				Name:            s.name,
				DurationMicros:  s.dur,
				TimestampMicros: s.start,
				Category:        categorize(lower, s.category),
				Args:            t.filterArgs(s.args),
			})
		}
		if isFrameBoundary(lower) {
			boundaries = append(boundaries, s)
			continue
		}
		switch phaseOf(lower) {
		case phaseBuild:
			build = append(build, s)
		case phaseRaster:
			raster = append(raster, s)
		}
	}

	frames := assembleFrames(outermost(boundaries), outermost(build), outermost(raster))

	sort.SliceStable(slow, func(i, j int) bool { return slow[i].DurationMicros > slow[j].DurationMicros })
	if len(slow) > t.config.MaxSlowEvents {
		slow = slow[:t.config.MaxSlowEvents]
	}

	data := FrameStats(frames)
	data.SlowEvents = slow
	data.Source = snapshot.SourceReal
	return data
}

// pairEvents converts X events and per-thread B/E pairs into spans ordered
// by start time. Unmatched markers are dropped.
func pairEvents(events []vmservice.TraceEvent) []span {
	ordered := make([]vmservice.TraceEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TS < ordered[j].TS })

	open := make(map[int64][]vmservice.TraceEvent)
	var spans []span
	for _, ev := range ordered {
		switch ev.Phase {
		case vmservice.PhaseComplete:
			spans = append(spans, span{name: ev.Name, category: ev.Category, start: ev.TS, dur: ev.Dur, args: ev.Args})
		case vmservice.PhaseBegin:
			open[ev.TID] = append(open[ev.TID], ev)
		case vmservice.PhaseEnd:
			stack := open[ev.TID]
			if len(stack) == 0 {
				continue
			}
			begin := stack[len(stack)-1]
			open[ev.TID] = stack[:len(stack)-1]
			args := begin.Args
			if len(ev.Args) > 0 && len(args) == 0 {
				args = ev.Args
			}
			spans = append(spans, span{name: begin.Name, category: begin.Category, start: begin.TS, dur: ev.TS - begin.TS, args: args})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].dur > spans[j].dur
	})
	return spans
}

// outermost keeps the spans not enclosed by an earlier one. Nested frame
// boundaries emit one frame and nested phases count once.
func outermost(spans []span) []span {
	var out []span
	var openUntil int64 = -1
	for _, s := range spans {
		if s.start < openUntil && s.end() <= openUntil {
			continue
		}
		out = append(out, s)
		openUntil = s.end()
	}
	return out
}

// closing is a span taking part in frame assembly, ordered by end time.
type closing struct {
	span
	kind phase // phaseNone marks a frame boundary
}

// assembleFrames replays phase and boundary spans in the order they close.
// Phases add to running accumulators; each closing frame takes the totals
// gathered since the previous frame and resets them.
func assembleFrames(frameSpans, build, raster []span) []snapshot.FrameTiming {
	items := make([]closing, 0, len(frameSpans)+len(build)+len(raster))
	for _, s := range build {
		items = append(items, closing{span: s, kind: phaseBuild})
	}
	for _, s := range raster {
		items = append(items, closing{span: s, kind: phaseRaster})
	}
	for _, s := range frameSpans {
		items = append(items, closing{span: s, kind: phaseNone})
	}
	// A phase closing together with its frame belongs to that frame.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].end() != items[j].end() {
			return items[i].end() < items[j].end()
		}
		return items[i].kind != phaseNone && items[j].kind == phaseNone
	})

	var frames []snapshot.FrameTiming
	var buildAcc, rasterAcc int64
	for _, it := range items {
		switch it.kind {
		case phaseBuild:
			buildAcc += it.dur
		case phaseRaster:
			rasterAcc += it.dur
		default:
			b, r := buildAcc, rasterAcc
			if b == 0 || r == 0 {
				b = it.dur / 2
				r = it.dur - b
			}
			frames = append(frames, snapshot.NewFrameTiming(b, r, it.dur))
			buildAcc, rasterAcc = 0, 0
		}
	}
	return frames
}

var frameBoundaryPatterns = []string{"vsync", "animator", "frame", "pipeline", "rasterizer"}

func isFrameBoundary(lower string) bool {
	for _, p := range frameBoundaryPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

type phase int

const (
	phaseNone phase = iota
	phaseBuild
	phaseRaster
)

func phaseOf(lower string) phase {
	switch {
	case strings.Contains(lower, "build"), strings.Contains(lower, "layout"):
		return phaseBuild
	case strings.Contains(lower, "raster"), strings.Contains(lower, "paint"), strings.Contains(lower, "composit"):
		return phaseRaster
	default:
		return phaseNone
	}
}

func categorize(lower, category string) string {
	switch {
	case category == "GC", strings.Contains(lower, "gc"), strings.Contains(lower, "scavenge"),
		strings.Contains(lower, "marksweep"), strings.Contains(lower, "collectnew"), strings.Contains(lower, "collectold"):
		return snapshot.CategoryGC
	case strings.Contains(lower, "image"), strings.Contains(lower, "decode"), strings.Contains(lower, "codec"):
		return snapshot.CategoryImage
	case strings.Contains(lower, "build"):
		return snapshot.CategoryBuild
	case strings.Contains(lower, "layout"):
		return snapshot.CategoryLayout
	case strings.Contains(lower, "paint"):
		return snapshot.CategoryPaint
	case strings.Contains(lower, "raster"), strings.Contains(lower, "composit"), strings.Contains(lower, "draw"):
		return snapshot.CategoryRaster
	default:
		return snapshot.CategoryOther
	}
}

// filterArgs keeps booleans, numbers and short strings.
func (t *TimelineCollector) filterArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any)
	for _, k := range keys {
		if len(out) >= t.config.MaxArgs {
			break
		}
		switch v := args[k].(type) {
		case bool, float64, float32, int, int64, int32:
			out[k] = v
		case string:
			if len(v) <= t.config.MaxArgLength {
				out[k] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FrameStats computes jank count, average and quantiles for frames.
func FrameStats(frames []snapshot.FrameTiming) *snapshot.TimelineData {
	data := &snapshot.TimelineData{Frames: frames, TotalFrames: len(frames)}
	if len(frames) == 0 {
		return data
	}

	totals := make([]int64, len(frames))
	var sum int64
	for i, f := range frames {
		totals[i] = f.TotalMicros
		sum += f.TotalMicros
		if f.Jank {
			data.JankFrames++
		}
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })

	data.AvgFrameMillis = float64(sum) / float64(len(totals)) / 1000
	data.P95FrameMillis = float64(totals[QuantileIndex(len(totals), 95)]) / 1000
	data.P99FrameMillis = float64(totals[QuantileIndex(len(totals), 99)]) / 1000
	return data
}

// QuantileIndex returns the nearest-rank index ceil(n*pct/100)-1 into a
// sorted list of n values, clamped to [0, n-1]. For n=100 the P95 index is
// 94. When n*pct/100 is a whole number this is one below floor(n*pct/100):
// P95 of 20 values is index 18, not 19.
func QuantileIndex(n, pct int) int {
	if n <= 0 {
		return 0
	}
	idx := (n*pct+99)/100 - 1
	return min(max(idx, 0), n-1)
}

// Placeholder returns a fixed frame distribution marked synthetic, for
// consumers that always need something to render.
func Placeholder() *snapshot.TimelineData {
	frames := make([]snapshot.FrameTiming, 0, 60)
	for i := 0; i < 60; i++ {
		total := int64(8000 + (i*1237)%6000)
		if i%20 == 19 {
			total = 24_000
		}
		build := total * 55 / 100
		frames = append(frames, snapshot.NewFrameTiming(build, total-build, total))
	}
	data := FrameStats(frames)
	data.Source = snapshot.SourceSynthetic
	return data
}
