package privacy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/vmlens/internal/snapshot"
)

func TestSummarize_SplitsAppAndFramework(t *testing.T) {
	s := Summarize(sampleSnapshot())

	require.NotNil(t, s.CPU)
	require.Len(t, s.CPU.AppFunctions, 1)
	assert.Equal(t, "checkout", s.CPU.AppFunctions[0].Name)
	assert.Equal(t, 12, s.CPU.AppFunctions[0].Line)
	require.Len(t, s.CPU.FrameworkFunctions, 1)
	assert.Equal(t, "performRebuild", s.CPU.FrameworkFunctions[0].Name)

	require.NotNil(t, s.Memory)
	assert.InDelta(t, 8.0, s.Memory.HeapUsedMB, 1e-9)
	require.Len(t, s.Memory.AppClasses, 1)
	order := s.Memory.AppClasses[0]
	assert.Equal(t, "OrderItem", order.Name)
	assert.InDelta(t, 585.9375, order.LiveKB, 1e-9)
	assert.Equal(t, snapshot.RootWidgetTree, order.RetentionRoot)
	assert.Equal(t, []string{"OrderItem", "Cart._items", "GC root: Widget Tree"}, order.RetentionPath)
	assert.Equal(t, "Widget", s.Memory.FrameworkClasses[0].Name)

	require.NotNil(t, s.Timeline)
	assert.InDelta(t, 50.0, s.Timeline.JankPercent, 1e-9)
	assert.False(t, s.Timeline.Synthetic)
	assert.Equal(t, "ImageDecode", s.Timeline.SlowEvents[0].Name)
	assert.InDelta(t, 9.0, s.Timeline.SlowEvents[0].DurationMillis, 1e-9)
}

func TestSummarize_Truncates(t *testing.T) {
	cpu := &snapshot.CPUData{}
	for i := 0; i < 30; i++ {
		cpu.TopFunctions = append(cpu.TopFunctions,
			classifier.NewFunctionSample(fmt.Sprintf("app%d", i), "", "package:shop/a.dart", ""),
			classifier.NewFunctionSample(fmt.Sprintf("fw%d", i), "", "dart:core", ""),
		)
	}
	var steps []snapshot.RetentionStep
	for i := 0; i < 20; i++ {
		steps = append(steps, snapshot.RetentionStep{Description: fmt.Sprintf("step%d", i)})
	}
	steps = append(steps, snapshot.RetentionStep{Description: "GC root: Static Field", IsGCRoot: true})
	held := snapshot.AllocationSample{ClassName: "Held", UserClass: true, Retention: &snapshot.RetentionInfo{Steps: steps}}

	s := Summarize(snapshot.New("isolates/1", sampleSnapshot().Timestamp).
		WithCPU(cpu).
		WithMemory(&snapshot.MemoryData{Allocations: []snapshot.AllocationSample{held}}))

	assert.Len(t, s.CPU.AppFunctions, MaxAppFunctions)
	assert.Len(t, s.CPU.FrameworkFunctions, MaxFrameworkFunctions)
	assert.Nil(t, s.Timeline)

	path := s.Memory.AppClasses[0].RetentionPath
	assert.Len(t, path, MaxRetentionSteps+2)
	assert.Equal(t, "...", path[MaxRetentionSteps])
	assert.Equal(t, "GC root: Static Field", path[len(path)-1])
}

func TestSummarize_Pure(t *testing.T) {
	snap := sampleSnapshot()
	assert.Equal(t, Summarize(snap), Summarize(snap))
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestRedactor_SummaryCarriesLevel(t *testing.T) {
	r := NewRedactorWithSalt("test")
	s := r.Summary(sampleSnapshot(), LevelMaximum)

	assert.Equal(t, LevelMaximum, s.Level)
	assert.Equal(t, "checkout", s.CPU.AppFunctions[0].Name)
	assert.Empty(t, s.CPU.AppFunctions[0].File)
	assert.Equal(t, r.Pseudonym("performRebuild"), s.CPU.FrameworkFunctions[0].Name)
}
