package collector

import (
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

func libRef(uri string) *vmservice.Ref {
	return &vmservice.Ref{Type: "@Library", URI: uri}
}

func classRef(id, name, lib string) *vmservice.Ref {
	return &vmservice.Ref{Type: "@Class", ID: id, Name: name, Library: libRef(lib)}
}

func profileFn(id, name, class, lib string) vmservice.ProfileFunction {
	fn := vmservice.Ref{Type: "@Function", ID: id, Name: name}
	if class != "" {
		fn.Owner = classRef("classes/"+class, class, lib)
	} else {
		fn.Owner = libRef(lib)
	}
	return vmservice.ProfileFunction{Kind: "Dart", Function: fn, ResolvedURL: lib}
}

func stacks(period int64, fns []vmservice.ProfileFunction, stacks ...[]int) *vmservice.CPUSamples {
	batch := &vmservice.CPUSamples{SamplePeriod: period, MaxStackDepth: 128, Functions: fns}
	for i, s := range stacks {
		batch.Samples = append(batch.Samples, vmservice.CPUSample{TID: 1, Timestamp: int64(i * 250), Stack: s})
	}
	batch.SampleCount = len(batch.Samples)
	return batch
}

func heapStats(class *vmservice.Ref, instances, bytes int64) vmservice.ClassHeapStats {
	return vmservice.ClassHeapStats{
		Class:                *class,
		InstancesCurrent:     instances,
		BytesCurrent:         bytes,
		InstancesAccumulated: instances * 2,
		AccumulatedSize:      bytes * 2,
	}
}

func begin(name string, ts int64) vmservice.TraceEvent {
	return vmservice.TraceEvent{Name: name, Phase: vmservice.PhaseBegin, TS: ts, TID: 1}
}

func end(name string, ts int64) vmservice.TraceEvent {
	return vmservice.TraceEvent{Name: name, Phase: vmservice.PhaseEnd, TS: ts, TID: 1}
}

func complete(name string, ts, dur int64) vmservice.TraceEvent {
	return vmservice.TraceEvent{Name: name, Phase: vmservice.PhaseComplete, TS: ts, Dur: dur, TID: 1}
}
