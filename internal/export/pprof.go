// Package export converts raw VM data into standard profile formats.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// CPUProfile converts a sample batch into a pprof CPU profile with
// samples/count and cpu/nanoseconds values. Frames whose index falls
// outside the function table are skipped; samples left without frames are
// dropped.
func CPUProfile(batch *vmservice.CPUSamples) (*profile.Profile, error) {
	if batch == nil || len(batch.Samples) == 0 {
		return nil, perrors.Newf(perrors.KindNotFound, "export cpu profile", "no samples in window")
	}

	periodNanos := batch.SamplePeriod * int64(time.Microsecond)
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		DefaultSampleType: "cpu",
		PeriodType:        &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:            periodNanos,
		TimeNanos:         batch.TimeOriginMicros * int64(time.Microsecond),
		DurationNanos:     batch.TimeExtentMicros * int64(time.Microsecond),
	}

	locations := make(map[int]*profile.Location, len(batch.Functions))
	location := func(idx int) *profile.Location {
		if loc, ok := locations[idx]; ok {
			return loc
		}
		pf := batch.Functions[idx]
		fn := &profile.Function{
			ID:         uint64(len(prof.Function) + 1),
			Name:       qualifiedName(&pf.Function),
			SystemName: pf.Function.Name,
			Filename:   pf.ResolvedURL,
		}
		if fn.Filename == "" {
			fn.Filename = pf.Function.LibraryURI()
		}
		prof.Function = append(prof.Function, fn)

		loc := &profile.Location{
			ID:   uint64(len(prof.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		prof.Location = append(prof.Location, loc)
		locations[idx] = loc
		return loc
	}

	for _, s := range batch.Samples {
		var stack []*profile.Location
		for _, idx := range s.Stack {
			if idx < 0 || idx >= len(batch.Functions) {
				continue
			}
			stack = append(stack, location(idx))
		}
		if len(stack) == 0 {
			continue
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{1, periodNanos},
			NumLabel: map[string][]int64{"thread": {s.TID}},
		})
	}

	if len(prof.Sample) == 0 {
		return nil, perrors.Newf(perrors.KindMalformed, "export cpu profile", "no sample has a valid frame")
	}
	if err := prof.CheckValid(); err != nil {
		return nil, perrors.New(perrors.KindMalformed, "export cpu profile", err)
	}
	return prof, nil
}

// WriteCPUProfile writes batch to w as a gzipped pprof profile.
func WriteCPUProfile(w io.Writer, batch *vmservice.CPUSamples) error {
	prof, err := CPUProfile(batch)
	if err != nil {
		return err
	}
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

func qualifiedName(fn *vmservice.Ref) string {
	for owner, depth := fn.Owner, 0; owner != nil && depth < 8; owner, depth = owner.Owner, depth+1 {
		if owner.BaseType() == vmservice.TypeClass && owner.Name != "" {
			return owner.Name + "." + fn.Name
		}
	}
	return fn.Name
}
