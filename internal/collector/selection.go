package collector

import (
	"context"

	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// Selection identifies one class selection. A selection is current until
// the next BeginSelection or CollectSnapshot.
type Selection struct {
	version uint64
}

// BeginSelection starts a new selection, invalidating earlier ones.
func (f *Facade) BeginSelection() Selection {
	return Selection{version: f.version.Add(1)}
}

// Current reports whether no newer selection or snapshot has started.
func (f *Facade) Current(s Selection) bool {
	return f.version.Load() == s.version
}

// EnhanceSelectedClass enhances sample for selection s. ok is false when
// the selection went stale while the lookups ran; the result must then be
// dropped.
func (f *Facade) EnhanceSelectedClass(ctx context.Context, s Selection, sample snapshot.AllocationSample) (snapshot.AllocationSample, bool) {
	if !f.Current(s) {
		return sample, false
	}
	enhanced := f.EnhanceClass(ctx, sample)
	if !f.Current(s) {
		f.logger.Debug().Str("class", sample.ClassName).Msg("Discarding enhancement of stale selection")
		return sample, false
	}
	return enhanced, true
}
