package vmservice

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Object type names used by the protocol. References carry an "@" prefix
// ("@Class"), full objects do not ("Class").
const (
	TypeClass    = "Class"
	TypeFunction = "Function"
	TypeInstance = "Instance"
	TypeContext  = "Context"
	TypeScript   = "Script"
	TypeLibrary  = "Library"
	TypeSentinel = "Sentinel"
	TypeField    = "Field"
	TypeCode     = "Code"
)

// Isolate names the VM gives to the root isolate of an app.
const MainIsolateName = "main"

// Version is the protocol version served by the VM.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// IsolateRef identifies an isolate.
type IsolateRef struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Number          string `json:"number,omitempty"`
	IsSystemIsolate bool   `json:"isSystemIsolate,omitempty"`
}

// VM describes the target process.
type VM struct {
	Name     string       `json:"name"`
	Version  string       `json:"version"`
	PID      int          `json:"pid"`
	Isolates []IsolateRef `json:"isolates"`
}

// SourceLocation is a script position reported for classes and functions.
type SourceLocation struct {
	Script      *Ref `json:"script,omitempty"`
	TokenPos    int  `json:"tokenPos"`
	EndTokenPos int  `json:"endTokenPos,omitempty"`
	Line        int  `json:"line,omitempty"`
	Column      int  `json:"column,omitempty"`
}

// Ref is a reference to a remote object. The protocol uses many @Obj
// subtypes; the fields here are the union of the ones vmlens reads.
type Ref struct {
	Type          string          `json:"type"`
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	URI           string          `json:"uri,omitempty"`
	ValueAsString string          `json:"valueAsString,omitempty"`
	Class         *Ref            `json:"class,omitempty"`
	Library       *Ref            `json:"library,omitempty"`
	Owner         *Ref            `json:"owner,omitempty"`
	Location      *SourceLocation `json:"location,omitempty"`
}

// BaseType returns the type without the reference marker.
func (r *Ref) BaseType() string {
	if r == nil {
		return ""
	}
	return strings.TrimPrefix(r.Type, "@")
}

// IsSentinel reports whether the reference stands for a collected,
// expired or otherwise unavailable value.
func (r *Ref) IsSentinel() bool {
	return r != nil && r.BaseType() == TypeSentinel
}

// LibraryURI returns the URI of the library owning the referenced entity,
// walking function owners up to their class or library.
func (r *Ref) LibraryURI() string {
	for cur, depth := r, 0; cur != nil && depth < 8; depth++ {
		switch cur.BaseType() {
		case TypeLibrary:
			return cur.URI
		case TypeClass:
			if cur.Library != nil {
				return cur.Library.URI
			}
			return ""
		}
		if cur.Library != nil {
			return cur.Library.URI
		}
		cur = cur.Owner
	}
	return ""
}

// Object is the result of getObject for classes, functions and scripts.
type Object struct {
	Ref
	Source        string  `json:"source,omitempty"`
	TokenPosTable [][]int `json:"tokenPosTable,omitempty"`
}

// ProfileFunction is one entry of a CPU sample batch's function table.
type ProfileFunction struct {
	Kind           string `json:"kind"`
	InclusiveTicks int    `json:"inclusiveTicks"`
	ExclusiveTicks int    `json:"exclusiveTicks"`
	ResolvedURL    string `json:"resolvedUrl"`
	Function       Ref    `json:"function"`
}

// CPUSample is one captured stack. Stack holds indices into the batch's
// function table, innermost frame first.
type CPUSample struct {
	TID       int64 `json:"tid"`
	Timestamp int64 `json:"timestamp"`
	Stack     []int `json:"stack"`
}

// CPUSamples is a batch of stack samples over a time window.
type CPUSamples struct {
	SamplePeriod     int64             `json:"samplePeriod"`
	MaxStackDepth    int               `json:"maxStackDepth"`
	SampleCount      int               `json:"sampleCount"`
	TimeOriginMicros int64             `json:"timeOriginMicros"`
	TimeExtentMicros int64             `json:"timeExtentMicros"`
	PID              int               `json:"pid"`
	Functions        []ProfileFunction `json:"functions"`
	Samples          []CPUSample       `json:"samples"`
}

// ClassHeapStats holds live and accumulated allocation counts of a class.
type ClassHeapStats struct {
	Class                Ref   `json:"class"`
	AccumulatedSize      int64 `json:"accumulatedSize"`
	BytesCurrent         int64 `json:"bytesCurrent"`
	InstancesAccumulated int64 `json:"instancesAccumulated"`
	InstancesCurrent     int64 `json:"instancesCurrent"`
}

// MemoryUsage is the heap usage summary of an isolate.
type MemoryUsage struct {
	ExternalUsage int64 `json:"externalUsage"`
	HeapCapacity  int64 `json:"heapCapacity"`
	HeapUsage     int64 `json:"heapUsage"`
}

// HeapSpace carries per-generation counters from the private _heaps field.
type HeapSpace struct {
	Collections int64 `json:"collections"`
}

// AllocationProfile is the per-class allocation snapshot of an isolate.
type AllocationProfile struct {
	Members     []ClassHeapStats `json:"members"`
	MemoryUsage MemoryUsage      `json:"memoryUsage"`
	Heaps       *struct {
		New HeapSpace `json:"new"`
		Old HeapSpace `json:"old"`
	} `json:"_heaps,omitempty"`
}

// GCCount returns the number of collections across generations, or zero
// when the VM did not report them.
func (p *AllocationProfile) GCCount() int64 {
	if p == nil || p.Heaps == nil {
		return 0
	}
	return p.Heaps.New.Collections + p.Heaps.Old.Collections
}

// InstanceSet is a bounded sample of live instances of a class.
type InstanceSet struct {
	TotalCount int   `json:"totalCount"`
	Instances  []Ref `json:"instances"`
}

// RetainingObject is one link of a retaining path.
type RetainingObject struct {
	Value           Ref             `json:"value"`
	ParentListIndex *int            `json:"parentListIndex,omitempty"`
	ParentMapKey    *Ref            `json:"parentMapKey,omitempty"`
	ParentField     json.RawMessage `json:"parentField,omitempty"`
}

// FieldName returns the name of the field through which the next element
// holds this one. Older protocol versions send a string, newer ones a
// field reference or, for records, a positional index.
func (o *RetainingObject) FieldName() string {
	if len(o.ParentField) == 0 || string(o.ParentField) == "null" {
		return ""
	}
	var name string
	if err := json.Unmarshal(o.ParentField, &name); err == nil {
		return name
	}
	var pos int
	if err := json.Unmarshal(o.ParentField, &pos); err == nil {
		return "$" + strconv.Itoa(pos)
	}
	var ref Ref
	if err := json.Unmarshal(o.ParentField, &ref); err == nil {
		return ref.Name
	}
	return ""
}

// RetainingPath is the chain from an object towards a GC root, ordered from
// the object outwards.
type RetainingPath struct {
	Length     int               `json:"length"`
	GCRootType string            `json:"gcRootType"`
	Elements   []RetainingObject `json:"elements"`
}

// TraceEvent is one Chrome trace-format event from the VM timeline.
type TraceEvent struct {
	Name     string         `json:"name"`
	Category string         `json:"cat,omitempty"`
	Phase    string         `json:"ph"`
	TS       int64          `json:"ts"`
	Dur      int64          `json:"dur,omitempty"`
	TID      int64          `json:"tid,omitempty"`
	PID      int64          `json:"pid,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

// Trace event phases handled by the timeline collector.
const (
	PhaseBegin    = "B"
	PhaseEnd      = "E"
	PhaseComplete = "X"
)

// Timeline is the result of getVMTimeline.
type Timeline struct {
	TraceEvents      []TraceEvent `json:"traceEvents"`
	TimeOriginMicros int64        `json:"timeOriginMicros"`
	TimeExtentMicros int64        `json:"timeExtentMicros"`
}
