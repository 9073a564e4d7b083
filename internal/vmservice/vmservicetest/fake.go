// Package vmservicetest provides an in-memory vmservice.Client for
// collector and resolver tests.
package vmservicetest

import (
	"context"
	"fmt"
	"sync"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// Fake serves canned responses. Fields may be set directly before use;
// Errors overrides any method by name ("getObject", "getCpuSamples", ...).
type Fake struct {
	VM                *vmservice.VM
	NowMicros         int64
	CPUSamples        *vmservice.CPUSamples
	AllocationProfile *vmservice.AllocationProfile
	Objects           map[string]*vmservice.Object
	Instances         map[string]*vmservice.InstanceSet
	RetainingPaths    map[string]*vmservice.RetainingPath
	Timeline          *vmservice.Timeline
	Errors            map[string]error

	// Block, when set, makes the named methods wait for ctx to finish.
	Block map[string]bool

	mu    sync.Mutex
	calls map[string]int
	flags map[string]string
	args  map[string][]any
}

var _ vmservice.Client = (*Fake)(nil)

// New returns a fake with one main isolate.
func New() *Fake {
	return &Fake{
		VM: &vmservice.VM{
			Name:     "vm",
			Isolates: []vmservice.IsolateRef{{ID: "isolates/1", Name: vmservice.MainIsolateName}},
		},
		Objects:        make(map[string]*vmservice.Object),
		Instances:      make(map[string]*vmservice.InstanceSet),
		RetainingPaths: make(map[string]*vmservice.RetainingPath),
		Errors:         make(map[string]error),
		Block:          make(map[string]bool),
	}
}

// Calls returns how often a method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Args returns the arguments of the last call to a method.
func (f *Fake) Args(method string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[method]
}

// Flag returns the last value set for a VM flag.
func (f *Fake) Flag(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[name]
}

// SetError makes a method fail.
func (f *Fake) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method] = err
}

func (f *Fake) record(ctx context.Context, method string, args ...any) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
		f.args = make(map[string][]any)
	}
	f.calls[method]++
	f.args[method] = args
	err := f.Errors[method]
	block := f.Block[method]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return perrors.New(perrors.KindTimeout, method, ctx.Err())
	}
	return err
}

func (f *Fake) GetVersion(ctx context.Context) (*vmservice.Version, error) {
	if err := f.record(ctx, "getVersion"); err != nil {
		return nil, err
	}
	return &vmservice.Version{Major: 4, Minor: 16}, nil
}

func (f *Fake) GetVM(ctx context.Context) (*vmservice.VM, error) {
	if err := f.record(ctx, "getVM"); err != nil {
		return nil, err
	}
	return f.VM, nil
}

func (f *Fake) GetVMTimelineMicros(ctx context.Context) (int64, error) {
	if err := f.record(ctx, "getVMTimelineMicros"); err != nil {
		return 0, err
	}
	return f.NowMicros, nil
}

func (f *Fake) GetCPUSamples(ctx context.Context, isolateID string, origin, extent int64) (*vmservice.CPUSamples, error) {
	if err := f.record(ctx, "getCpuSamples", isolateID, origin, extent); err != nil {
		return nil, err
	}
	if f.CPUSamples == nil {
		return &vmservice.CPUSamples{}, nil
	}
	return f.CPUSamples, nil
}

func (f *Fake) ClearCPUSamples(ctx context.Context, isolateID string) error {
	return f.record(ctx, "clearCpuSamples", isolateID)
}

func (f *Fake) SetFlag(ctx context.Context, name, value string) error {
	if err := f.record(ctx, "setFlag", name, value); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags == nil {
		f.flags = make(map[string]string)
	}
	f.flags[name] = value
	return nil
}

func (f *Fake) GetAllocationProfile(ctx context.Context, isolateID string, gc bool) (*vmservice.AllocationProfile, error) {
	if err := f.record(ctx, "getAllocationProfile", isolateID, gc); err != nil {
		return nil, err
	}
	if f.AllocationProfile == nil {
		return &vmservice.AllocationProfile{}, nil
	}
	return f.AllocationProfile, nil
}

func (f *Fake) GetObject(ctx context.Context, isolateID, objectID string) (*vmservice.Object, error) {
	if err := f.record(ctx, "getObject", isolateID, objectID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	obj, ok := f.Objects[objectID]
	f.mu.Unlock()
	if !ok {
		return nil, perrors.Newf(perrors.KindNotFound, "getObject", "%s is expired", objectID)
	}
	return obj, nil
}

func (f *Fake) GetInstances(ctx context.Context, isolateID, classID string, limit int) (*vmservice.InstanceSet, error) {
	if err := f.record(ctx, "getInstances", isolateID, classID, limit); err != nil {
		return nil, err
	}
	set, ok := f.Instances[classID]
	if !ok {
		return &vmservice.InstanceSet{}, nil
	}
	if limit > 0 && len(set.Instances) > limit {
		return &vmservice.InstanceSet{TotalCount: set.TotalCount, Instances: set.Instances[:limit]}, nil
	}
	return set, nil
}

func (f *Fake) GetRetainingPath(ctx context.Context, isolateID, targetID string, limit int) (*vmservice.RetainingPath, error) {
	if err := f.record(ctx, "getRetainingPath", isolateID, targetID, limit); err != nil {
		return nil, err
	}
	path, ok := f.RetainingPaths[targetID]
	if !ok {
		return nil, fmt.Errorf("no retaining path for %s", targetID)
	}
	if limit > 0 && len(path.Elements) > limit {
		return &vmservice.RetainingPath{Length: path.Length, GCRootType: path.GCRootType, Elements: path.Elements[:limit]}, nil
	}
	return path, nil
}

func (f *Fake) GetVMTimeline(ctx context.Context, origin, extent int64) (*vmservice.Timeline, error) {
	if err := f.record(ctx, "getVMTimeline", origin, extent); err != nil {
		return nil, err
	}
	if f.Timeline == nil {
		return &vmservice.Timeline{}, nil
	}
	return f.Timeline, nil
}

func (f *Fake) SetVMTimelineFlags(ctx context.Context, recordedStreams []string) error {
	return f.record(ctx, "setVMTimelineFlags", recordedStreams)
}

func (f *Fake) ClearVMTimeline(ctx context.Context) error {
	return f.record(ctx, "clearVMTimeline")
}

func (f *Fake) Close() error {
	return nil
}

// Class builds a class object with a source location.
func Class(id, name, libraryURI, scriptID string, line int) *vmservice.Object {
	return &vmservice.Object{Ref: vmservice.Ref{
		Type:    vmservice.TypeClass,
		ID:      id,
		Name:    name,
		Library: &vmservice.Ref{Type: "@Library", URI: libraryURI},
		Location: &vmservice.SourceLocation{
			Script: &vmservice.Ref{Type: "@Script", ID: scriptID, URI: libraryURI},
			Line:   line,
		},
	}}
}

// Script builds a script object with embedded source.
func Script(id, uri, source string) *vmservice.Object {
	return &vmservice.Object{
		Ref:    vmservice.Ref{Type: vmservice.TypeScript, ID: id, URI: uri},
		Source: source,
	}
}
