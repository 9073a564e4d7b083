package snapshot

import "strings"

// DefaultFrameworkPackages are pub packages treated as framework code.
var DefaultFrameworkPackages = []string{
	"flutter",
	"flutter_test",
	"flutter_web_plugins",
	"flutter_localizations",
	"sky_engine",
	"vector_math",
	"collection",
	"meta",
	"async",
	"characters",
	"material_color_utilities",
	"path",
	"stack_trace",
	"typed_data",
	"http",
	"provider",
	"riverpod",
	"flutter_riverpod",
	"bloc",
	"flutter_bloc",
	"rxdart",
	"equatable",
	"intl",
	"dio",
}

// internalTypes are core value types and VM internals that never count as
// application classes, whatever library reports them.
var internalTypes = map[string]struct{}{
	"Object": {}, "Null": {}, "bool": {}, "num": {}, "int": {}, "double": {},
	"String": {}, "List": {}, "Map": {}, "Set": {}, "Iterable": {}, "Record": {},
	"Function": {}, "Closure": {}, "Context": {}, "Type": {}, "Symbol": {},
	"Uint8List": {}, "Int32List": {}, "Int64List": {}, "Float32List": {}, "Float64List": {},
	"Array": {}, "ImmutableArray": {}, "GrowableObjectArray": {},
	"OneByteString": {}, "TwoByteString": {}, "Smi": {}, "Mint": {}, "Double": {},
	"Code": {}, "Instructions": {}, "ObjectPool": {}, "PcDescriptors": {},
	"CodeSourceMap": {}, "CompressedStackMaps": {}, "ExceptionHandlers": {},
	"ICData": {}, "MegamorphicCache": {}, "SubtypeTestCache": {},
	"TypeArguments": {}, "TypeParameter": {}, "FunctionType": {}, "RecordType": {},
	"Field": {}, "Script": {}, "Library": {}, "Class": {}, "Namespace": {},
	"WeakProperty": {}, "WeakReference": {}, "WeakArray": {}, "Finalizer": {},
	"Sentinel": {}, "LocalVarDescriptors": {}, "ContextScope": {}, "KernelProgramInfo": {},
}

// Classifier separates application code from the runtime, the framework
// and VM internals. The zero value uses DefaultFrameworkPackages.
type Classifier struct {
	framework map[string]struct{}
	user      map[string]struct{}
}

// NewClassifier builds a classifier. extraFramework extends the default
// framework package list. When userPackages is non-empty only those
// packages (and file: libraries) count as user code.
func NewClassifier(extraFramework, userPackages []string) *Classifier {
	c := &Classifier{framework: make(map[string]struct{})}
	for _, p := range DefaultFrameworkPackages {
		c.framework[p] = struct{}{}
	}
	for _, p := range extraFramework {
		c.framework[strings.TrimSpace(p)] = struct{}{}
	}
	if len(userPackages) > 0 {
		c.user = make(map[string]struct{}, len(userPackages))
		for _, p := range userPackages {
			c.user[strings.TrimSpace(p)] = struct{}{}
		}
	}
	return c
}

var defaultClassifier = NewClassifier(nil, nil)

func (c *Classifier) orDefault() *Classifier {
	if c == nil || c.framework == nil {
		return defaultClassifier
	}
	return c
}

// IsUserLibrary reports whether lib belongs to the application.
func (c *Classifier) IsUserLibrary(lib string) bool {
	c = c.orDefault()
	if lib == "" || strings.HasPrefix(lib, "_") || strings.HasPrefix(lib, "dart:") {
		return false
	}

	pkg, ok := PackageName(lib)
	if !ok {
		// file: and org-dartlang-app: libraries are the app's own sources.
		return strings.HasPrefix(lib, "file:") || strings.HasPrefix(lib, "org-dartlang-app:")
	}
	if _, fw := c.framework[pkg]; fw {
		return false
	}
	if c.user != nil {
		_, u := c.user[pkg]
		return u
	}
	return true
}

// IsUserFunction reports whether a function is application code.
func (c *Classifier) IsUserFunction(name, lib string) bool {
	return !strings.HasPrefix(name, "_") && c.IsUserLibrary(lib)
}

// IsUserClass reports whether a class is an application class.
func (c *Classifier) IsUserClass(name, lib string) bool {
	return !IsInternalClass(name) && c.IsUserLibrary(lib)
}

// IsInternalClass reports whether a class name is private or a known
// runtime type. Such classes are left out of allocation rankings.
func IsInternalClass(name string) bool {
	if name == "" || strings.HasPrefix(name, "_") {
		return true
	}
	_, ok := internalTypes[name]
	return ok
}

// PackageName extracts "shop" from "package:shop/cart.dart".
func PackageName(lib string) (string, bool) {
	rest, ok := strings.CutPrefix(lib, "package:")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}

// NewFunctionSample builds a sample and caches its classification.
func (c *Classifier) NewFunctionSample(name, className, lib, functionID string) FunctionSample {
	return FunctionSample{
		Name:       name,
		ClassName:  className,
		Library:    lib,
		FunctionID: functionID,
		UserCode:   c.IsUserFunction(name, lib),
	}
}

// NewAllocationSample builds a sample and caches its classification.
func (c *Classifier) NewAllocationSample(className, lib, classID string, instances, liveBytes, accumulatedBytes int64) AllocationSample {
	return AllocationSample{
		ClassName:        className,
		Library:          lib,
		ClassID:          classID,
		InstanceCount:    instances,
		LiveBytes:        liveBytes,
		AccumulatedBytes: accumulatedBytes,
		UserClass:        c.IsUserClass(className, lib),
	}
}
