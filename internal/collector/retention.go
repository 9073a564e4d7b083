package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// RetentionConfig bounds the retaining path walk.
type RetentionConfig struct {
	InstanceSample int // Live instances requested (default: 10)
	MaxDepth       int // Retaining path elements requested (default: 100)
	ResolvedSteps  int // Steps whose class location is resolved (default: 3)
}

func (c *RetentionConfig) setDefaults() {
	if c.InstanceSample <= 0 {
		c.InstanceSample = 10
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 100
	}
	if c.ResolvedSteps < 0 {
		c.ResolvedSteps = 0
	} else if c.ResolvedSteps == 0 {
		c.ResolvedSteps = 3
	}
}

// RetentionTracer explains why instances of a class are alive.
//
// The path is taken for the first live instance only, so it is
// representative of the class rather than exhaustive. Root classification
// is a naming heuristic.
type RetentionTracer struct {
	vm         vmservice.Client
	resolver   Resolver
	classifier *snapshot.Classifier
	config     RetentionConfig
	logger     zerolog.Logger
}

// NewRetentionTracer creates a tracer. resolver may be nil.
func NewRetentionTracer(vm vmservice.Client, resolver Resolver, classifier *snapshot.Classifier, config RetentionConfig, logger zerolog.Logger) *RetentionTracer {
	config.setDefaults()
	return &RetentionTracer{
		vm:         vm,
		resolver:   resolver,
		classifier: classifier,
		config:     config,
		logger:     logger.With().Str("component", "retention_tracer").Logger(),
	}
}

// Trace returns the retention path of a live instance of classID. It fails
// with KindNotFound when classID is not a class and KindNoInstances when
// the class has no live instance.
func (t *RetentionTracer) Trace(ctx context.Context, isolateID, classID string) (*snapshot.RetentionInfo, error) {
	class, err := t.vm.GetObject(ctx, isolateID, classID)
	if err != nil {
		return nil, err
	}
	if class.BaseType() != vmservice.TypeClass {
		return nil, perrors.Newf(perrors.KindNotFound, "trace retention", "%s is a %s, not a class", classID, class.BaseType())
	}

	set, err := t.vm.GetInstances(ctx, isolateID, classID, t.config.InstanceSample)
	if err != nil {
		return nil, err
	}
	if len(set.Instances) == 0 {
		return nil, perrors.Newf(perrors.KindNoInstances, "trace retention", "no live instances of %s", class.Name)
	}

	path, err := t.vm.GetRetainingPath(ctx, isolateID, set.Instances[0].ID, t.config.MaxDepth)
	if err != nil {
		return nil, err
	}

	return t.build(ctx, isolateID, class.Name, path), nil
}

func (t *RetentionTracer) build(ctx context.Context, isolateID, className string, path *vmservice.RetainingPath) *snapshot.RetentionInfo {
	elements := path.Elements
	if len(elements) > t.config.MaxDepth {
		elements = elements[:t.config.MaxDepth]
	}

	steps := make([]snapshot.RetentionStep, 0, len(elements)+1)
	resolved := 0
	for i := range elements {
		step := describeElement(&elements[i])
		if cls := elements[i].Value.Class; cls != nil {
			step.UserCode = t.classifier.IsUserClass(cls.Name, cls.LibraryURI())
		}
		if t.resolver != nil && resolved < t.config.ResolvedSteps && step.UserCode {
			if cls := elements[i].Value.Class; cls.ID != "" {
				step.Location = t.resolver.ResolveClass(ctx, isolateID, cls.ID)
				resolved++
			}
		}
		steps = append(steps, step)
	}

	rootType := classifyRoot(elements, steps)
	steps = append(steps, snapshot.RetentionStep{
		Description: "GC root: " + rootType,
		IsGCRoot:    true,
	})

	return &snapshot.RetentionInfo{
		ClassName:      className,
		Steps:          steps,
		RootType:       rootType,
		RemoteRootType: path.GCRootType,
	}
}

func describeElement(el *vmservice.RetainingObject) snapshot.RetentionStep {
	var step snapshot.RetentionStep
	label := elementLabel(&el.Value)
	if el.Value.Class != nil {
		step.ClassName = el.Value.Class.Name
	}

	switch {
	case el.ParentListIndex != nil:
		step.FieldLabel = fmt.Sprintf("[%d]", *el.ParentListIndex)
		step.Description = label + step.FieldLabel
	case el.ParentMapKey != nil:
		step.FieldLabel = "[" + mapKeyLabel(el.ParentMapKey) + "]"
		step.Description = label + step.FieldLabel
	default:
		if field := el.FieldName(); field != "" {
			step.FieldLabel = field
			step.Description = label + "." + field
		} else {
			step.Description = label
		}
	}
	return step
}

func elementLabel(v *vmservice.Ref) string {
	switch {
	case v.BaseType() == vmservice.TypeContext:
		return snapshot.LabelClosureContext
	case v.IsSentinel():
		return snapshot.LabelSentinel
	case v.Class != nil && v.Class.Name != "":
		return v.Class.Name
	case v.Name != "":
		return v.Name
	default:
		return v.BaseType()
	}
}

func mapKeyLabel(key *vmservice.Ref) string {
	if key.ValueAsString != "" {
		return key.ValueAsString
	}
	if key.Class != nil {
		return key.Class.Name
	}
	return "?"
}

// classifyRoot tags the root from the terminal element. Elements that
// mention State or Element belong to the widget tree; a terminal field with
// a leading underscore is taken for a static field.
func classifyRoot(elements []vmservice.RetainingObject, steps []snapshot.RetentionStep) string {
	if len(elements) == 0 {
		return snapshot.RootIsolate
	}
	last := &elements[len(elements)-1]
	text := steps[len(steps)-1].Description + " " + last.Value.Name
	if strings.Contains(text, "State") || strings.Contains(text, "Element") {
		return snapshot.RootWidgetTree
	}

	field := last.FieldName()
	if field == "" && last.Value.BaseType() == vmservice.TypeField {
		field = last.Value.Name
	}
	if strings.HasPrefix(field, "_") {
		return snapshot.RootStaticField
	}
	return snapshot.RootIsolate
}
