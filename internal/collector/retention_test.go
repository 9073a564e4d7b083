package collector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/testutil"
	"github.com/coral-mesh/vmlens/internal/vmservice"
	"github.com/coral-mesh/vmlens/internal/vmservice/vmservicetest"
)

func field(name string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"type": "@Field", "name": name})
	return raw
}

func index(i int) *int { return &i }

// retentionFixture serves OrderItem (classes/2) retained through a list in
// a Cart held by a widget State.
func retentionFixture() *vmservicetest.Fake {
	vm := vmservicetest.New()
	vm.Objects["classes/2"] = vmservicetest.Class("classes/2", "OrderItem", "package:shop/models/order.dart", "scripts/1", 3)
	vm.Instances["classes/2"] = &vmservice.InstanceSet{
		TotalCount: 2,
		Instances:  []vmservice.Ref{{Type: "@Instance", ID: "objects/10"}, {Type: "@Instance", ID: "objects/11"}},
	}
	vm.RetainingPaths["objects/10"] = &vmservice.RetainingPath{
		Length:     4,
		GCRootType: "user global",
		Elements: []vmservice.RetainingObject{
			{Value: vmservice.Ref{Type: "@Instance", ID: "objects/10", Class: classRef("classes/2", "OrderItem", "package:shop/models/order.dart")}},
			{Value: vmservice.Ref{Type: "@Instance", ID: "objects/20", Class: classRef("classes/9", "_GrowableList", "dart:core")}, ParentListIndex: index(3)},
			{Value: vmservice.Ref{Type: "@Instance", ID: "objects/30", Class: classRef("classes/5", "Cart", "package:shop/models/cart.dart")}, ParentField: field("_items")},
			{Value: vmservice.Ref{Type: "@Instance", ID: "objects/40", Class: classRef("classes/6", "_CheckoutPageState", "package:shop/pages/checkout.dart")}, ParentField: field("cart")},
		},
	}
	return vm
}

func newTracer(t *testing.T, vm vmservice.Client, resolver Resolver) *RetentionTracer {
	t.Helper()
	return NewRetentionTracer(vm, resolver, snapshot.NewClassifier(nil, nil), RetentionConfig{}, testutil.NewTestLogger(t))
}

func TestRetentionTracer_Trace(t *testing.T) {
	vm := retentionFixture()
	resolver := &stubResolver{classes: map[string]*snapshot.CodeLocation{
		"classes/5": {FilePath: "lib/models/cart.dart", Line: snapshot.LineOf(8)},
	}}

	info, err := newTracer(t, vm, resolver).Trace(context.Background(), "isolates/1", "classes/2")
	require.NoError(t, err)

	assert.Equal(t, "OrderItem", info.ClassName)
	assert.Equal(t, snapshot.RootWidgetTree, info.RootType)
	assert.Equal(t, "user global", info.RemoteRootType)

	require.Len(t, info.Steps, 5)
	assert.Equal(t, "OrderItem", info.Steps[0].Description)
	assert.Equal(t, "_GrowableList[3]", info.Steps[1].Description)
	assert.Equal(t, "[3]", info.Steps[1].FieldLabel)
	assert.Equal(t, "Cart._items", info.Steps[2].Description)
	assert.Equal(t, "_items", info.Steps[2].FieldLabel)
	assert.Equal(t, "Cart", info.Steps[2].ClassName)
	require.NotNil(t, info.Steps[2].Location)
	assert.Equal(t, "lib/models/cart.dart", info.Steps[2].Location.FilePath)
	assert.True(t, info.Steps[2].UserCode)
	assert.False(t, info.Steps[1].UserCode, "dart:core list is framework")
	assert.False(t, info.Steps[4].UserCode)

	assert.Equal(t, []any{"isolates/1", "objects/10", 100}, vm.Args("getRetainingPath"),
		"only the first instance is inspected")
	assert.Equal(t, []any{"isolates/1", "classes/2", 10}, vm.Args("getInstances"))
}

func TestRetentionTracer_SingleTerminalRoot(t *testing.T) {
	paths := map[string][]vmservice.RetainingObject{
		"empty": nil,
		"context": {
			{Value: vmservice.Ref{Type: "@Instance", ID: "objects/10"}},
			{Value: vmservice.Ref{Type: "@Context", ID: "objects/11"}, ParentField: json.RawMessage(`"value"`)},
		},
		"sentinel": {
			{Value: vmservice.Ref{Type: "Sentinel", Kind: "Collected"}},
		},
	}

	for name, elements := range paths {
		t.Run(name, func(t *testing.T) {
			vm := retentionFixture()
			vm.RetainingPaths["objects/10"] = &vmservice.RetainingPath{Elements: elements}

			info, err := newTracer(t, vm, nil).Trace(context.Background(), "isolates/1", "classes/2")
			require.NoError(t, err)
			require.NotEmpty(t, info.Steps)

			roots := 0
			for _, s := range info.Steps {
				if s.IsGCRoot {
					roots++
				}
			}
			assert.Equal(t, 1, roots)
			assert.True(t, info.Steps[len(info.Steps)-1].IsGCRoot)
			assert.Equal(t, "GC root: "+info.RootType, info.Steps[len(info.Steps)-1].Description)
		})
	}
}

func TestRetentionTracer_Labels(t *testing.T) {
	vm := retentionFixture()
	vm.RetainingPaths["objects/10"] = &vmservice.RetainingPath{Elements: []vmservice.RetainingObject{
		{Value: vmservice.Ref{Type: "@Instance", ID: "objects/10"}},
		{Value: vmservice.Ref{Type: "@Context", ID: "objects/11"}, ParentField: json.RawMessage(`"order"`)},
		{Value: vmservice.Ref{Type: "Sentinel", Kind: "Collected"}},
		{Value: vmservice.Ref{Type: "@Instance", ID: "objects/12", Class: classRef("c/1", "_Map", "dart:collection")},
			ParentMapKey: &vmservice.Ref{Type: "@Instance", ValueAsString: "current"}},
		{Value: vmservice.Ref{Type: "@Instance", ID: "objects/13", Class: classRef("c/2", "Registry", "package:shop/registry.dart")},
			ParentField: field("_instance")},
	}}

	info, err := newTracer(t, vm, nil).Trace(context.Background(), "isolates/1", "classes/2")
	require.NoError(t, err)

	assert.Equal(t, "Instance", info.Steps[0].Description)
	assert.Equal(t, "Closure Context.order", info.Steps[1].Description)
	assert.Equal(t, "Sentinel", info.Steps[2].Description)
	assert.Equal(t, "_Map[current]", info.Steps[3].Description)
	assert.Equal(t, snapshot.RootStaticField, info.RootType)
}

func TestRetentionTracer_IsolateRoot(t *testing.T) {
	vm := retentionFixture()
	vm.RetainingPaths["objects/10"] = &vmservice.RetainingPath{Elements: []vmservice.RetainingObject{
		{Value: vmservice.Ref{Type: "@Instance", ID: "objects/10"}},
		{Value: vmservice.Ref{Type: "@Instance", ID: "objects/13", Class: classRef("c/2", "Registry", "package:shop/registry.dart")},
			ParentField: field("orders")},
	}}

	info, err := newTracer(t, vm, nil).Trace(context.Background(), "isolates/1", "classes/2")
	require.NoError(t, err)
	assert.Equal(t, snapshot.RootIsolate, info.RootType)
}

func TestRetentionTracer_Errors(t *testing.T) {
	t.Run("not a class", func(t *testing.T) {
		vm := retentionFixture()
		vm.Objects["objects/1"] = &vmservice.Object{Ref: vmservice.Ref{Type: "Instance", ID: "objects/1"}}

		_, err := newTracer(t, vm, nil).Trace(context.Background(), "isolates/1", "objects/1")
		assert.True(t, perrors.Is(err, perrors.KindNotFound), "got %v", err)
	})

	t.Run("no instances", func(t *testing.T) {
		vm := retentionFixture()
		vm.Instances["classes/2"] = &vmservice.InstanceSet{}

		_, err := newTracer(t, vm, nil).Trace(context.Background(), "isolates/1", "classes/2")
		assert.True(t, perrors.Is(err, perrors.KindNoInstances), "got %v", err)
		assert.Equal(t, 0, vm.Calls("getRetainingPath"))
	})
}

func TestRetentionTracer_DepthCap(t *testing.T) {
	vm := retentionFixture()
	var long []vmservice.RetainingObject
	for i := 0; i < 150; i++ {
		long = append(long, vmservice.RetainingObject{Value: vmservice.Ref{Type: "@Instance", ID: "objects/x"}, ParentListIndex: index(i)})
	}
	vm.RetainingPaths["objects/10"] = &vmservice.RetainingPath{Elements: long}

	tracer := NewRetentionTracer(vm, nil, snapshot.NewClassifier(nil, nil), RetentionConfig{MaxDepth: 20}, testutil.NewTestLogger(t))
	info, err := tracer.Trace(context.Background(), "isolates/1", "classes/2")
	require.NoError(t, err)
	assert.Len(t, info.Steps, 21)
}
