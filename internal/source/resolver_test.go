package source_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/vmlens/internal/source"
	"github.com/coral-mesh/vmlens/internal/testutil"
	"github.com/coral-mesh/vmlens/internal/vmservice"
	"github.com/coral-mesh/vmlens/internal/vmservice/vmservicetest"
)

const orderSource = `import 'package:flutter/widgets.dart';

class OrderItem {
  OrderItem(this.sku, this.qty);
  final String sku;
  final int qty;
}

class Cart {
  final List<OrderItem> _items = [];

  int total() {
    return _items.length;
  }

  int get size => _items.length;
}
`

type fakeFiles struct {
	mu    sync.Mutex
	roots []string
	dirs  map[string][]string
	files map[string]string
	reads []string
}

func (f *fakeFiles) WorkspaceRoots(context.Context) ([]string, error) {
	return f.roots, nil
}

func (f *fakeFiles) ListDirectory(_ context.Context, uri string) ([]string, error) {
	entries, ok := f.dirs[uri]
	if !ok {
		return nil, errors.New("not a directory")
	}
	return entries, nil
}

func (f *fakeFiles) ReadFile(_ context.Context, uri string) (string, error) {
	f.mu.Lock()
	f.reads = append(f.reads, uri)
	f.mu.Unlock()
	content, ok := f.files[uri]
	if !ok {
		return "", errors.New("file does not exist")
	}
	return content, nil
}

func newResolver(t *testing.T, vm vmservice.Client, files source.FileAccess) *source.Resolver {
	t.Helper()
	opts := source.DefaultOptions()
	opts.CallTimeout = 100 * time.Millisecond
	return source.NewResolver(vm, files, opts, testutil.NewTestLogger(t))
}

func TestResolveClass_ProtocolLine(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["classes/1"] = vmservicetest.Class("classes/1", "Cart", "package:shop/models/order.dart", "scripts/1", 9)
	vm.Objects["scripts/1"] = vmservicetest.Script("scripts/1", "package:shop/models/order.dart", orderSource)

	loc := newResolver(t, vm, nil).ResolveClass(context.Background(), "isolates/1", "classes/1")
	require.NotNil(t, loc)
	assert.Equal(t, "lib/models/order.dart", loc.FilePath)
	require.NotNil(t, loc.Line)
	assert.Equal(t, 9, *loc.Line)
	assert.Contains(t, loc.Snippet, "class Cart {")
	assert.Equal(t, "Cart", loc.Name)
}

func TestResolveClass_SearchesEmbeddedSource(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["classes/2"] = vmservicetest.Class("classes/2", "OrderItem", "package:shop/models/order.dart", "scripts/1", 1)
	vm.Objects["scripts/1"] = vmservicetest.Script("scripts/1", "package:shop/models/order.dart", orderSource)

	r := newResolver(t, vm, nil)
	loc := r.ResolveClass(context.Background(), "isolates/1", "classes/2")
	require.NotNil(t, loc)
	require.NotNil(t, loc.Line)
	assert.Equal(t, 3, *loc.Line, "line 1 is not trusted")
	assert.Contains(t, loc.UsageContext, "final List<OrderItem> _items")

	// The script is served from the cache on the next lookup.
	before := vm.Calls("getObject")
	_ = r.ResolveClass(context.Background(), "isolates/1", "classes/2")
	assert.Equal(t, before+1, vm.Calls("getObject"))
	assert.Equal(t, []string{"package:shop/models/order.dart"}, r.Cache().Keys())
}

func TestResolveClass_SameRelativePathInTwoPackages(t *testing.T) {
	const invoiceSource = "// billing\n\nclass Invoice {\n  final int total = 0;\n}\n"
	vm := vmservicetest.New()
	vm.Objects["classes/2"] = vmservicetest.Class("classes/2", "OrderItem", "package:shop/models.dart", "scripts/1", 1)
	vm.Objects["scripts/1"] = vmservicetest.Script("scripts/1", "package:shop/models.dart", orderSource)
	vm.Objects["classes/7"] = vmservicetest.Class("classes/7", "Invoice", "package:billing/models.dart", "scripts/2", 1)
	vm.Objects["scripts/2"] = vmservicetest.Script("scripts/2", "package:billing/models.dart", invoiceSource)

	r := newResolver(t, vm, nil)
	order := r.ResolveClass(context.Background(), "isolates/1", "classes/2")
	invoice := r.ResolveClass(context.Background(), "isolates/1", "classes/7")

	require.NotNil(t, order)
	require.NotNil(t, order.Line)
	assert.Equal(t, 3, *order.Line)

	require.NotNil(t, invoice)
	assert.Equal(t, "lib/models.dart", invoice.FilePath)
	require.NotNil(t, invoice.Line)
	assert.Equal(t, 3, *invoice.Line)
	assert.Contains(t, invoice.Snippet, "class Invoice {")
	assert.NotContains(t, invoice.Snippet, "OrderItem")
	assert.Len(t, r.Cache().Keys(), 2)
}

func TestResolveClass_TokenPositionSurvivesCache(t *testing.T) {
	vm := vmservicetest.New()
	class := vmservicetest.Class("classes/2", "OrderItem", "package:shop/models/order.dart", "scripts/1", 0)
	class.Location.TokenPos = 14
	vm.Objects["classes/2"] = class
	script := vmservicetest.Script("scripts/1", "package:shop/models/order.dart", orderSource)
	script.TokenPosTable = [][]int{{4, 14, 3}}
	vm.Objects["scripts/1"] = script

	r := newResolver(t, vm, nil)
	first := r.ResolveClass(context.Background(), "isolates/1", "classes/2")
	second := r.ResolveClass(context.Background(), "isolates/1", "classes/2")

	require.NotNil(t, first)
	require.NotNil(t, first.Line)
	assert.Equal(t, 4, *first.Line)
	require.NotNil(t, second)
	require.NotNil(t, second.Line)
	assert.Equal(t, *first.Line, *second.Line)
}

func TestResolveClass_ReadsThroughFileAccess(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["classes/2"] = vmservicetest.Class("classes/2", "OrderItem", "package:shop/models/order.dart", "scripts/1", 0)
	vm.Objects["scripts/1"] = vmservicetest.Script("scripts/1", "package:shop/models/order.dart", "")

	files := &fakeFiles{
		roots: []string{"file:///work"},
		dirs: map[string][]string{
			"file:///work":      {"file:///work/shop/", "file:///work/README.md"},
			"file:///work/shop": {"file:///work/shop/lib/", "file:///work/shop/pubspec.yaml"},
		},
		files: map[string]string{"file:///work/shop/lib/models/order.dart": orderSource},
	}

	loc := newResolver(t, vm, files).ResolveClass(context.Background(), "isolates/1", "classes/2")
	require.NotNil(t, loc)
	require.NotNil(t, loc.Line)
	assert.Equal(t, 3, *loc.Line)
	assert.Contains(t, files.reads, "file:///work/shop/lib/models/order.dart")
}

func TestResolveClass_DegradesToPath(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["classes/2"] = vmservicetest.Class("classes/2", "OrderItem", "package:shop/models/order.dart", "scripts/1", 0)

	files := &fakeFiles{roots: []string{"file:///work"}, dirs: map[string][]string{}, files: map[string]string{}}

	loc := newResolver(t, vm, files).ResolveClass(context.Background(), "isolates/1", "classes/2")
	require.NotNil(t, loc)
	assert.Equal(t, "lib/models/order.dart", loc.FilePath)
	assert.Nil(t, loc.Line)
	assert.Empty(t, loc.Snippet)
}

func TestResolveClass_NotAClass(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["objects/1"] = &vmservice.Object{Ref: vmservice.Ref{Type: vmservice.TypeInstance, ID: "objects/1"}}

	r := newResolver(t, vm, nil)
	assert.Nil(t, r.ResolveClass(context.Background(), "isolates/1", "objects/1"))
	assert.Nil(t, r.ResolveClass(context.Background(), "isolates/1", "classes/404"))
}

func TestResolveClass_Timeout(t *testing.T) {
	vm := vmservicetest.New()
	vm.Block["getObject"] = true

	start := time.Now()
	loc := newResolver(t, vm, nil).ResolveClass(context.Background(), "isolates/1", "classes/1")
	assert.Nil(t, loc)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolveFunction(t *testing.T) {
	vm := vmservicetest.New()
	vm.Objects["functions/1"] = &vmservice.Object{Ref: vmservice.Ref{
		Type: vmservice.TypeFunction,
		ID:   "functions/1",
		Name: "total",
		Owner: &vmservice.Ref{Type: "@Class", Name: "Cart",
			Library: &vmservice.Ref{Type: "@Library", URI: "package:shop/models/order.dart"}},
		Location: &vmservice.SourceLocation{Script: &vmservice.Ref{Type: "@Script", ID: "scripts/1", URI: "package:shop/models/order.dart"}},
	}}
	vm.Objects["scripts/1"] = vmservicetest.Script("scripts/1", "package:shop/models/order.dart", orderSource)

	loc := newResolver(t, vm, nil).ResolveFunction(context.Background(), "isolates/1", "functions/1")
	require.NotNil(t, loc)
	require.NotNil(t, loc.Line)
	assert.Equal(t, 12, *loc.Line)
	assert.Empty(t, loc.UsageContext)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"package:app/x.dart":               "lib/x.dart",
		"package:shop/models/order.dart":   "lib/models/order.dart",
		"file:///a/b.dart":                 "/a/b.dart",
		"org-dartlang-app:///lib/main.dart": "lib/main.dart",
		"dart:core":                        "dart:core",
	}
	for in, want := range tests {
		assert.Equal(t, want, source.NormalizePath(in), in)
	}
}

func TestFindFunctionLine(t *testing.T) {
	assert.Equal(t, 12, source.FindFunctionLine(orderSource, "total"))
	assert.Equal(t, 12, source.FindFunctionLine(orderSource, "Cart.total"))
	assert.Equal(t, 16, source.FindFunctionLine(orderSource, "size"))
	assert.Equal(t, 0, source.FindFunctionLine(orderSource, "missing"))
	assert.Equal(t, 0, source.FindFunctionLine(orderSource, "<anonymous closure>"))
}

func TestFindClassLine(t *testing.T) {
	src := "class Box<T> {}\nabstract class Shape{}\nclass Cart extends Base {}"
	assert.Equal(t, 1, source.FindClassLine(src, "Box"))
	assert.Equal(t, 2, source.FindClassLine(src, "Shape"))
	assert.Equal(t, 3, source.FindClassLine(src, "Cart"))
	assert.Equal(t, 0, source.FindClassLine(src, "Car"))
}

func TestSnippet(t *testing.T) {
	s := source.Snippet(orderSource, 1, 2)
	lines := strings.Split(s, "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "   1 | import"))
	assert.Empty(t, source.Snippet(orderSource, 999, 2))
}

func TestLineForTokenPos(t *testing.T) {
	table := [][]int{{3, 10, 1, 14, 7}, {9, 40, 1}}
	assert.Equal(t, 3, source.LineForTokenPos(table, 14))
	assert.Equal(t, 9, source.LineForTokenPos(table, 40))
	assert.Equal(t, 0, source.LineForTokenPos(table, 99))
}
