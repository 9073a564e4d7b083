// Package source resolves classes and functions of a running app to source
// locations.
//
// Resolution is tiered. The line reported by the VM is used when it is
// plausible, then the script source embedded in the VM is searched, and
// finally the file is read through a FileAccess (the tooling daemon) for
// builds that carry no sources. Every file that is read goes through the
// resolver's LRU cache. Failures yield a location with only the file path,
// or nil when nothing is known.
package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// FileAccess reads project files outside the VM.
type FileAccess interface {
	WorkspaceRoots(ctx context.Context) ([]string, error)
	ListDirectory(ctx context.Context, uri string) ([]string, error)
	ReadFile(ctx context.Context, uri string) (string, error)
}

// Options tunes the resolver.
type Options struct {
	CallTimeout    time.Duration
	CacheEntries   int
	SnippetRadius  int
	MaxListDepth   int
	MaxListEntries int
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		CallTimeout:    3 * time.Second,
		CacheEntries:   64,
		SnippetRadius:  3,
		MaxListDepth:   2,
		MaxListEntries: 200,
	}
}

// Resolver maps VM object ids to CodeLocations.
type Resolver struct {
	vm     vmservice.Client
	files  FileAccess
	cache  *Cache
	opts   Options
	logger zerolog.Logger

	rootsMu sync.Mutex
	roots   []string
	rootsOK bool
}

// NewResolver creates a resolver. files may be nil.
func NewResolver(vm vmservice.Client, files FileAccess, opts Options, logger zerolog.Logger) *Resolver {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = def.CacheEntries
	}
	if opts.SnippetRadius <= 0 {
		opts.SnippetRadius = def.SnippetRadius
	}
	if opts.MaxListDepth <= 0 {
		opts.MaxListDepth = def.MaxListDepth
	}
	if opts.MaxListEntries <= 0 {
		opts.MaxListEntries = def.MaxListEntries
	}
	return &Resolver{
		vm:     vm,
		files:  files,
		cache:  NewCache(opts.CacheEntries),
		opts:   opts,
		logger: logger.With().Str("component", "source_resolver").Logger(),
	}
}

// Cache exposes the file-content cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// ResolveClass locates the declaration of a class.
func (r *Resolver) ResolveClass(ctx context.Context, isolateID, classID string) *snapshot.CodeLocation {
	obj, err := r.getObject(ctx, isolateID, classID)
	if err != nil {
		r.logger.Debug().Err(err).Str("class_id", classID).Msg("Class lookup failed")
		return nil
	}
	if obj.BaseType() != vmservice.TypeClass {
		return nil
	}
	return r.resolve(ctx, isolateID, obj, func(src string) int { return FindClassLine(src, obj.Name) }, obj.Name)
}

// ResolveFunction locates the definition of a function.
func (r *Resolver) ResolveFunction(ctx context.Context, isolateID, functionID string) *snapshot.CodeLocation {
	obj, err := r.getObject(ctx, isolateID, functionID)
	if err != nil {
		r.logger.Debug().Err(err).Str("function_id", functionID).Msg("Function lookup failed")
		return nil
	}
	if obj.BaseType() != vmservice.TypeFunction {
		return nil
	}
	return r.resolve(ctx, isolateID, obj, func(src string) int { return FindFunctionLine(src, obj.Name) }, "")
}

func (r *Resolver) resolve(ctx context.Context, isolateID string, obj *vmservice.Object, search func(string) int, className string) *snapshot.CodeLocation {
	uri := scriptURI(obj)
	if uri == "" {
		return nil
	}
	loc := &snapshot.CodeLocation{FilePath: NormalizePath(uri), Name: obj.Name}

	var line int
	if obj.Location != nil && obj.Location.Line > 1 {
		line = obj.Location.Line
	}

	src, tokens := r.loadSource(ctx, isolateID, obj, uri)
	if line == 0 && len(tokens) > 0 && obj.Location != nil && obj.Location.TokenPos > 0 {
		if l := LineForTokenPos(tokens, obj.Location.TokenPos); l > 1 {
			line = l
		}
	}
	if line == 0 && src != "" {
		line = search(src)
	}
	if line == 0 {
		return loc
	}

	loc.Line = snapshot.LineOf(line)
	if src != "" {
		loc.Snippet = Snippet(src, line, r.opts.SnippetRadius)
		if className != "" {
			loc.UsageContext = UsageContext(src, className, line)
		}
	}
	return loc
}

// loadSource returns the text of the script declaring obj and the script's
// token position table when the VM provided one. Entries are keyed by the
// full script URI, so equal relative paths in different packages stay apart.
func (r *Resolver) loadSource(ctx context.Context, isolateID string, obj *vmservice.Object, uri string) (string, [][]int) {
	if content, tokens, ok := r.cache.GetScript(uri); ok {
		return content, tokens
	}

	var tokens [][]int
	if obj.Location != nil && obj.Location.Script != nil && obj.Location.Script.ID != "" {
		s, err := r.getObject(ctx, isolateID, obj.Location.Script.ID)
		if err != nil {
			r.logger.Debug().Err(err).Str("uri", uri).Msg("Script lookup failed")
		} else {
			tokens = s.TokenPosTable
			if s.Source != "" {
				r.cache.PutScript(uri, s.Source, tokens)
				return s.Source, tokens
			}
		}
	}

	content, err := r.readFile(ctx, uri)
	if err != nil {
		r.logger.Debug().Err(err).Str("uri", uri).Msg("Source not available")
		return "", tokens
	}
	r.cache.PutScript(uri, content, tokens)
	return content, tokens
}

func (r *Resolver) readFile(ctx context.Context, uri string) (string, error) {
	if r.files == nil {
		return "", perrors.Newf(perrors.KindUnavailable, "read source", "no file access for %s", uri)
	}

	var lastErr error
	for _, candidate := range r.candidates(ctx, uri) {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		content, err := r.files.ReadFile(callCtx, candidate)
		cancel()
		if err == nil {
			return content, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = perrors.Newf(perrors.KindNotFound, "read source", "no candidate file for %s", uri)
	}
	return "", lastErr
}

// candidates lists file URIs that may hold uri's source.
func (r *Resolver) candidates(ctx context.Context, uri string) []string {
	if strings.HasPrefix(uri, "file://") {
		return []string{uri}
	}

	rel := NormalizePath(uri)
	if strings.HasPrefix(rel, "/") || rel == uri {
		return nil
	}
	pkg, _ := snapshot.PackageName(uri)

	var out []string
	seen := make(map[string]bool)
	add := func(dir string) {
		c := strings.TrimSuffix(dir, "/") + "/" + rel
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, root := range r.workspaceRoots(ctx) {
		add(root)
		if pkg != "" {
			add(root + "/" + pkg)
		}
		for _, dir := range r.packageDirs(ctx, root) {
			add(dir)
		}
	}
	return out
}

func (r *Resolver) workspaceRoots(ctx context.Context) []string {
	r.rootsMu.Lock()
	defer r.rootsMu.Unlock()
	if r.rootsOK {
		return r.roots
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	roots, err := r.files.WorkspaceRoots(callCtx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Workspace roots not available")
		return nil
	}
	r.roots, r.rootsOK = roots, true
	return roots
}

// packageDirs walks root breadth first, bounded by depth and entry count,
// and returns directories that contain a lib/ folder.
func (r *Resolver) packageDirs(ctx context.Context, root string) []string {
	type item struct {
		uri   string
		depth int
	}
	queue := []item{{uri: root, depth: 0}}
	var dirs []string
	visited := 0

	for len(queue) > 0 && visited < r.opts.MaxListEntries {
		cur := queue[0]
		queue = queue[1:]

		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		entries, err := r.files.ListDirectory(callCtx, cur.uri)
		cancel()
		if err != nil {
			continue
		}

		for _, e := range entries {
			visited++
			if visited > r.opts.MaxListEntries {
				break
			}
			if !strings.HasSuffix(e, "/") {
				continue
			}
			name := strings.TrimSuffix(e[strings.LastIndex(strings.TrimSuffix(e, "/"), "/")+1:], "/")
			if name == "lib" {
				if cur.depth > 0 {
					dirs = append(dirs, cur.uri)
				}
				continue
			}
			if strings.HasPrefix(name, ".") || name == "build" {
				continue
			}
			if cur.depth+1 <= r.opts.MaxListDepth {
				queue = append(queue, item{uri: strings.TrimSuffix(e, "/"), depth: cur.depth + 1})
			}
		}
	}
	return dirs
}

func (r *Resolver) getObject(ctx context.Context, isolateID, id string) (*vmservice.Object, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.vm.GetObject(callCtx, isolateID, id)
}

func scriptURI(obj *vmservice.Object) string {
	if obj.Location != nil && obj.Location.Script != nil && obj.Location.Script.URI != "" {
		return obj.Location.Script.URI
	}
	return obj.LibraryURI()
}

// NormalizePath turns a library URI into a path: package:app/x.dart becomes
// lib/x.dart, file:///a/b.dart becomes /a/b.dart and
// org-dartlang-app:///lib/x.dart becomes lib/x.dart.
func NormalizePath(uri string) string {
	switch {
	case strings.HasPrefix(uri, "package:"):
		rest := strings.TrimPrefix(uri, "package:")
		if _, path, ok := strings.Cut(rest, "/"); ok {
			return "lib/" + path
		}
		return uri
	case strings.HasPrefix(uri, "file://"):
		return strings.TrimPrefix(uri, "file://")
	case strings.HasPrefix(uri, "org-dartlang-app:///"):
		return strings.TrimPrefix(uri, "org-dartlang-app:///")
	default:
		return uri
	}
}

// LineForTokenPos maps a token position through a script's token table.
// Each row is [line, pos, col, pos, col, ...].
func LineForTokenPos(table [][]int, tokenPos int) int {
	for _, row := range table {
		for i := 1; i+1 < len(row); i += 2 {
			if row[i] == tokenPos {
				return row[0]
			}
		}
	}
	return 0
}

// FindClassLine returns the 1-based line declaring class name, or 0.
func FindClassLine(src, name string) int {
	if name == "" {
		return 0
	}
	re := regexp.MustCompile(`(^|\s)class\s+` + regexp.QuoteMeta(name) + `(\s|<|\{|$)`)
	for i, line := range strings.Split(src, "\n") {
		if re.MatchString(line) {
			return i + 1
		}
	}
	return 0
}

// FindFunctionLine returns the 1-based line defining function name, or 0.
// Qualified names such as Cart.total match on their last segment.
func FindFunctionLine(src, name string) int {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "<anonymous closure>" {
		return 0
	}
	q := regexp.QuoteMeta(name)
	def := regexp.MustCompile(`(^|[\s>?\]])` + q + `\s*(<[^>]*>)?\s*\(`)
	getter := regexp.MustCompile(`\b(get|set)\s+` + q + `\b`)

	for i, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "return ") {
			continue
		}
		if getter.MatchString(line) {
			return i + 1
		}
		if !def.MatchString(line) {
			continue
		}
		// Calls end in ';' unless the definition is an arrow function.
		if strings.HasSuffix(trimmed, ";") && !strings.Contains(trimmed, "=>") {
			continue
		}
		return i + 1
	}
	return 0
}

// Snippet returns the lines around line, numbered.
func Snippet(src string, line, radius int) string {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	from := max(line-radius, 1)
	to := min(line+radius, len(lines))

	var b strings.Builder
	for n := from; n <= to; n++ {
		fmt.Fprintf(&b, "%4d | %s\n", n, lines[n-1])
	}
	return strings.TrimRight(b.String(), "\n")
}

// UsageContext returns the first field declaration outside the declaring
// line whose type mentions className, with one line of context.
func UsageContext(src, className string, declLine int) string {
	if className == "" {
		return ""
	}
	q := regexp.QuoteMeta(className)
	field := regexp.MustCompile(`^\s*((static|late|final|const)\s+)*[\w.<>, ?]*\b` + q + `\b[\w.<>, ?]*\s+\w+\s*(=|;)`)

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if i+1 == declLine {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "class ") || strings.HasPrefix(trimmed, "return ") ||
			strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if field.MatchString(line) {
			return Snippet(src, i+1, 1)
		}
	}
	return ""
}
