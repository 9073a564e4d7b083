// Package privacy turns snapshots into data that may leave the machine.
//
// Redaction works on copies. Classification flags cached on the samples
// drive which identifiers survive, so nulling libraries never changes what
// counts as user code.
package privacy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// Level selects how much of a snapshot is kept.
type Level string

const (
	// LevelMaximum keeps user identifiers, pseudonymizes the rest and drops
	// paths, snippets and event arguments.
	LevelMaximum Level = "maximum"
	// LevelPartial keeps identifiers and snippets, drops paths and
	// libraries.
	LevelPartial Level = "partial"
	// LevelMinimal only scrubs PII patterns.
	LevelMinimal Level = "minimal"
)

// ParseLevel parses a level name. The empty string is LevelMaximum.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelMaximum:
		return LevelMaximum, nil
	case LevelPartial:
		return LevelPartial, nil
	case LevelMinimal:
		return LevelMinimal, nil
	default:
		return "", perrors.Newf(perrors.KindMalformed, "parse privacy level", "unknown level %q (want maximum, partial or minimal)", s)
	}
}

// AtLeast reports whether l redacts at least as much as floor.
func (l Level) AtLeast(floor Level) bool {
	return l.strength() >= floor.strength()
}

func (l Level) strength() int {
	switch l {
	case LevelMinimal:
		return 0
	case LevelPartial:
		return 1
	default:
		return 2
	}
}

// PseudonymPrefix starts every pseudonym.
const PseudonymPrefix = "id_"

// Redactor redacts snapshots. Pseudonyms are stable for one Redactor and
// differ between Redactors, since each carries its own salt.
type Redactor struct {
	salt string
}

// NewRedactor creates a redactor with a random salt.
func NewRedactor() *Redactor {
	return &Redactor{salt: uuid.NewString()}
}

// NewRedactorWithSalt creates a redactor with a fixed salt, for callers
// that need pseudonyms to match across processes.
func NewRedactorWithSalt(salt string) *Redactor {
	return &Redactor{salt: salt}
}

// Pseudonym returns the stable replacement for value.
func (r *Redactor) Pseudonym(value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf("%s%016x", PseudonymPrefix, xxh3.HashString(r.salt+"\x00"+value))
}

// Redact returns a redacted copy of snap. snap is not modified.
func (r *Redactor) Redact(snap *snapshot.Snapshot, level Level) *snapshot.Snapshot {
	if snap == nil {
		return nil
	}
	return snap.
		WithCPU(r.RedactCPU(snap.CPU, level)).
		WithMemory(r.redactMemory(snap.Memory, level)).
		WithTimeline(r.redactTimeline(snap.Timeline, level))
}

// RedactCPU returns a redacted copy of a CPU section.
func (r *Redactor) RedactCPU(cpu *snapshot.CPUData, level Level) *snapshot.CPUData {
	out := cpu.Clone()
	if out == nil {
		return nil
	}
	for i := range out.TopFunctions {
		fn := &out.TopFunctions[i]
		fn.Name = r.identifier(fn.Name, fn.IsUserCode(), level)
		fn.ClassName = r.identifier(fn.ClassName, fn.IsUserCode(), level)
		fn.Library = r.library(fn.Library, level)
		fn.Location = r.location(fn.Location, fn.IsUserCode(), level)
	}
	return out
}

// RedactClass returns a redacted copy of one allocation sample.
func (r *Redactor) RedactClass(sample snapshot.AllocationSample, level Level) snapshot.AllocationSample {
	out := sample.Clone()
	user := out.IsUserClass()
	out.ClassName = r.identifier(out.ClassName, user, level)
	out.Library = r.library(out.Library, level)
	out.Location = r.location(out.Location, user, level)

	if level == LevelMaximum {
		out.UsageSites = nil
	}
	for i := range out.UsageSites {
		site := r.location(&out.UsageSites[i], user, level)
		out.UsageSites[i] = *site
	}

	if out.Retention != nil {
		info := out.Retention
		info.ClassName = r.identifier(info.ClassName, user, level)
		info.RemoteRootType = Scrub(info.RemoteRootType)
		for i := range info.Steps {
			r.redactStep(&info.Steps[i], level)
		}
	}
	return out
}

// redactStep pseudonymizes the class, field and label of a non-user step at
// maximum and rebuilds its description from them.
func (r *Redactor) redactStep(step *snapshot.RetentionStep, level Level) {
	step.Location = r.location(step.Location, step.UserCode, level)
	if level != LevelMaximum || step.UserCode || step.IsGCRoot {
		step.Description = Scrub(step.Description)
		step.FieldLabel = Scrub(step.FieldLabel)
		step.ClassName = Scrub(step.ClassName)
		return
	}

	label, sep := stepLabel(step.Description, step.FieldLabel)
	if !snapshot.IsProtocolLabel(label) {
		label = r.Pseudonym(label)
	}
	if step.ClassName != "" {
		step.ClassName = r.Pseudonym(step.ClassName)
	}
	step.FieldLabel = r.fieldLabel(step.FieldLabel)
	step.Description = label + sep + step.FieldLabel
}

// stepLabel splits a description into the element label and the separator
// placed before the field label.
func stepLabel(description, field string) (string, string) {
	switch {
	case field == "":
		return description, ""
	case strings.HasPrefix(field, "["):
		return strings.TrimSuffix(description, field), ""
	default:
		return strings.TrimSuffix(description, "."+field), "."
	}
}

// fieldLabel pseudonymizes field names and map keys. List indices stay.
func (r *Redactor) fieldLabel(field string) string {
	if field == "" {
		return ""
	}
	if inner, ok := strings.CutPrefix(field, "["); ok {
		inner = strings.TrimSuffix(inner, "]")
		if _, err := strconv.Atoi(inner); err == nil {
			return field
		}
		return "[" + r.Pseudonym(inner) + "]"
	}
	return r.Pseudonym(field)
}

func (r *Redactor) redactMemory(mem *snapshot.MemoryData, level Level) *snapshot.MemoryData {
	if mem == nil {
		return nil
	}
	out := *mem
	out.Allocations = make([]snapshot.AllocationSample, len(mem.Allocations))
	for i, a := range mem.Allocations {
		out.Allocations[i] = r.RedactClass(a, level)
	}
	return &out
}

func (r *Redactor) redactTimeline(tl *snapshot.TimelineData, level Level) *snapshot.TimelineData {
	out := tl.Clone()
	if out == nil {
		return nil
	}
	for i := range out.SlowEvents {
		ev := &out.SlowEvents[i]
		ev.Name = Scrub(ev.Name)
		if level == LevelMaximum {
			ev.Args = nil
			continue
		}
		for k, v := range ev.Args {
			if s, ok := v.(string); ok {
				ev.Args[k] = Scrub(s)
			}
		}
	}
	return out
}

// identifier keeps user identifiers at every level. Others are
// pseudonymized at maximum only.
func (r *Redactor) identifier(name string, user bool, level Level) string {
	switch {
	case level == LevelMaximum && !user:
		return r.Pseudonym(name)
	case level == LevelMinimal:
		return Scrub(name)
	default:
		return name
	}
}

func (r *Redactor) library(lib string, level Level) string {
	if level == LevelMinimal {
		return Scrub(lib)
	}
	return ""
}

func (r *Redactor) location(loc *snapshot.CodeLocation, user bool, level Level) *snapshot.CodeLocation {
	out := loc.Clone()
	if out == nil {
		return nil
	}
	switch level {
	case LevelMaximum:
		out.FilePath = ""
		out.Snippet = ""
		out.UsageContext = ""
		out.Name = r.identifier(out.Name, user, level)
	case LevelPartial:
		out.FilePath = ""
		out.Snippet = Scrub(out.Snippet)
		out.UsageContext = Scrub(out.UsageContext)
	default:
		out.FilePath = Scrub(out.FilePath)
		out.Snippet = Scrub(out.Snippet)
		out.UsageContext = Scrub(out.UsageContext)
		out.Name = Scrub(out.Name)
	}
	return out
}
