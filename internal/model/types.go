// Package model defines the snapshot, diff and health types produced by the
// myscope parsers and comparator. All types serialize to JSON and are
// immutable once built: comparison and classification never mutate them.
// Schema version: 1.0.0
package model

import (
	"strings"
	"time"

	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

// SchemaVersion is stamped on every JSON document written by myscope.
const SchemaVersion = "1.0.0"

// --- Input ---

// RawText is one command's output as captured from one host.
type RawText struct {
	Text       string    `json:"text"`
	Command    string    `json:"command"`
	Host       string    `json:"host,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// --- Snapshot kinds ---

// Kind tags what a snapshot was parsed from.
type Kind string

const (
	KindInnoDB      Kind = "innodb"
	KindStatus      Kind = "status"
	KindVariables   Kind = "variables"
	KindProcessList Kind = "processlist"
	KindReplica     Kind = "replica"
	KindPrimary     Kind = "primary"
)

// Shape is the structural type behind a Kind.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeKeyValue
	ShapeTabular
	ShapeInnoDB
)

// Shape returns the structural type of snapshots of kind k.
func (k Kind) Shape() Shape {
	switch k {
	case KindStatus, KindVariables, KindReplica, KindPrimary:
		return ShapeKeyValue
	case KindProcessList:
		return ShapeTabular
	case KindInnoDB:
		return ShapeInnoDB
	}
	return ShapeUnknown
}

// Kinds lists every snapshot kind in collection order.
func Kinds() []Kind {
	return []Kind{KindInnoDB, KindStatus, KindProcessList, KindVariables, KindReplica, KindPrimary}
}

// Meta identifies a snapshot.
type Meta struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Host       string    `json:"host,omitempty"`
	Command    string    `json:"command,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Diagnostics records everything a parser skipped or could not understand.
// A parse with empty diagnostics succeeded fully.
type Diagnostics struct {
	SkippedLines         int      `json:"skipped_lines,omitempty"`
	MalformedRows        int      `json:"malformed_rows,omitempty"`
	DuplicateKeys        []string `json:"duplicate_keys,omitempty"`
	UnrecognizedSections []string `json:"unrecognized_sections,omitempty"`
	Notes                []string `json:"notes,omitempty"`
}

// Clean reports whether nothing was degraded.
func (d Diagnostics) Clean() bool {
	return d.SkippedLines == 0 && d.MalformedRows == 0 &&
		len(d.DuplicateKeys) == 0 && len(d.UnrecognizedSections) == 0 && len(d.Notes) == 0
}

// --- Values ---

// Value is either a normalized number or a verbatim string.
type Value struct {
	Number *quantity.Quantity `json:"number,omitempty"`
	Text   string             `json:"text,omitempty"`
}

// NumberValue wraps a numeric quantity.
func NumberValue(q quantity.Quantity) Value {
	return Value{Number: &q}
}

// TextValue wraps a string.
func TextValue(s string) Value {
	return Value{Text: s}
}

// ParseValue normalizes token; anything that is not a number is kept as text.
func ParseValue(token string) Value {
	token = strings.TrimSpace(token)
	q := quantity.Normalize(token)
	if !q.IsNumeric() {
		return TextValue(token)
	}
	return NumberValue(q)
}

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool {
	return v.Number != nil
}

// String returns the canonical text of v.
func (v Value) String() string {
	if v.Number != nil {
		return v.Number.String()
	}
	return v.Text
}

// Human returns an operator-friendly rendering of v.
func (v Value) Human() string {
	if v.Number != nil {
		return v.Number.Human()
	}
	return v.Text
}

// Equal reports whether two values are the same. Numbers of the same unit
// compare numerically, so 5 and 5.0 are equal.
func (v Value) Equal(o Value) bool {
	if v.Number != nil && o.Number != nil {
		if c, ok := quantity.Compare(*v.Number, *o.Number); ok {
			return c == 0
		}
	}
	if v.IsNumber() != o.IsNumber() {
		return false
	}
	return v.String() == o.String()
}

// --- Key/value snapshots: SHOW GLOBAL STATUS / VARIABLES ---

// KeyValue is one name/value pair.
type KeyValue struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// KeyValueSnapshot is an ordered mapping in server emission order.
// Keys are unique.
type KeyValueSnapshot struct {
	Meta
	Entries     []KeyValue  `json:"entries"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Get returns the value for key.
func (s *KeyValueSnapshot) Get(key string) (Value, bool) {
	for _, e := range s.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// GetFold is Get with a case-insensitive key match; variable names are
// reported in different cases by different server versions.
func (s *KeyValueSnapshot) GetFold(key string) (Value, bool) {
	if v, ok := s.Get(key); ok {
		return v, true
	}
	for _, e := range s.Entries {
		if strings.EqualFold(e.Key, key) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// --- Tabular snapshots: SHOW FULL PROCESSLIST ---

// ProcessRow is one session. Optional columns are nil when the server did
// not report them or reported NULL.
type ProcessRow struct {
	ID      int64   `json:"id"`
	User    string  `json:"user"`
	Host    string  `json:"host"`
	DB      *string `json:"db,omitempty"`
	Command string  `json:"command"`
	Time    int64   `json:"time"`
	State   *string `json:"state,omitempty"`
	Info    *string `json:"info,omitempty"`
}

// TabularSnapshot is the list of sessions in source order.
type TabularSnapshot struct {
	Meta
	Columns     []string     `json:"columns"`
	Rows        []ProcessRow `json:"rows"`
	Diagnostics Diagnostics  `json:"diagnostics"`
}

// ProcessFilter selects sessions. Zero fields match everything; string
// fields are case-insensitive substring matches.
type ProcessFilter struct {
	User    string
	State   string
	MinTime int64
	Query   string
}

// Filter returns the rows matching f, in source order.
func (s *TabularSnapshot) Filter(f ProcessFilter) []ProcessRow {
	var out []ProcessRow
	for _, r := range s.Rows {
		if f.User != "" && !containsFold(r.User, f.User) {
			continue
		}
		if f.State != "" && (r.State == nil || !containsFold(*r.State, f.State)) {
			continue
		}
		if r.Time < f.MinTime {
			continue
		}
		if f.Query != "" && (r.Info == nil || !containsFold(*r.Info, f.Query)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// --- InnoDB snapshots: SHOW ENGINE INNODB STATUS ---

// InnoDBFact is one value extracted from a section of the monitor output.
type InnoDBFact struct {
	Section string            `json:"section"`
	Name    string            `json:"name"`
	Value   quantity.Quantity `json:"value"`
}

// Key identifies the fact across snapshots.
func (f InnoDBFact) Key() string {
	return f.Section + "/" + f.Name
}

// InnoDBSnapshot holds the facts from one monitor dump plus verbatim
// transaction excerpts, which are not parsed further.
type InnoDBSnapshot struct {
	Meta
	Facts        []InnoDBFact `json:"facts"`
	Transactions []string     `json:"transactions,omitempty"`
	Deadlock     string       `json:"deadlock,omitempty"`
	Diagnostics  Diagnostics  `json:"diagnostics"`
}

// Fact looks up a fact by section and name.
func (s *InnoDBSnapshot) Fact(section, name string) (quantity.Quantity, bool) {
	for _, f := range s.Facts {
		if f.Section == section && f.Name == name {
			return f.Value, true
		}
	}
	return quantity.Quantity{}, false
}

// --- Snapshot envelope ---

// Snapshot holds exactly one of the three snapshot shapes.
type Snapshot struct {
	KeyValue *KeyValueSnapshot `json:"key_value,omitempty"`
	Tabular  *TabularSnapshot  `json:"tabular,omitempty"`
	InnoDB   *InnoDBSnapshot   `json:"innodb,omitempty"`
}

// Meta returns the identifying metadata of the populated shape.
func (s Snapshot) Meta() Meta {
	switch {
	case s.KeyValue != nil:
		return s.KeyValue.Meta
	case s.Tabular != nil:
		return s.Tabular.Meta
	case s.InnoDB != nil:
		return s.InnoDB.Meta
	}
	return Meta{}
}

// Kind returns the snapshot kind.
func (s Snapshot) Kind() Kind {
	return s.Meta().Kind
}

// Diagnostics returns the diagnostics of the populated shape.
func (s Snapshot) Diagnostics() Diagnostics {
	switch {
	case s.KeyValue != nil:
		return s.KeyValue.Diagnostics
	case s.Tabular != nil:
		return s.Tabular.Diagnostics
	case s.InnoDB != nil:
		return s.InnoDB.Diagnostics
	}
	return Diagnostics{}
}

// --- Diff ---

// ChangeKind classifies a diff entry.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Direction is a purely numeric classification of a change. It carries no
// good/bad judgement.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
	Modified Direction = "modified"
)

// DiffEntry is one added, removed or changed key.
type DiffEntry struct {
	Kind      ChangeKind         `json:"kind"`
	Key       string             `json:"key"`
	Before    *Value             `json:"before,omitempty"`
	After     *Value             `json:"after,omitempty"`
	Delta     *quantity.Quantity `json:"delta,omitempty"`
	Direction Direction          `json:"direction,omitempty"`
}

// DiffResult compares two snapshots of the same kind. Unchanged keys are
// only counted.
type DiffResult struct {
	Kind      Kind        `json:"kind"`
	BeforeID  string      `json:"before_id"`
	AfterID   string      `json:"after_id"`
	Entries   []DiffEntry `json:"entries"`
	Unchanged int         `json:"unchanged"`
}

// Select returns the entries of the given kind, in order.
func (r *DiffResult) Select(kind ChangeKind) []DiffEntry {
	var out []DiffEntry
	for _, e := range r.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// --- Health ---

// Verdict is the tri-state health indicator.
type Verdict string

const (
	Nominal  Verdict = "nominal"
	Warning  Verdict = "warning"
	Critical Verdict = "critical"
)

// HealthVerdict is the outcome of classifying one key.
type HealthVerdict struct {
	Key      string  `json:"key"`
	Observed Value   `json:"observed"`
	Rule     string  `json:"rule"`
	Verdict  Verdict `json:"verdict"`
	Reason   string  `json:"reason,omitempty"`
}
