// Package diff compares two snapshots of the same kind and reports which keys
// were added, removed or changed. Direction is purely numeric: whether an
// increase is good or bad is left to the health rules.
package diff

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

// ErrKindMismatch is matched by every KindMismatchError.
var ErrKindMismatch = errors.New("snapshot kinds differ")

// KindMismatchError reports an attempt to compare snapshots of different
// kinds. It is a caller bug, not degraded input.
type KindMismatchError struct {
	Before, After model.Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("cannot compare %s snapshot with %s snapshot", e.Before, e.After)
}

func (e *KindMismatchError) Unwrap() error { return ErrKindMismatch }

// DefaultLongRunning is the session age, in seconds, above which a session
// counts as long running in process list aggregates.
const DefaultLongRunning = 10

// Options tunes a comparison.
type Options struct {
	// Only restricts the comparison to keys matching one of these path.Match
	// patterns. Empty means every key.
	Only []string
	// LongRunning overrides DefaultLongRunning when positive.
	LongRunning int64
}

// Summary counts the entries of a result by kind.
type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

// LoadSnapshot reads a snapshot JSON document.
func LoadSnapshot(file string) (model.Snapshot, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return model.Snapshot{}, errors.Wrapf(err, "read %s", file)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, errors.Wrapf(err, "parse %s", file)
	}
	if snap.Kind() == "" {
		return model.Snapshot{}, errors.Newf("%s: not a snapshot document", file)
	}
	return snap, nil
}

// Compare diffs two snapshots with default options.
func Compare(before, after model.Snapshot) (*model.DiffResult, error) {
	return CompareWith(before, after, Options{})
}

// CompareWith diffs two snapshots of the same kind. Key/value snapshots are
// compared key by key, InnoDB snapshots fact by fact, and process lists by
// their aggregates since session ids are not stable across captures.
func CompareWith(before, after model.Snapshot, opts Options) (*model.DiffResult, error) {
	bk, ak := before.Kind(), after.Kind()
	if bk != ak {
		return nil, &KindMismatchError{Before: bk, After: ak}
	}
	b, err := entriesOf(before, opts)
	if err != nil {
		return nil, errors.Wrap(err, "before")
	}
	a, err := entriesOf(after, opts)
	if err != nil {
		return nil, errors.Wrap(err, "after")
	}

	res := compareEntries(filter(b, opts.Only), filter(a, opts.Only))
	res.Kind = bk
	res.BeforeID = before.Meta().ID
	res.AfterID = after.Meta().ID
	return res, nil
}

// Summarize counts the entries of r.
func Summarize(r *model.DiffResult) Summary {
	s := Summary{Unchanged: r.Unchanged}
	for _, e := range r.Entries {
		switch e.Kind {
		case model.Added:
			s.Added++
		case model.Removed:
			s.Removed++
		case model.Changed:
			s.Changed++
		}
	}
	return s
}

func entriesOf(s model.Snapshot, opts Options) ([]model.KeyValue, error) {
	switch {
	case s.KeyValue != nil:
		return s.KeyValue.Entries, nil
	case s.InnoDB != nil:
		out := make([]model.KeyValue, 0, len(s.InnoDB.Facts))
		for _, f := range s.InnoDB.Facts {
			v := model.NumberValue(f.Value)
			if !f.Value.IsNumeric() {
				v = model.TextValue(f.Value.String())
			}
			out = append(out, model.KeyValue{Key: f.Key(), Value: v})
		}
		return out, nil
	case s.Tabular != nil:
		threshold := opts.LongRunning
		if threshold <= 0 {
			threshold = DefaultLongRunning
		}
		return ProcessAggregates(s.Tabular, threshold), nil
	}
	return nil, errors.Newf("%s snapshot has no payload", s.Kind())
}

func filter(entries []model.KeyValue, only []string) []model.KeyValue {
	if len(only) == 0 {
		return entries
	}
	var out []model.KeyValue
	for _, e := range entries {
		for _, pattern := range only {
			if ok, _ := path.Match(pattern, e.Key); ok || pattern == e.Key {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// compareEntries walks the before keys in order, then the keys only present
// after, so removed and changed entries keep server order and added entries
// follow.
func compareEntries(before, after []model.KeyValue) *model.DiffResult {
	res := &model.DiffResult{}
	afterIdx := make(map[string]model.Value, len(after))
	for _, e := range after {
		afterIdx[e.Key] = e.Value
	}
	beforeIdx := make(map[string]bool, len(before))

	for _, e := range before {
		beforeIdx[e.Key] = true
		old := e.Value
		cur, ok := afterIdx[e.Key]
		switch {
		case !ok:
			res.Entries = append(res.Entries, model.DiffEntry{Kind: model.Removed, Key: e.Key, Before: &old})
		case old.Equal(cur):
			res.Unchanged++
		default:
			res.Entries = append(res.Entries, changed(e.Key, old, cur))
		}
	}
	for _, e := range after {
		if beforeIdx[e.Key] {
			continue
		}
		cur := e.Value
		res.Entries = append(res.Entries, model.DiffEntry{Kind: model.Added, Key: e.Key, After: &cur})
	}
	return res
}

func changed(key string, old, cur model.Value) model.DiffEntry {
	e := model.DiffEntry{Kind: model.Changed, Key: key, Before: &old, After: &cur, Direction: model.Modified}
	if old.Number == nil || cur.Number == nil {
		return e
	}
	d, ok := quantity.Sub(*cur.Number, *old.Number)
	if !ok {
		return e
	}
	e.Delta = &d
	switch d.Sign() {
	case 1:
		e.Direction = model.Increase
	case -1:
		e.Direction = model.Decrease
	}
	return e
}

// ProcessAggregates reduces a process list to comparable counters: total
// sessions, long running sessions, distinct users, the oldest session, and
// session counts per state, command and user.
func ProcessAggregates(t *model.TabularSnapshot, longRunning int64) []model.KeyValue {
	count := func(n int) model.Value { return model.NumberValue(quantity.NewInt(int64(n), quantity.Count)) }

	var (
		long    int
		maxTime int64
		states  = map[string]int{}
		cmds    = map[string]int{}
		users   = map[string]int{}
	)
	for _, r := range t.Rows {
		if r.Time > longRunning {
			long++
		}
		if r.Time > maxTime {
			maxTime = r.Time
		}
		state := "(none)"
		if r.State != nil && strings.TrimSpace(*r.State) != "" {
			state = *r.State
		}
		states[state]++
		cmds[r.Command]++
		users[r.User]++
	}

	out := []model.KeyValue{
		{Key: "total", Value: count(len(t.Rows))},
		{Key: "long_running", Value: count(long)},
		{Key: "distinct_users", Value: count(len(users))},
		{Key: "max_time", Value: model.NumberValue(quantity.NewInt(maxTime, quantity.Seconds))},
	}
	out = appendCounts(out, "state:", states)
	out = appendCounts(out, "command:", cmds)
	out = appendCounts(out, "user:", users)
	return out
}

func appendCounts(out []model.KeyValue, prefix string, counts map[string]int) []model.KeyValue {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, model.KeyValue{
			Key:   prefix + k,
			Value: model.NumberValue(quantity.NewInt(int64(counts[k]), quantity.Count)),
		})
	}
	return out
}
