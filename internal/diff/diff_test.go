package diff

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

func kvSnap(id string, kind model.Kind, pairs ...string) model.Snapshot {
	s := &model.KeyValueSnapshot{Meta: model.Meta{ID: id, Kind: kind}}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Entries = append(s.Entries, model.KeyValue{Key: pairs[i], Value: model.ParseValue(pairs[i+1])})
	}
	return model.Snapshot{KeyValue: s}
}

func entryFor(r *model.DiffResult, key string) (model.DiffEntry, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return model.DiffEntry{}, false
}

func negate(q quantity.Quantity) quantity.Quantity {
	switch q.Kind {
	case quantity.Int:
		q.Int = -q.Int
	case quantity.Float:
		q.Float = -q.Float
	}
	return q
}

func TestCompareCounterIncrease(t *testing.T) {
	a := kvSnap("a", model.KindStatus, "Aborted_connects", "10")
	b := kvSnap("b", model.KindStatus, "Aborted_connects", "15")

	res, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(res.Entries))
	}
	e := res.Entries[0]
	if e.Kind != model.Changed || e.Key != "Aborted_connects" {
		t.Errorf("entry = %+v", e)
	}
	if e.Direction != model.Increase {
		t.Errorf("direction = %s, want increase", e.Direction)
	}
	if e.Delta == nil || e.Delta.Kind != quantity.Int || e.Delta.Int != 5 {
		t.Errorf("delta = %+v, want int 5", e.Delta)
	}
	if res.BeforeID != "a" || res.AfterID != "b" || res.Kind != model.KindStatus {
		t.Errorf("result ids = %s/%s kind %s", res.BeforeID, res.AfterID, res.Kind)
	}
}

func TestCompareClassification(t *testing.T) {
	a := kvSnap("a", model.KindVariables,
		"max_connections", "151",
		"sql_mode", "STRICT_TRANS_TABLES",
		"old_var", "1",
		"wait_timeout", "28800",
		"ratio", "5",
	)
	b := kvSnap("b", model.KindVariables,
		"max_connections", "500",
		"sql_mode", "ANSI",
		"wait_timeout", "28800",
		"ratio", "5.0",
		"new_var", "ON",
	)

	res, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	s := Summarize(res)
	if diff := cmp.Diff(Summary{Added: 1, Removed: 1, Changed: 2, Unchanged: 2}, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	var order []string
	for _, e := range res.Entries {
		order = append(order, string(e.Kind)+":"+e.Key)
	}
	want := []string{"changed:max_connections", "changed:sql_mode", "removed:old_var", "added:new_var"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}

	mode, _ := entryFor(res, "sql_mode")
	if mode.Direction != model.Modified || mode.Delta != nil {
		t.Errorf("string change = %+v, want modified without delta", mode)
	}
}

func TestCompareUnitChangeIsModified(t *testing.T) {
	a := kvSnap("a", model.KindVariables, "x", "1024")
	b := kvSnap("b", model.KindVariables, "x", "1K")
	res, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Direction != model.Modified {
		t.Errorf("entries = %+v, want one modified entry", res.Entries)
	}
}

func TestCompareSymmetric(t *testing.T) {
	a := kvSnap("a", model.KindStatus,
		"Questions", "100", "Uptime", "60", "Gone", "1", "Same", "7", "Mode", "ON", "Ratio", "0.5")
	b := kvSnap("b", model.KindStatus,
		"Questions", "250", "Uptime", "120", "Same", "7", "Mode", "OFF", "Ratio", "0.25", "New", "3")

	ab, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare(a, b): %v", err)
	}
	ba, err := Compare(b, a)
	if err != nil {
		t.Fatalf("Compare(b, a): %v", err)
	}

	if ab.Unchanged != ba.Unchanged {
		t.Errorf("unchanged %d vs %d", ab.Unchanged, ba.Unchanged)
	}
	keys := func(r *model.DiffResult, k model.ChangeKind) []string {
		var out []string
		for _, e := range r.Select(k) {
			out = append(out, e.Key)
		}
		return out
	}
	sorted := cmpopts.SortSlices(func(x, y string) bool { return x < y })
	if diff := cmp.Diff(keys(ab, model.Added), keys(ba, model.Removed), sorted); diff != "" {
		t.Errorf("added(a,b) != removed(b,a):\n%s", diff)
	}
	if diff := cmp.Diff(keys(ab, model.Removed), keys(ba, model.Added), sorted); diff != "" {
		t.Errorf("removed(a,b) != added(b,a):\n%s", diff)
	}
	if diff := cmp.Diff(keys(ab, model.Changed), keys(ba, model.Changed), sorted); diff != "" {
		t.Errorf("changed sets differ:\n%s", diff)
	}

	for _, e := range ab.Select(model.Changed) {
		r, ok := entryFor(ba, e.Key)
		if !ok {
			t.Fatalf("%s missing from reversed diff", e.Key)
		}
		if e.Delta == nil {
			if r.Delta != nil || r.Direction != model.Modified {
				t.Errorf("%s: reversed entry should be modified too", e.Key)
			}
			continue
		}
		if diff := cmp.Diff(negate(*e.Delta), *r.Delta); diff != "" {
			t.Errorf("%s: reversed delta is not negated (-want +got):\n%s", e.Key, diff)
		}
		if (e.Direction == model.Increase) != (r.Direction == model.Decrease) {
			t.Errorf("%s: directions %s / %s not swapped", e.Key, e.Direction, r.Direction)
		}
	}
}

func TestCompareKindMismatch(t *testing.T) {
	_, err := Compare(kvSnap("a", model.KindStatus), kvSnap("b", model.KindVariables))
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("err = %v, want ErrKindMismatch", err)
	}
	var km *KindMismatchError
	if !errors.As(err, &km) || km.Before != model.KindStatus || km.After != model.KindVariables {
		t.Errorf("err = %#v", err)
	}
}

func TestCompareOnly(t *testing.T) {
	a := kvSnap("a", model.KindStatus, "Threads_connected", "5", "Threads_running", "1", "Uptime", "10")
	b := kvSnap("b", model.KindStatus, "Threads_connected", "9", "Threads_running", "1", "Uptime", "20")
	res, err := CompareWith(a, b, Options{Only: []string{"Threads_*"}})
	if err != nil {
		t.Fatalf("CompareWith: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Key != "Threads_connected" {
		t.Errorf("entries = %+v, want only Threads_connected", res.Entries)
	}
	if res.Unchanged != 1 {
		t.Errorf("unchanged = %d, want 1", res.Unchanged)
	}
}

func TestCompareInnoDB(t *testing.T) {
	mk := func(id string, lsn, hist int64, ts string) model.Snapshot {
		return model.Snapshot{InnoDB: &model.InnoDBSnapshot{
			Meta: model.Meta{ID: id, Kind: model.KindInnoDB},
			Facts: []model.InnoDBFact{
				{Section: "INNODB MONITOR OUTPUT", Name: "timestamp", Value: quantity.NewUnparsed(ts)},
				{Section: "LOG", Name: "log_sequence_number", Value: quantity.NewInt(lsn, quantity.Count)},
				{Section: "TRANSACTIONS", Name: "history_list_length", Value: quantity.NewInt(hist, quantity.Count)},
			},
		}}
	}
	res, err := Compare(mk("a", 100, 17, "2024-03-01 12:00:00"), mk("b", 400, 17, "2024-03-01 12:05:00"))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	lsn, ok := entryFor(res, "LOG/log_sequence_number")
	if !ok || lsn.Delta.Int != 300 || lsn.Direction != model.Increase {
		t.Errorf("lsn entry = %+v", lsn)
	}
	ts, ok := entryFor(res, "INNODB MONITOR OUTPUT/timestamp")
	if !ok || ts.Direction != model.Modified {
		t.Errorf("timestamp entry = %+v", ts)
	}
	if res.Unchanged != 1 {
		t.Errorf("unchanged = %d, want 1", res.Unchanged)
	}
}

func strp(s string) *string { return &s }

func TestCompareProcessList(t *testing.T) {
	before := model.Snapshot{Tabular: &model.TabularSnapshot{
		Meta: model.Meta{ID: "a", Kind: model.KindProcessList},
		Rows: []model.ProcessRow{
			{ID: 1, User: "app", Command: "Sleep", Time: 5},
			{ID: 2, User: "app", Command: "Query", Time: 1, State: strp("executing")},
		},
	}}
	after := model.Snapshot{Tabular: &model.TabularSnapshot{
		Meta: model.Meta{ID: "b", Kind: model.KindProcessList},
		Rows: []model.ProcessRow{
			{ID: 7, User: "app", Command: "Sleep", Time: 5},
			{ID: 8, User: "app", Command: "Query", Time: 40, State: strp("Sending data")},
			{ID: 9, User: "report", Command: "Query", Time: 95, State: strp("Sending data")},
		},
	}}

	res, err := Compare(before, after)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	want := map[string]string{
		"total":              "changed",
		"long_running":       "changed",
		"distinct_users":     "changed",
		"max_time":           "changed",
		"command:Query":      "changed",
		"user:report":        "added",
		"state:executing":    "removed",
		"state:Sending data": "added",
	}
	got := map[string]string{}
	for _, e := range res.Entries {
		got[e.Key] = string(e.Kind)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	long, _ := entryFor(res, "long_running")
	if long.Delta.Int != 2 {
		t.Errorf("long_running delta = %d, want 2", long.Delta.Int)
	}
	// Sleep count and user:app (2 before, 2 after) and state:(none) are unchanged.
	if res.Unchanged != 3 {
		t.Errorf("unchanged = %d, want 3", res.Unchanged)
	}
}

func TestProcessAggregatesThreshold(t *testing.T) {
	s := &model.TabularSnapshot{Rows: []model.ProcessRow{{Time: 10}, {Time: 11}, {Time: 300}}}
	agg := ProcessAggregates(s, 10)
	if agg[1].Key != "long_running" || agg[1].Value.Number.Int != 2 {
		t.Errorf("long_running = %+v, want 2", agg[1])
	}
	if agg[3].Key != "max_time" || agg[3].Value.String() != "300s" {
		t.Errorf("max_time = %+v, want 300s", agg[3])
	}
}

func TestDiffResultJSONRoundTrip(t *testing.T) {
	a := kvSnap("a", model.KindStatus, "Questions", "100", "Gone", "x")
	b := kvSnap("b", model.KindStatus, "Questions", "150", "New", "2.5")
	res, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out model.DiffResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(*res, out, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := kvSnap("a", model.KindStatus, "Uptime", "10")
	data, _ := json.Marshal(snap)
	file := filepath.Join(dir, "snap.json")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSnapshot(file)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Kind() != model.KindStatus || got.Meta().ID != "a" {
		t.Errorf("loaded %+v", got.Meta())
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"foo": 1}`), 0o644)
	if _, err := LoadSnapshot(bad); err == nil {
		t.Error("expected error for non-snapshot document")
	}
	if _, err := LoadSnapshot(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFormatDiff(t *testing.T) {
	a := kvSnap("a", model.KindStatus, "Aborted_connects", "10", "Gone", "1")
	b := kvSnap("b", model.KindStatus, "Aborted_connects", "15", "Innodb_buffer_pool_bytes_data", "128M")
	res, _ := Compare(a, b)
	out := FormatDiff(res)

	for _, want := range []string{"Snapshot Diff (status)", "Changed: 1, Added: 1, Removed: 1", "Aborted_connects", "+5", "128 MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	empty, _ := Compare(a, a)
	if !strings.Contains(FormatDiff(empty), "No differences.") {
		t.Error("identical snapshots should report no differences")
	}
}

func TestCompareJobs(t *testing.T) {
	before := map[string]map[model.Kind]model.Snapshot{
		"db1": {
			model.KindStatus:    kvSnap("b1", model.KindStatus, "Aborted_connects", "10"),
			model.KindVariables: kvSnap("b2", model.KindVariables, "max_connections", "151"),
		},
		"db2": {model.KindStatus: kvSnap("b3", model.KindStatus, "Aborted_connects", "1")},
	}
	after := map[string]map[model.Kind]model.Snapshot{
		"db1": {model.KindStatus: kvSnap("a1", model.KindStatus, "Aborted_connects", "25")},
		"db3": {model.KindStatus: kvSnap("a3", model.KindStatus, "Aborted_connects", "0")},
	}

	jd, err := CompareJobs(before, after, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"db1"}, jd.CommonHosts); diff != "" {
		t.Errorf("common hosts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"db2"}, jd.OnlyBefore); diff != "" {
		t.Errorf("only before mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"db3"}, jd.OnlyAfter); diff != "" {
		t.Errorf("only after mismatch (-want +got):\n%s", diff)
	}
	if len(jd.Hosts) != 1 {
		t.Fatalf("host diffs = %d, want 1 (variables only in before)", len(jd.Hosts))
	}
	h := jd.Hosts[0]
	if h.Host != "db1" || h.Kind != model.KindStatus || h.Summary.Changed != 1 {
		t.Errorf("host diff = %+v", h)
	}
	e, ok := entryFor(h.Diff, "Aborted_connects")
	if !ok || e.Delta == nil || e.Delta.Int != 15 {
		t.Errorf("Aborted_connects = %+v, want delta 15", e)
	}

	jd.BeforeJob, jd.AfterJob = "A", "B"
	out := FormatJobDiff(jd)
	for _, want := range []string{"Job Diff A -> B", "only before: db2", "only after: db3", "--- db1 ---", "Aborted_connects"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
