package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dmitriimaksimovdevelop/myscope/internal/collector"
	diffpkg "github.com/dmitriimaksimovdevelop/myscope/internal/diff"
	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
	"github.com/dmitriimaksimovdevelop/myscope/internal/store"
)

// run executes the CLI with args and returns what it printed on stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MYSCOPE_CONFIG", "")
	t.Setenv("MYSCOPE_DB_PATH", "")
	t.Setenv("MYSCOPE_PROFILE", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	statusBefore = "Variable_name\tValue\nAborted_connects\t3\nThreads_connected\t5\nUptime\t100\n"
	statusAfter  = "Variable_name\tValue\nAborted_connects\t9\nThreads_connected\t5\nUptime\t160\n"
)

func TestParseJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "status.txt", statusBefore)
	out, err := run(t, "", "parse", path, "--json", "--host", "db1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("output is not a snapshot: %v\n%s", err, out)
	}
	if snap.Kind() != model.KindStatus || snap.Meta().Host != "db1" {
		t.Errorf("meta = %+v", snap.Meta())
	}
}

func TestParseStdinWithKind(t *testing.T) {
	out, err := run(t, "max_connections\t151\n", "parse", "-", "--kind", "variables")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "max_connections") || !strings.Contains(out, "151") {
		t.Errorf("table missing entry:\n%s", out)
	}
}

func TestParseUndetectable(t *testing.T) {
	if _, err := run(t, "hello\n", "parse", "-"); err == nil {
		t.Error("expected error for output of an unknown command")
	}
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", statusBefore)
	b := writeFile(t, dir, "b.txt", statusAfter)

	out, err := run(t, "", "diff", a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	for _, want := range []string{"Changed: 2", "Aborted_connects", "+6", "failed connection attempts increased"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff output missing %q:\n%s", want, out)
		}
	}
}

func TestDiffCommandHint(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", statusBefore)
	b := writeFile(t, dir, "b.txt", "max_connections\t151\n")
	if _, err := run(t, "", "diff", a, b, "--command", "status"); err != nil {
		t.Fatalf("same hint for both sides should parse: %v", err)
	}
	if _, err := run(t, "", "diff", a, b, "--command", "nonsense"); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestSaveHistoryAndDiffByID(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "snap.db")
	ids := make([]string, 2)
	for i, text := range []string{statusBefore, statusAfter} {
		path := writeFile(t, dir, "s.txt", text)
		out, err := run(t, "", "parse", path, "--host", "db1", "--save", "--json", "--db", db)
		if err != nil {
			t.Fatalf("parse --save: %v", err)
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(out), &snap); err != nil {
			t.Fatal(err)
		}
		ids[i] = snap.Meta().ID
	}

	out, err := run(t, "", "history", "db1", "--json", "--db", db)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var records []store.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	out, err = run(t, "", "history", "--json", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	var hosts []string
	if err := json.Unmarshal([]byte(out), &hosts); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"db1"}, hosts); diff != "" {
		t.Errorf("hosts mismatch (-want +got):\n%s", diff)
	}

	out, err = run(t, "", "diff", ids[0], ids[1], "--json", "--db", db)
	if err != nil {
		t.Fatalf("diff by id: %v", err)
	}
	var res struct {
		Diff     model.DiffResult      `json:"diff"`
		Verdicts []model.HealthVerdict `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Diff.BeforeID != ids[0] || res.Diff.AfterID != ids[1] {
		t.Errorf("ids = %s/%s", res.Diff.BeforeID, res.Diff.AfterID)
	}
	if len(res.Verdicts) != 1 || res.Verdicts[0].Key != "Aborted_connects" {
		t.Errorf("verdicts = %+v", res.Verdicts)
	}

	if _, err := run(t, "", "diff", ids[0], "no-such-id", "--db", db); err == nil {
		t.Error("expected error for unknown snapshot id")
	}
}

func TestDiffJobs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "snap.db")
	st, err := store.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	saves := []struct{ job, host, text string }{
		{"job-1", "db1", statusBefore},
		{"job-1", "db2", statusBefore},
		{"job-2", "db1", statusAfter},
		{"job-2", "db3", statusAfter},
	}
	for _, sv := range saves {
		snap, err := parser.ParseDump(sv.text, "status")
		if err != nil {
			t.Fatal(err)
		}
		snap.KeyValue.Host = sv.host
		if err := st.Save(context.Background(), sv.job, snap); err != nil {
			t.Fatal(err)
		}
	}
	st.Close()

	out, err := run(t, "", "diff", "--job", "job-1", "--job", "job-2", "--json", "--db", db)
	if err != nil {
		t.Fatalf("diff --job: %v", err)
	}
	var jd diffpkg.JobDiff
	if err := json.Unmarshal([]byte(out), &jd); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"db1"}, jd.CommonHosts); diff != "" {
		t.Errorf("common hosts mismatch (-want +got):\n%s", diff)
	}
	if len(jd.Hosts) != 1 || jd.Hosts[0].Kind != model.KindStatus {
		t.Fatalf("host diffs = %+v", jd.Hosts)
	}
	if v := jd.Hosts[0].Verdicts; len(v) != 1 || v[0].Key != "Aborted_connects" {
		t.Errorf("verdicts = %+v, want Aborted_connects flagged", v)
	}

	text, err := run(t, "", "diff", "--job", "job-1", "--job", "job-2", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"only before: db2", "only after: db3", "--- db1 ---"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	if _, err := run(t, "", "diff", "--job", "job-1", "--db", db); err == nil {
		t.Error("expected error for a single --job")
	}
	if _, err := run(t, "", "diff", "--job", "job-1", "--job", "nope", "--db", db); err == nil {
		t.Error("expected error for an unknown job")
	}
}

func TestHealthWithContext(t *testing.T) {
	dir := t.TempDir()
	vars := writeFile(t, dir, "vars.txt", "max_connections\t100\nwait_timeout\t28800\ntmp_table_size\t8M\n")
	status := writeFile(t, dir, "status.txt", "Threads_connected\t99\nUptime\t100\n")

	out, err := run(t, "", "health", vars, "--context", status, "--json")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var res struct {
		Summary  model.HealthSummary   `json:"summary"`
		Verdicts []model.HealthVerdict `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	got := map[string]model.Verdict{}
	for _, v := range res.Verdicts {
		got[v.Key] = v.Verdict
	}
	want := map[string]model.Verdict{
		"max_connections": model.Critical,
		"wait_timeout":    model.Nominal,
		"tmp_table_size":  model.Critical,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}
	if res.Summary.Critical != 2 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestHealthContextMustBeKeyValue(t *testing.T) {
	dir := t.TempDir()
	vars := writeFile(t, dir, "vars.txt", "max_connections\t100\n")
	plist := writeFile(t, dir, "pl.txt", "Id\tUser\tHost\tdb\tCommand\tTime\tState\tInfo\n1\troot\tlocalhost\tNULL\tSleep\t5\t\tNULL\n")
	if _, err := run(t, "", "health", vars, "--context", plist); err == nil {
		t.Error("expected error for process-list context")
	}
}

func TestHealthAIPrompt(t *testing.T) {
	vars := writeFile(t, t.TempDir(), "vars.txt", "tmp_table_size\t8M\n")
	out, err := run(t, "", "health", vars, "--ai-prompt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "CRITICAL") || !strings.Contains(out, "MySQL performance") {
		t.Errorf("output missing verdicts or prompt:\n%s", out)
	}
}

func TestRulesYAMLRoundTrip(t *testing.T) {
	out, err := run(t, "", "rules", "--yaml")
	if err != nil {
		t.Fatal(err)
	}
	rules, err := health.ParseRules([]byte(out))
	if err != nil {
		t.Fatalf("rules --yaml is not loadable: %v", err)
	}
	if diff := cmp.Diff(health.DefaultRules(), rules); diff != "" {
		t.Errorf("rules mismatch (-default +printed):\n%s", diff)
	}
}

func TestRulesFileFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", "rules:\n  - key: Threads_running\n    op: gt\n    threshold: \"32\"\n    verdict: critical\n")
	out, err := run(t, "", "rules", "--rules", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Threads_running > 32") || strings.Contains(out, "max_connections") {
		t.Errorf("rules file should replace the defaults:\n%s", out)
	}
}

func TestCollectNeedsHosts(t *testing.T) {
	_, err := run(t, "", "collect", "--no-store")
	if err == nil || !strings.Contains(err.Error(), "no hosts") {
		t.Errorf("err = %v, want no hosts", err)
	}
	if _, err := run(t, "", "collect", "--profile", "huge", "--host", "db1"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    collector.Target
		wantErr bool
	}{
		{"db1", collector.Target{Host: "db1"}, false},
		{"db1:3307", collector.Target{Host: "db1", Port: 3307}, false},
		{"/run/mysqld/mysqld.sock", collector.Target{Socket: "/run/mysqld/mysqld.sock"}, false},
		{"db1:x", collector.Target{}, true},
		{"db1:70000", collector.Target{}, true},
		{":3306", collector.Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("/run/mysqld/mysqld.sock"); got != "run_mysqld_mysqld.sock" {
		t.Errorf("safeName = %q", got)
	}
	if got := safeName("db1:3306"); got != "db1_3306" {
		t.Errorf("safeName = %q", got)
	}
}
