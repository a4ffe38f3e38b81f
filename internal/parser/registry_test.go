package parser

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

func TestRegistryConsistency(t *testing.T) {
	for kind, spec := range Registry {
		if spec.Kind != kind {
			t.Errorf("registry key %s holds spec of kind %s", kind, spec.Kind)
		}
		if spec.Parser == nil {
			t.Errorf("%s: nil parser", kind)
		}
		got, ok := Lookup(spec.Command)
		if !ok || got != spec {
			t.Errorf("Lookup(%q) did not return its own spec", spec.Command)
		}
	}
	if len(AvailableKinds()) != len(model.Kinds()) {
		t.Errorf("registry has %d kinds, model declares %d", len(AvailableKinds()), len(model.Kinds()))
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		command string
		want    model.Kind
	}{
		{"SHOW GLOBAL STATUS", model.KindStatus},
		{"show global status;", model.KindStatus},
		{"  SHOW   STATUS ", model.KindStatus},
		{"SHOW PROCESSLIST", model.KindProcessList},
		{`SHOW SLAVE STATUS\G`, model.KindReplica},
		{"SHOW BINARY LOG STATUS", model.KindPrimary},
		{"show engine innodb status", model.KindInnoDB},
	}
	for _, tt := range tests {
		spec, ok := Lookup(tt.command)
		if !ok || spec.Kind != tt.want {
			t.Errorf("Lookup(%q) = %v,%v, want %s", tt.command, spec, ok, tt.want)
		}
	}
	if _, ok := Lookup("SELECT 1"); ok {
		t.Error("Lookup(SELECT 1) should fail")
	}
}

func TestParseDispatch(t *testing.T) {
	snap, err := Parse(model.RawText{Command: "SHOW FULL PROCESSLIST", Text: "Id\tUser\n1\troot\n", Host: "db1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.Tabular == nil || snap.KeyValue != nil || snap.InnoDB != nil {
		t.Fatalf("snapshot = %+v, want tabular only", snap)
	}
	meta := snap.Meta()
	if meta.ID == "" || meta.Host != "db1" || meta.Kind != model.KindProcessList || meta.CapturedAt.IsZero() {
		t.Errorf("meta = %+v", meta)
	}

	_, err = Parse(model.RawText{Command: "SELECT 1", Text: "1"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestParseAs(t *testing.T) {
	snap, err := ParseAs(model.RawText{Text: "max_connections\t151\n"}, model.KindVariables)
	if err != nil {
		t.Fatalf("ParseAs: %v", err)
	}
	if snap.Meta().Command != "SHOW GLOBAL VARIABLES" {
		t.Errorf("command = %q", snap.Meta().Command)
	}
	if _, err := ParseAs(model.RawText{Text: "x"}, model.Kind("nope")); err == nil {
		t.Error("ParseAs with unknown kind should fail")
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Kind
	}{
		{"innodb", loadFixture(t, "innodb_status.txt"), model.KindInnoDB},
		{"innodb batch", "Type\tName\tStatus\nInnoDB\t\t\\n=====\\n", model.KindInnoDB},
		{"processlist", loadFixture(t, "processlist_batch.txt"), model.KindProcessList},
		{"processlist boxed", loadFixture(t, "processlist_boxed.txt"), model.KindProcessList},
		{"status", loadFixture(t, "status_boxed.txt"), model.KindStatus},
		{"variables", "Variable_name\tValue\nmax_connections\t151\n", model.KindVariables},
		{"replica", "Replica_IO_State\tSource_Host\nWaiting\t10.0.0.1\n", model.KindReplica},
		{"primary", "File\tPosition\tBinlog_Do_DB\nbinlog.000001\t157\t\n", model.KindPrimary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectKind(tt.text)
			if !ok || got != tt.want {
				t.Errorf("DetectKind = %q,%v, want %q", got, ok, tt.want)
			}
		})
	}
	if _, ok := DetectKind("hello world"); ok {
		t.Error("DetectKind should not guess on arbitrary text")
	}
}

func TestParseDump(t *testing.T) {
	tests := []struct {
		name string
		text string
		hint string
		want model.Kind
	}{
		{"kind hint", "Threads_connected\t4\n", "status", model.KindStatus},
		{"kind hint any case", "max_connections\t151\n", "Variables", model.KindVariables},
		{"command hint", "Threads_connected\t4\n", "SHOW GLOBAL VARIABLES", model.KindVariables},
		{"detected", "Variable_name\tValue\nUptime\t100\nThreads_connected\t4\n", "", model.KindStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseDump(tt.text, tt.hint)
			if err != nil {
				t.Fatal(err)
			}
			if snap.Kind() != tt.want {
				t.Errorf("kind = %s, want %s", snap.Kind(), tt.want)
			}
		})
	}
}

func TestParseDumpUnknown(t *testing.T) {
	if _, err := ParseDump("hello world\n", ""); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("undetectable = %v, want ErrUnknownCommand", err)
	}
	if _, err := ParseDump("a\t1\n", "SHOW TABLES"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command = %v, want ErrUnknownCommand", err)
	}
}
