package parser

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// CommandSpec defines a diagnostic command and how to parse its output.
type CommandSpec struct {
	Command string                                          // canonical SQL text
	Aliases []string                                        // older or shorter spellings
	Kind    model.Kind                                      // snapshot kind produced
	Parser  func(raw model.RawText) (model.Snapshot, error) // parses output to a snapshot
}

// Registry maps snapshot kind to its command specification.
var Registry = map[model.Kind]*CommandSpec{
	model.KindInnoDB: {
		Command: "SHOW ENGINE INNODB STATUS",
		Kind:    model.KindInnoDB,
		Parser: func(raw model.RawText) (model.Snapshot, error) {
			s, err := ParseInnoDB(raw)
			return model.Snapshot{InnoDB: s}, err
		},
	},
	model.KindStatus: {
		Command: "SHOW GLOBAL STATUS",
		Aliases: []string{"SHOW STATUS"},
		Kind:    model.KindStatus,
		Parser:  keyValueParser(model.KindStatus),
	},
	model.KindVariables: {
		Command: "SHOW GLOBAL VARIABLES",
		Aliases: []string{"SHOW VARIABLES"},
		Kind:    model.KindVariables,
		Parser:  keyValueParser(model.KindVariables),
	},
	model.KindProcessList: {
		Command: "SHOW FULL PROCESSLIST",
		Aliases: []string{"SHOW PROCESSLIST"},
		Kind:    model.KindProcessList,
		Parser: func(raw model.RawText) (model.Snapshot, error) {
			s, err := ParseProcessList(raw)
			return model.Snapshot{Tabular: s}, err
		},
	},
	model.KindReplica: {
		Command: "SHOW REPLICA STATUS",
		Aliases: []string{"SHOW SLAVE STATUS"},
		Kind:    model.KindReplica,
		Parser:  transposedParser(model.KindReplica),
	},
	model.KindPrimary: {
		Command: "SHOW MASTER STATUS",
		Aliases: []string{"SHOW BINARY LOG STATUS"},
		Kind:    model.KindPrimary,
		Parser:  transposedParser(model.KindPrimary),
	},
}

func keyValueParser(kind model.Kind) func(model.RawText) (model.Snapshot, error) {
	return func(raw model.RawText) (model.Snapshot, error) {
		s, err := ParseKeyValue(raw, kind)
		return model.Snapshot{KeyValue: s}, err
	}
}

func transposedParser(kind model.Kind) func(model.RawText) (model.Snapshot, error) {
	return func(raw model.RawText) (model.Snapshot, error) {
		s, err := ParseTransposed(raw, kind)
		return model.Snapshot{KeyValue: s}, err
	}
}

// Lookup finds the spec for a command, ignoring case, extra whitespace and
// a trailing semicolon or \G.
func Lookup(command string) (*CommandSpec, bool) {
	c := normalizeCommand(command)
	for _, spec := range Registry {
		if c == spec.Command {
			return spec, true
		}
		for _, a := range spec.Aliases {
			if c == a {
				return spec, true
			}
		}
	}
	return nil, false
}

func normalizeCommand(command string) string {
	c := strings.TrimSpace(command)
	c = strings.TrimSuffix(c, `\G`)
	c = strings.TrimSuffix(c, ";")
	return strings.ToUpper(strings.Join(strings.Fields(c), " "))
}

// Commands returns the canonical commands for the given kinds, in order.
// Unknown kinds are skipped.
func Commands(kinds ...model.Kind) []string {
	var out []string
	for _, k := range kinds {
		if spec, ok := Registry[k]; ok {
			out = append(out, spec.Command)
		}
	}
	return out
}

// AvailableKinds returns all registered kinds, sorted by name.
func AvailableKinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(Registry))
	for k := range Registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Parse dispatches raw to the parser registered for raw.Command.
func Parse(raw model.RawText) (model.Snapshot, error) {
	spec, ok := Lookup(raw.Command)
	if !ok {
		return model.Snapshot{}, errors.Wrapf(ErrUnknownCommand, "%q", raw.Command)
	}
	return spec.Parser(raw)
}

// ParseAs parses raw as the given kind regardless of raw.Command.
func ParseAs(raw model.RawText, kind model.Kind) (model.Snapshot, error) {
	spec, ok := Registry[kind]
	if !ok {
		return model.Snapshot{}, errors.Newf("unknown snapshot kind %q", kind)
	}
	if raw.Command == "" {
		raw.Command = spec.Command
	}
	return spec.Parser(raw)
}

// DetectKind guesses the snapshot kind of unlabelled output from the
// markers each command leaves in it.
func DetectKind(text string) (model.Kind, bool) {
	head := text
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := strings.ToLower(head)
	switch {
	case strings.Contains(head, "INNODB MONITOR OUTPUT"), strings.HasPrefix(strings.TrimSpace(head), "Type\tName\tStatus"):
		return model.KindInnoDB, true
	case strings.Contains(lower, "replica_io_state"), strings.Contains(lower, "slave_io_state"):
		return model.KindReplica, true
	case strings.Contains(lower, "binlog_do_db") && strings.Contains(lower, "position"):
		return model.KindPrimary, true
	case hasColumns(lower, "id", "user", "command"):
		return model.KindProcessList, true
	}
	for _, marker := range []string{"uptime", "threads_connected", "questions", "com_select", "bytes_received"} {
		if containsKey(lower, marker) {
			return model.KindStatus, true
		}
	}
	for _, marker := range []string{"max_connections", "innodb_buffer_pool_size", "version", "datadir", "wait_timeout"} {
		if containsKey(lower, marker) {
			return model.KindVariables, true
		}
	}
	return "", false
}

// hasColumns reports whether the first data line names every column.
func hasColumns(lower string, cols ...string) bool {
	for _, line := range splitLines(lower) {
		if isNoise(line) {
			continue
		}
		cells := splitCells(line, lineFormat(line))
		for _, c := range cols {
			if indexFold(cells, c) < 0 {
				return false
			}
		}
		return true
	}
	return false
}

func containsKey(lower, key string) bool {
	for _, line := range splitLines(lower) {
		k, _, ok := splitPair(line)
		if ok && k == key {
			return true
		}
	}
	return false
}

// newMeta stamps a fresh snapshot identity.
func newMeta(raw model.RawText, kind model.Kind) model.Meta {
	at := raw.CapturedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return model.Meta{
		ID:         uuid.NewString(),
		Kind:       kind,
		Host:       raw.Host,
		Command:    raw.Command,
		CapturedAt: at,
	}
}

// ParseDump parses a single command's output. hint is a command, a kind
// name or empty; an empty hint falls back to DetectKind.
func ParseDump(text, hint string) (model.Snapshot, error) {
	raw := model.RawText{Text: text}
	if hint == "" {
		kind, ok := DetectKind(text)
		if !ok {
			return model.Snapshot{}, errors.Wrap(ErrUnknownCommand, "cannot detect the command that produced this output")
		}
		return ParseAs(raw, kind)
	}
	if _, ok := Registry[model.Kind(strings.ToLower(hint))]; ok {
		return ParseAs(raw, model.Kind(strings.ToLower(hint)))
	}
	raw.Command = hint
	return Parse(raw)
}
