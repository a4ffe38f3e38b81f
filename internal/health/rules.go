// Package health maps snapshot values to nominal/warning/critical verdicts
// using a rule table. The table is data: the built-in defaults can be
// replaced or extended from YAML.
package health

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

// Op is a comparison operator.
type Op string

const (
	OpGT Op = "gt"
	OpGE Op = "ge"
	OpLT Op = "lt"
	OpLE Op = "le"
	OpEQ Op = "eq"
	OpNE Op = "ne"
)

var opSymbols = map[Op]string{
	OpGT: ">", OpGE: ">=", OpLT: "<", OpLE: "<=", OpEQ: "==", OpNE: "!=",
}

func (o Op) valid() bool {
	_, ok := opSymbols[o]
	return ok
}

// ordering reports whether o needs numeric operands.
func (o Op) ordering() bool {
	return o != OpEQ && o != OpNE
}

// Target selects what a rule is evaluated against.
type Target string

const (
	// TargetValue evaluates the value held in a snapshot.
	TargetValue Target = "value"
	// TargetDelta evaluates the signed change of a key between two snapshots.
	TargetDelta Target = "delta"
)

// Rule is one row of the rule table.
//
// Key is an exact key or a path.Match pattern. Threshold is a quantity
// token ("64M", "95%", "300") or a reference to another key written as
// "$Name", resolved from the snapshot or its context. When Ratio is set the
// observed value is Ratio's value as a percentage of Key's value.
type Rule struct {
	Key       string        `yaml:"key" json:"key"`
	Op        Op            `yaml:"op" json:"op"`
	Threshold string        `yaml:"threshold" json:"threshold"`
	Verdict   model.Verdict `yaml:"verdict" json:"verdict"`
	Target    Target        `yaml:"target,omitempty" json:"target,omitempty"`
	Ratio     string        `yaml:"ratio,omitempty" json:"ratio,omitempty"`
	Reason    string        `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// String renders the rule as a condition, e.g. "tmp_table_size < 16M".
func (r Rule) String() string {
	subject := r.Key
	if r.Ratio != "" {
		subject = r.Ratio + "/" + r.Key
	}
	if r.target() == TargetDelta {
		subject = "Δ" + subject
	}
	sym, ok := opSymbols[r.Op]
	if !ok {
		sym = string(r.Op)
	}
	return fmt.Sprintf("%s %s %s", subject, sym, r.Threshold)
}

func (r Rule) target() Target {
	if r.Target == "" {
		return TargetValue
	}
	return r.Target
}

func (r Rule) exact() bool {
	return !strings.ContainsAny(r.Key, `*?[\`)
}

func (r Rule) matches(key string) bool {
	if r.exact() {
		return strings.EqualFold(r.Key, key)
	}
	pattern, key := strings.ToLower(r.Key), strings.ToLower(key)
	// Without a separator the pattern matches the last segment, so
	// "*_IO_Running" also covers the "channel/Replica_IO_Running" keys of
	// multi-source replicas.
	if !strings.Contains(pattern, "/") {
		if i := strings.LastIndexByte(key, '/'); i >= 0 {
			key = key[i+1:]
		}
	}
	ok, _ := path.Match(pattern, key)
	return ok
}

func (r Rule) reference() (string, bool) {
	if strings.HasPrefix(r.Threshold, "$") {
		return r.Threshold[1:], true
	}
	return "", false
}

// RuleError reports an invalid row of a rule table.
type RuleError struct {
	Index  int
	Key    string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d (%s): %s", e.Index, e.Key, e.Reason)
}

// Validate checks every rule and returns the first problem as a *RuleError.
func Validate(rules []Rule) error {
	for i, r := range rules {
		if err := validateRule(r); err != "" {
			return &RuleError{Index: i, Key: r.Key, Reason: err}
		}
	}
	return nil
}

func validateRule(r Rule) string {
	if strings.TrimSpace(r.Key) == "" {
		return "key is empty"
	}
	if _, err := path.Match(r.Key, ""); err != nil {
		return "bad key pattern: " + err.Error()
	}
	if !r.Op.valid() {
		return fmt.Sprintf("unknown operator %q", r.Op)
	}
	switch r.Verdict {
	case model.Nominal, model.Warning, model.Critical:
	default:
		return fmt.Sprintf("unknown verdict %q", r.Verdict)
	}
	switch r.target() {
	case TargetValue, TargetDelta:
	default:
		return fmt.Sprintf("unknown target %q", r.Target)
	}
	if strings.TrimSpace(r.Threshold) == "" {
		return "threshold is empty"
	}
	if ref, ok := r.reference(); ok {
		if ref == "" {
			return "empty key reference"
		}
		return ""
	}
	if r.Op.ordering() && !quantity.Normalize(r.Threshold).IsNumeric() {
		return fmt.Sprintf("operator %s needs a numeric threshold, got %q", r.Op, r.Threshold)
	}
	if r.Ratio != "" && r.target() == TargetDelta {
		return "ratio rules cannot target deltas"
	}
	return ""
}

// ruleFile is the YAML document layout.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule table and validates it.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("rule table is empty")
	}
	if err := Validate(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// LoadRules reads a YAML rule table from file.
func LoadRules(file string) ([]Rule, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read rules %s", file)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load rules %s", file)
	}
	return rules, nil
}

// MarshalRules encodes rules in the layout ParseRules reads.
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: rules})
}
