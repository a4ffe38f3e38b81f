package health

import (
	"log/slog"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dmitriimaksimovdevelop/myscope/internal/diff"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

// Classifier evaluates a validated rule table. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New validates rules and returns a classifier for them.
func New(rules []Rule) (*Classifier, error) {
	if err := Validate(rules); err != nil {
		return nil, err
	}
	return &Classifier{rules: append([]Rule(nil), rules...)}, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(errors.Wrap(err, "built-in rule table"))
	}
	return c
}

// Rules returns a copy of the rule table in declaration order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// lookup resolves key references and ratio operands.
type lookup func(key string) (model.Value, bool)

func lookupIn(snaps ...*model.KeyValueSnapshot) lookup {
	return func(key string) (model.Value, bool) {
		for _, s := range snaps {
			if s == nil {
				continue
			}
			if v, ok := s.GetFold(key); ok {
				return v, true
			}
		}
		return model.Value{}, false
	}
}

// Classify evaluates value rules against a key/value snapshot. context
// supplies the operands of references and ratios that live in another
// snapshot, e.g. status counters when classifying variables.
//
// Verdicts come back in snapshot order, one per key that matched at least
// one evaluable rule.
func (c *Classifier) Classify(snap *model.KeyValueSnapshot, context ...*model.KeyValueSnapshot) []model.HealthVerdict {
	if snap == nil {
		return nil
	}
	return c.classify(snap.Entries, TargetValue, lookupIn(append([]*model.KeyValueSnapshot{snap}, context...)...))
}

// ClassifySnapshot is Classify for any snapshot shape. InnoDB facts are
// keyed "SECTION/name"; process lists are reduced to their aggregates.
func (c *Classifier) ClassifySnapshot(snap model.Snapshot, context ...*model.KeyValueSnapshot) []model.HealthVerdict {
	switch {
	case snap.KeyValue != nil:
		return c.Classify(snap.KeyValue, context...)
	case snap.InnoDB != nil:
		entries := make([]model.KeyValue, 0, len(snap.InnoDB.Facts))
		for _, f := range snap.InnoDB.Facts {
			v := model.NumberValue(f.Value)
			if !f.Value.IsNumeric() {
				v = model.TextValue(f.Value.String())
			}
			entries = append(entries, model.KeyValue{Key: f.Key(), Value: v})
		}
		return c.classify(entries, TargetValue, lookupIn(context...))
	case snap.Tabular != nil:
		entries := diff.ProcessAggregates(snap.Tabular, diff.DefaultLongRunning)
		return c.classify(entries, TargetValue, lookupIn(context...))
	}
	return nil
}

// ClassifyDiff evaluates delta rules against the numeric changes of a diff.
// This is where counter polarity lives: the comparator only reports that
// Aborted_connects increased, a delta rule decides that is bad.
func (c *Classifier) ClassifyDiff(d *model.DiffResult) []model.HealthVerdict {
	if d == nil {
		return nil
	}
	var entries []model.KeyValue
	for _, e := range d.Entries {
		if e.Kind != model.Changed || e.Delta == nil {
			continue
		}
		entries = append(entries, model.KeyValue{Key: e.Key, Value: model.NumberValue(*e.Delta)})
	}
	return c.classify(entries, TargetDelta, lookupIn())
}

func (c *Classifier) classify(entries []model.KeyValue, target Target, find lookup) []model.HealthVerdict {
	var out []model.HealthVerdict
	for _, e := range entries {
		if v, ok := c.evaluate(e, target, find); ok {
			out = append(out, v)
		}
	}
	return out
}

// evaluate picks the winning rule for one entry. Exact-key rules are tried
// before patterns, each group in declaration order; the first rule whose
// condition holds decides the verdict. Patterns are only consulted when no
// exact rule could be evaluated. When rules matched and could be
// evaluated but none held, the key is nominal. When no rule could be
// evaluated the key stays unclassified.
func (c *Classifier) evaluate(e model.KeyValue, target Target, find lookup) (model.HealthVerdict, bool) {
	var (
		first    *Rule
		observed model.Value
	)
	for _, exact := range []bool{true, false} {
		for i := range c.rules {
			r := &c.rules[i]
			if r.target() != target || r.exact() != exact || !r.matches(e.Key) {
				continue
			}
			obs, holds, ok := r.check(e.Value, find)
			if !ok {
				slog.Debug("rule not evaluable", "rule", r.String(), "key", e.Key, "value", e.Value.String())
				continue
			}
			if first == nil {
				first, observed = r, obs
			}
			if holds {
				return model.HealthVerdict{
					Key:      e.Key,
					Observed: obs,
					Rule:     r.String(),
					Verdict:  r.Verdict,
					Reason:   r.Reason,
				}, true
			}
		}
		if first != nil {
			break // an evaluable exact rule shadows every pattern
		}
	}
	if first == nil {
		return model.HealthVerdict{}, false
	}
	return model.HealthVerdict{
		Key:      e.Key,
		Observed: observed,
		Rule:     first.String(),
		Verdict:  model.Nominal,
	}, true
}

// check evaluates r against v. ok is false when an operand is missing or the
// operands cannot be compared.
func (r Rule) check(v model.Value, find lookup) (observed model.Value, holds, ok bool) {
	observed = v
	if r.Ratio != "" {
		num, found := find(r.Ratio)
		if !found {
			return v, false, false
		}
		pct, ok := ratio(num, v)
		if !ok {
			return v, false, false
		}
		observed = model.NumberValue(pct)
	}

	threshold, ok := r.resolveThreshold(find)
	if !ok {
		return observed, false, false
	}
	holds, ok = r.Op.apply(observed, threshold)
	return observed, holds, ok
}

func (r Rule) resolveThreshold(find lookup) (model.Value, bool) {
	if ref, isRef := r.reference(); isRef {
		return find(ref)
	}
	return model.ParseValue(r.Threshold), true
}

// ratio returns num as a percentage of den, rounded to two decimals.
func ratio(num, den model.Value) (quantity.Quantity, bool) {
	if !num.IsNumber() || !den.IsNumber() {
		return quantity.Quantity{}, false
	}
	n, _ := num.Number.Float64()
	d, _ := den.Number.Float64()
	if d == 0 {
		return quantity.Quantity{}, false
	}
	return quantity.NewFloat(math.Round(n/d*10000)/100, quantity.Percent), true
}

func (o Op) apply(observed, threshold model.Value) (bool, bool) {
	if observed.IsNumber() && threshold.IsNumber() {
		a, b := unify(*observed.Number, *threshold.Number)
		c, ok := quantity.Compare(a, b)
		if !ok {
			return false, false
		}
		switch o {
		case OpGT:
			return c > 0, true
		case OpGE:
			return c >= 0, true
		case OpLT:
			return c < 0, true
		case OpLE:
			return c <= 0, true
		case OpEQ:
			return c == 0, true
		case OpNE:
			return c != 0, true
		}
		return false, false
	}
	if o.ordering() {
		return false, false
	}
	eq := strings.EqualFold(strings.TrimSpace(observed.String()), strings.TrimSpace(threshold.String()))
	if o == OpEQ {
		return eq, true
	}
	return !eq, true
}

// unify lets a plain count stand in for any unit: servers report
// tmp_table_size as 67108864 while a rule says 64M.
func unify(a, b quantity.Quantity) (quantity.Quantity, quantity.Quantity) {
	switch {
	case a.Unit == b.Unit:
	case a.Unit == quantity.Count:
		a.Unit = b.Unit
	case b.Unit == quantity.Count:
		b.Unit = a.Unit
	}
	return a, b
}
