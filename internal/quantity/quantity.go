// Package quantity normalizes the numeric tokens found in MySQL diagnostic
// text (counters, byte sizes, percentages, durations) into canonical values.
//
// Normalization is total: a token that matches no rule becomes an Unparsed
// quantity that keeps the original text, never a silent zero.
package quantity

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// Kind tags which variant of Quantity is populated.
type Kind uint8

const (
	Unparsed Kind = iota
	Int
	Float
)

var kindNames = [...]string{Unparsed: "unparsed", Int: "int", Float: "float"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return errors.Newf("unknown quantity kind %q", b)
}

// Unit is the dimension of a numeric quantity.
type Unit string

const (
	Count   Unit = "count" // plain numbers, also used for rates
	Bytes   Unit = "bytes"
	Percent Unit = "percent"
	Seconds Unit = "seconds"
)

// Quantity is a normalized value. Exactly one of Int/Float is meaningful for
// numeric kinds; Raw is only set for Unparsed.
type Quantity struct {
	Kind  Kind    `json:"kind"`
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Unit  Unit    `json:"unit,omitempty"`
	Raw   string  `json:"raw,omitempty"`
}

// NewInt returns an integer quantity.
func NewInt(v int64, u Unit) Quantity {
	if u == "" {
		u = Count
	}
	return Quantity{Kind: Int, Int: v, Unit: u}
}

// NewFloat returns a floating point quantity. Byte sizes are always whole
// numbers, so a Bytes float is rounded to an integer quantity.
func NewFloat(v float64, u Unit) Quantity {
	if u == "" {
		u = Count
	}
	if u == Bytes {
		return NewInt(int64(math.Round(v)), Bytes)
	}
	return Quantity{Kind: Float, Float: v, Unit: u}
}

// NewUnparsed returns the fallback variant carrying the original token.
func NewUnparsed(raw string) Quantity {
	return Quantity{Kind: Unparsed, Raw: raw}
}

var (
	intRe      = regexp.MustCompile(`^[+-]?\d+$`)
	floatRe    = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?$`)
	percentRe  = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)\s*%$`)
	sizeRe     = regexp.MustCompile(`(?i)^([+-]?\d+(?:\.\d+)?)\s*([KMGTP]?)(i?B)?$`)
	clockRe    = regexp.MustCompile(`^(\d+):([0-5]?\d):([0-5]?\d)$`)
	secondsRe  = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)s$`)
	multiplier = map[string]int64{
		"":  1,
		"K": 1 << 10,
		"M": 1 << 20,
		"G": 1 << 30,
		"T": 1 << 40,
		"P": 1 << 50,
	}
	sizeSuffixes = []string{"P", "T", "G", "M", "K"}
)

// Normalize converts a token into a Quantity. It never fails: tokens that
// match no rule come back as Unparsed with the token preserved verbatim.
func Normalize(token string) Quantity {
	s := strings.TrimSpace(token)
	if s == "" {
		return NewUnparsed(token)
	}

	switch {
	case intRe.MatchString(s):
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return NewInt(v, Count)
		}
		// Out of int64 range; keep the magnitude as a float.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return NewFloat(f, Count)
		}
	case floatRe.MatchString(s):
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
			return NewFloat(f, Count)
		}
	}

	if m := percentRe.FindStringSubmatch(s); m != nil {
		return parseNumber(m[1], Percent, token)
	}
	if m := clockRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		mi, _ := strconv.ParseInt(m[2], 10, 64)
		sec, _ := strconv.ParseInt(m[3], 10, 64)
		return NewInt(h*3600+mi*60+sec, Seconds)
	}
	if m := secondsRe.FindStringSubmatch(s); m != nil {
		return parseNumber(m[1], Seconds, token)
	}
	if m := sizeRe.FindStringSubmatch(s); m != nil {
		suffix := strings.ToUpper(m[2])
		if suffix == "" && !strings.EqualFold(m[3], "B") {
			return NewUnparsed(token)
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return NewUnparsed(token)
		}
		v := f * float64(multiplier[suffix])
		if math.Abs(v) >= math.MaxInt64 {
			return NewUnparsed(token)
		}
		return NewInt(int64(math.Round(v)), Bytes)
	}
	return NewUnparsed(token)
}

func parseNumber(s string, u Unit, token string) Quantity {
	if intRe.MatchString(s) {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return NewInt(v, u)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NewUnparsed(token)
	}
	return NewFloat(f, u)
}

// IsNumeric reports whether q holds a number.
func (q Quantity) IsNumeric() bool {
	return q.Kind == Int || q.Kind == Float
}

// Float64 returns the numeric value of q.
func (q Quantity) Float64() (float64, bool) {
	switch q.Kind {
	case Int:
		return float64(q.Int), true
	case Float:
		return q.Float, true
	}
	return 0, false
}

// String returns the canonical text form. Normalize(q.String()) == q for
// every quantity Normalize can produce.
func (q Quantity) String() string {
	switch q.Kind {
	case Int:
		switch q.Unit {
		case Bytes:
			return formatBytes(q.Int)
		case Percent:
			return strconv.FormatInt(q.Int, 10) + "%"
		case Seconds:
			return strconv.FormatInt(q.Int, 10) + "s"
		}
		return strconv.FormatInt(q.Int, 10)
	case Float:
		s := formatFloat(q.Float)
		switch q.Unit {
		case Percent:
			return s + "%"
		case Seconds:
			return s + "s"
		}
		return s
	}
	return q.Raw
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func formatBytes(v int64) string {
	if v != 0 {
		for _, suffix := range sizeSuffixes {
			if mult := multiplier[suffix]; v%mult == 0 {
				return strconv.FormatInt(v/mult, 10) + suffix
			}
		}
	}
	return strconv.FormatInt(v, 10) + "B"
}

// Human renders q for operators: byte sizes in IEC units, large counts with
// separators, durations as Go durations.
func (q Quantity) Human() string {
	switch q.Kind {
	case Int:
		switch q.Unit {
		case Bytes:
			if q.Int < 0 {
				return "-" + humanize.IBytes(uint64(-q.Int))
			}
			return humanize.IBytes(uint64(q.Int))
		case Seconds:
			return (time.Duration(q.Int) * time.Second).String()
		case Percent:
			return strconv.FormatInt(q.Int, 10) + "%"
		}
		return humanize.Comma(q.Int)
	case Float:
		switch q.Unit {
		case Percent:
			return strconv.FormatFloat(q.Float, 'f', 2, 64) + "%"
		case Seconds:
			return time.Duration(q.Float * float64(time.Second)).String()
		}
		return humanize.CommafWithDigits(q.Float, 2)
	}
	return q.Raw
}

// Compare orders two numeric quantities of the same unit. ok is false when
// either side is not numeric or the units differ.
func Compare(a, b Quantity) (cmp int, ok bool) {
	if !a.IsNumeric() || !b.IsNumeric() || a.Unit != b.Unit {
		return 0, false
	}
	if a.Kind == Int && b.Kind == Int {
		switch {
		case a.Int < b.Int:
			return -1, true
		case a.Int > b.Int:
			return 1, true
		}
		return 0, true
	}
	af, _ := a.Float64()
	bf, _ := b.Float64()
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// Sub returns after - before. Two integers give an integer delta; any float
// operand gives a float delta.
func Sub(after, before Quantity) (Quantity, bool) {
	if _, ok := Compare(after, before); !ok {
		return Quantity{}, false
	}
	if after.Kind == Int && before.Kind == Int {
		return NewInt(after.Int-before.Int, after.Unit), true
	}
	af, _ := after.Float64()
	bf, _ := before.Float64()
	return NewFloat(af-bf, after.Unit), true
}

// Sign returns -1, 0 or +1 for numeric quantities and 0 otherwise.
func (q Quantity) Sign() int {
	f, ok := q.Float64()
	switch {
	case !ok || f == 0:
		return 0
	case f < 0:
		return -1
	}
	return 1
}
