package parser

import (
	"regexp"
	"strings"
)

// rowFormat is the layout of one line of mysql client output.
type rowFormat int

const (
	formatTab    rowFormat = iota // batch mode: tab separated, escaped
	formatBoxed                   // interactive mode: | a | b |
	formatSpaces                  // whitespace separated
)

var rowsInSetRe = regexp.MustCompile(`^\d+ rows? in set`)

// lineFormat guesses the layout of a line.
func lineFormat(line string) rowFormat {
	switch {
	case strings.Contains(line, "\t"):
		return formatTab
	case strings.HasPrefix(strings.TrimSpace(line), "|"):
		return formatBoxed
	}
	return formatSpaces
}

// isBorder reports lines that only frame a boxed table: +----+---+.
func isBorder(line string) bool {
	s := strings.TrimSpace(line)
	if len(s) < 2 || s[0] != '+' {
		return false
	}
	return strings.Trim(s, "+-") == ""
}

// isNoise reports client chatter that carries no data.
func isNoise(line string) bool {
	s := strings.TrimSpace(line)
	return s == "" || isBorder(s) || rowsInSetRe.MatchString(s) ||
		strings.HasPrefix(s, "mysql: [Warning]") || s == "Empty set"
}

// splitCells splits a row into cells. Tab cells have batch escapes decoded;
// boxed and whitespace cells are trimmed.
func splitCells(line string, f rowFormat) []string {
	line = strings.TrimRight(line, "\r")
	switch f {
	case formatTab:
		cells := strings.Split(line, "\t")
		for i, c := range cells {
			cells[i] = unescapeBatch(c)
		}
		return cells
	case formatBoxed:
		s := strings.TrimSpace(line)
		s = strings.TrimPrefix(s, "|")
		s = strings.TrimSuffix(s, "|")
		cells := strings.Split(s, "|")
		for i, c := range cells {
			cells[i] = strings.TrimSpace(c)
		}
		return cells
	}
	return strings.Fields(line)
}

// isNull reports the client's spellings of SQL NULL.
func isNull(cell string) bool {
	return cell == "NULL" || cell == `\N`
}

// unescapeBatch decodes the escapes mysql --batch applies to cell values.
func unescapeBatch(s string) string {
	if !strings.Contains(s, `\`) || s == `\N` {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EscapeBatch applies mysql --batch escaping to a cell value.
func EscapeBatch(s string) string {
	if !strings.ContainsAny(s, "\\\n\t\x00") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`, "\x00", `\0`)
	return r.Replace(s)
}

// splitLines splits text into lines without dropping a trailing empty line,
// so that strings.Join(splitLines(s), "\n") == s.
func splitLines(text string) []string {
	return strings.Split(text, "\n")
}
