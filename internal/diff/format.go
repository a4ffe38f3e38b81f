package diff

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// FormatDiff returns a human-readable diff: a summary line followed by a
// table of changed, removed and added keys.
func FormatDiff(d *model.DiffResult) string {
	var sb strings.Builder
	s := Summarize(d)

	sb.WriteString(fmt.Sprintf("=== Snapshot Diff (%s) ===\n", d.Kind))
	sb.WriteString(fmt.Sprintf("Before: %s\n", d.BeforeID))
	sb.WriteString(fmt.Sprintf("After:  %s\n", d.AfterID))
	sb.WriteString(fmt.Sprintf("Changed: %d, Added: %d, Removed: %d, Unchanged: %d\n\n",
		s.Changed, s.Added, s.Removed, s.Unchanged))

	if len(d.Entries) == 0 {
		sb.WriteString("No differences.\n")
		return sb.String()
	}

	table := tablewriter.NewWriter(&sb)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"", "Key", "Before", "After", "Delta"})
	for _, kind := range []model.ChangeKind{model.Changed, model.Removed, model.Added} {
		for _, e := range d.Select(kind) {
			table.Append([]string{symbol(e), e.Key, human(e.Before), human(e.After), delta(e)})
		}
	}
	table.Render()
	return sb.String()
}

func symbol(e model.DiffEntry) string {
	switch e.Kind {
	case model.Added:
		return "+"
	case model.Removed:
		return "-"
	}
	switch e.Direction {
	case model.Increase:
		return "↑"
	case model.Decrease:
		return "↓"
	}
	return "~"
}

func human(v *model.Value) string {
	if v == nil {
		return ""
	}
	return v.Human()
}

func delta(e model.DiffEntry) string {
	if e.Delta == nil {
		return ""
	}
	s := e.Delta.Human()
	if e.Delta.Sign() > 0 {
		s = "+" + s
	}
	return s
}
