package parser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// ParseKeyValue parses two-column name/value output (SHOW GLOBAL STATUS,
// SHOW GLOBAL VARIABLES) in batch, boxed or whitespace form. Duplicate keys
// keep their first position and take the last value. Lines without a
// delimiter are skipped and counted.
func ParseKeyValue(raw model.RawText, kind model.Kind) (*model.KeyValueSnapshot, error) {
	if strings.TrimSpace(raw.Text) == "" {
		return nil, formatError(string(kind), ErrEmptyInput)
	}

	snap := &model.KeyValueSnapshot{Meta: newMeta(raw, kind)}
	index := make(map[string]int)

	for _, line := range splitLines(raw.Text) {
		if isNoise(line) {
			continue
		}
		key, value, ok := splitPair(line)
		if !ok {
			snap.Diagnostics.SkippedLines++
			slog.Debug("skipped line without delimiter", "kind", kind, "line", truncate(line, 80))
			continue
		}
		if isPairHeader(key, value) {
			continue
		}

		v := model.ParseValue(value)
		if i, dup := index[key]; dup {
			slog.Debug("duplicate key, keeping last value", "kind", kind, "key", key)
			snap.Diagnostics.DuplicateKeys = append(snap.Diagnostics.DuplicateKeys, key)
			snap.Entries[i].Value = v
			continue
		}
		index[key] = len(snap.Entries)
		snap.Entries = append(snap.Entries, model.KeyValue{Key: key, Value: v})
	}
	return snap, nil
}

// splitPair splits a line on its first delimiter.
func splitPair(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r")
	switch lineFormat(line) {
	case formatTab:
		k, v, _ := strings.Cut(line, "\t")
		key = strings.TrimSpace(k)
		value = unescapeBatch(v)
	case formatBoxed:
		cells := splitCells(line, formatBoxed)
		if len(cells) < 2 {
			return "", "", false
		}
		key, value = cells[0], strings.Join(cells[1:], "|")
	default:
		s := strings.TrimSpace(line)
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return "", "", false
		}
		key, value = s[:i], strings.TrimSpace(s[i:])
	}
	return key, value, key != ""
}

func isPairHeader(key, value string) bool {
	return strings.EqualFold(key, "Variable_name") && strings.EqualFold(strings.TrimSpace(value), "Value")
}

// ParseTransposed parses single-row tabular output (SHOW REPLICA STATUS,
// SHOW MASTER STATUS) into a key/value snapshot with one entry per column.
// The vertical \G form is accepted as well. Empty output is valid: the
// server returns no rows when replication is not configured.
func ParseTransposed(raw model.RawText, kind model.Kind) (*model.KeyValueSnapshot, error) {
	snap := &model.KeyValueSnapshot{Meta: newMeta(raw, kind)}

	var lines []string
	for _, line := range splitLines(raw.Text) {
		if !isNoise(line) {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	if len(lines) == 0 {
		snap.Diagnostics.Notes = append(snap.Diagnostics.Notes, "no rows returned")
		return snap, nil
	}

	if isVerticalRow(lines[0]) {
		parseVertical(lines, snap)
		return snap, nil
	}

	f := lineFormat(lines[0])
	header := splitCells(lines[0], f)
	var rows [][]string
	for _, line := range lines[1:] {
		cells := splitCells(line, f)
		if len(cells) != len(header) {
			snap.Diagnostics.MalformedRows++
			slog.Debug("row does not match header", "kind", kind, "cells", len(cells), "columns", len(header))
			continue
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		snap.Diagnostics.Notes = append(snap.Diagnostics.Notes, "no rows returned")
		return snap, nil
	}

	channel := indexFold(header, "Channel_Name")
	for n, row := range rows {
		prefix := ""
		if len(rows) > 1 {
			prefix = rowPrefix(row, channel, n)
		}
		for i, col := range header {
			v := row[i]
			if isNull(v) {
				v = ""
			}
			snap.Entries = append(snap.Entries, model.KeyValue{Key: prefix + col, Value: model.ParseValue(v)})
		}
	}
	return snap, nil
}

func isVerticalRow(line string) bool {
	s := strings.TrimSpace(line)
	return strings.HasPrefix(s, "***") && strings.Contains(s, "row")
}

func parseVertical(lines []string, snap *model.KeyValueSnapshot) {
	rows := 0
	for _, line := range lines {
		if isVerticalRow(line) {
			rows++
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			// Continuation of a multi-line value such as Executed_Gtid_Set.
			if n := len(snap.Entries); n > 0 && !snap.Entries[n-1].Value.IsNumber() {
				last := &snap.Entries[n-1]
				last.Value = model.TextValue(last.Value.Text + "\n" + strings.TrimSpace(line))
				continue
			}
			snap.Diagnostics.SkippedLines++
			continue
		}
		key := strings.TrimSpace(k)
		if rows > 1 {
			key = "row" + strconv.Itoa(rows) + "/" + key
		}
		v = strings.TrimSpace(v)
		if isNull(v) {
			v = ""
		}
		snap.Entries = append(snap.Entries, model.KeyValue{Key: key, Value: model.ParseValue(v)})
	}
}

func rowPrefix(row []string, channel, n int) string {
	if channel >= 0 && row[channel] != "" && !isNull(row[channel]) {
		return row[channel] + "/"
	}
	return "row" + strconv.Itoa(n+1) + "/"
}

func indexFold(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
