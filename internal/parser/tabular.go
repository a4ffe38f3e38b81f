package parser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// processColumns are the columns of SHOW FULL PROCESSLIST that map onto
// ProcessRow fields. Other columns are accepted and ignored.
var processColumns = []string{"id", "user", "host", "db", "command", "time", "state", "info"}

// ParseProcessList parses SHOW FULL PROCESSLIST output. Columns are located
// by header name, so a missing optional column leaves its field absent.
// Rows whose cell count differs from the header are excluded and counted.
func ParseProcessList(raw model.RawText) (*model.TabularSnapshot, error) {
	if strings.TrimSpace(raw.Text) == "" {
		return nil, formatError(string(model.KindProcessList), ErrEmptyInput)
	}

	lines := splitLines(raw.Text)
	start := 0
	for start < len(lines) && isNoise(lines[start]) {
		start++
	}
	if start == len(lines) {
		return nil, formatError(string(model.KindProcessList), ErrNoHeader)
	}

	f := lineFormat(lines[start])
	header := splitCells(lines[start], f)
	col := make(map[string]int, len(processColumns))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, seen := col[name]; !seen {
			col[name] = i
		}
	}
	if _, ok := col["id"]; !ok {
		return nil, formatError(string(model.KindProcessList), ErrNoHeader)
	}

	snap := &model.TabularSnapshot{
		Meta:    newMeta(raw, model.KindProcessList),
		Columns: header,
	}
	for n, line := range lines[start+1:] {
		if isNoise(line) {
			continue
		}
		cells := splitCells(line, f)
		if len(cells) != len(header) {
			snap.Diagnostics.MalformedRows++
			slog.Debug("processlist row does not match header",
				"line", start+n+2, "cells", len(cells), "columns", len(header))
			continue
		}
		row, ok := buildProcessRow(cells, col)
		if !ok {
			snap.Diagnostics.MalformedRows++
			slog.Debug("processlist row has non-numeric id or time", "line", start+n+2)
			continue
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

func buildProcessRow(cells []string, col map[string]int) (model.ProcessRow, bool) {
	cell := func(name string) (string, bool) {
		i, ok := col[name]
		if !ok || isNull(cells[i]) {
			return "", false
		}
		return cells[i], true
	}
	optional := func(name string) *string {
		if v, ok := cell(name); ok {
			return &v
		}
		return nil
	}

	var row model.ProcessRow
	id, ok := cell("id")
	if !ok {
		return row, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return row, false
	}
	row.ID = n

	if t, ok := cell("time"); ok && strings.TrimSpace(t) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return row, false
		}
		row.Time = n
	}
	row.User, _ = cell("user")
	row.Host, _ = cell("host")
	row.Command, _ = cell("command")
	row.DB = optional("db")
	row.State = optional("state")
	row.Info = optional("info")
	return row, true
}
