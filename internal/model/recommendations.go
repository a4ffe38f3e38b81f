package model

import (
	"fmt"
	"strings"
)

// Recommendation is a suggested configuration change for a non-nominal key.
type Recommendation struct {
	Priority       int      `json:"priority"`
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	Commands       []string `json:"commands"`
	Persistent     []string `json:"persistent,omitempty"`
	ExpectedImpact string   `json:"expected_impact"`
	Evidence       string   `json:"evidence"`
}

type advice struct {
	title    string
	setting  string // variable to change; empty for investigation-only advice
	value    string
	impact   string
	commands []string
}

// adviceTable maps lowercased keys to the change myscope suggests when the
// key is classified warning or critical.
var adviceTable = map[string]advice{
	"tmp_table_size": {
		title: "Raise in-memory temporary table limit", setting: "tmp_table_size", value: "64M",
		impact: "Fewer implicit temporary tables spilled to disk",
	},
	"max_heap_table_size": {
		title: "Raise max_heap_table_size alongside tmp_table_size", setting: "max_heap_table_size", value: "64M",
		impact: "tmp_table_size is capped by max_heap_table_size",
	},
	"wait_timeout": {
		title: "Increase idle connection timeout", setting: "wait_timeout", value: "300",
		impact: "Fewer dropped pooled connections",
	},
	"innodb_log_file_size": {
		title: "Enlarge the InnoDB redo log", setting: "innodb_log_file_size", value: "512M",
		impact: "Less aggressive checkpointing under write load",
	},
	"innodb_flush_log_at_trx_commit": {
		title: "Flush the redo log at every commit", setting: "innodb_flush_log_at_trx_commit", value: "1",
		impact: "Full ACID durability on crash",
	},
	"sync_binlog": {
		title: "Sync the binary log at every commit", setting: "sync_binlog", value: "1",
		impact: "No lost binlog events on crash",
	},
	"innodb_read_io_threads": {
		title: "Add InnoDB read I/O threads", setting: "innodb_read_io_threads", value: "4",
		impact: "More parallel read-ahead on fast storage",
	},
	"innodb_write_io_threads": {
		title: "Add InnoDB write I/O threads", setting: "innodb_write_io_threads", value: "4",
		impact: "More parallel page flushing on fast storage",
	},
	"max_connections": {
		title:  "Connection usage is close to max_connections",
		impact: "Avoid 'Too many connections' errors",
		commands: []string{
			"SHOW FULL PROCESSLIST",
			"myscope collect --profile quick",
		},
	},
	"table_open_cache": {
		title: "Grow the table cache", setting: "table_open_cache", value: "4000",
		impact: "Fewer table reopen operations",
	},
	"aborted_connects": {
		title:  "Investigate failed connection attempts",
		impact: "Identify clients with bad credentials or network issues",
		commands: []string{
			"SELECT * FROM performance_schema.host_cache WHERE SUM_CONNECT_ERRORS > 0",
		},
	},
}

// GenerateRecommendations produces actionable SET GLOBAL / my.cnf changes for
// every warning or critical verdict. Critical findings come first.
func GenerateRecommendations(verdicts []HealthVerdict) []Recommendation {
	var recs []Recommendation
	priority := 1
	for _, level := range []Verdict{Critical, Warning} {
		for _, v := range verdicts {
			if v.Verdict != level {
				continue
			}
			a, ok := adviceTable[strings.ToLower(v.Key)]
			if !ok {
				continue
			}
			rec := Recommendation{
				Priority:       priority,
				Key:            v.Key,
				Title:          a.title,
				Commands:       a.commands,
				ExpectedImpact: a.impact,
				Evidence:       formatEvidence("%s=%s (%s: %s)", v.Key, v.Observed.String(), v.Verdict, v.Rule),
			}
			if a.setting != "" {
				rec.Commands = append([]string{fmt.Sprintf("SET GLOBAL %s = %s", a.setting, sqlLiteral(a.value))}, a.commands...)
				rec.Persistent = []string{fmt.Sprintf("[mysqld]\n%s = %s", a.setting, a.value)}
			}
			recs = append(recs, rec)
			priority++
		}
	}
	return recs
}

// sqlLiteral converts a size like 64M into the byte count SET GLOBAL expects.
func sqlLiteral(v string) string {
	mult := int64(1)
	switch {
	case strings.HasSuffix(v, "M"):
		mult = 1 << 20
	case strings.HasSuffix(v, "G"):
		mult = 1 << 30
	default:
		return v
	}
	var n int64
	if _, err := fmt.Sscanf(strings.TrimRight(v, "MG"), "%d", &n); err != nil {
		return v
	}
	return fmt.Sprintf("%d", n*mult)
}

func formatEvidence(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
