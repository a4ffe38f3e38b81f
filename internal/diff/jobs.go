package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// HostDiff is the comparison of one host's snapshots of one kind across
// two collection runs.
type HostDiff struct {
	Host     string                `json:"host"`
	Kind     model.Kind            `json:"kind"`
	Diff     *model.DiffResult     `json:"diff"`
	Summary  Summary               `json:"summary"`
	Verdicts []model.HealthVerdict `json:"verdicts,omitempty"`
}

// JobDiff compares two collection runs over the hosts they share.
type JobDiff struct {
	BeforeJob   string     `json:"before_job"`
	AfterJob    string     `json:"after_job"`
	CommonHosts []string   `json:"common_hosts"`
	OnlyBefore  []string   `json:"only_before,omitempty"`
	OnlyAfter   []string   `json:"only_after,omitempty"`
	Hosts       []HostDiff `json:"hosts"`
}

// CompareJobs diffs every (host, kind) captured by both runs. Runs are keyed
// by host, then kind. Hosts or kinds present in only one run are not
// compared; the hosts are listed in OnlyBefore and OnlyAfter.
func CompareJobs(before, after map[string]map[model.Kind]model.Snapshot, opts Options) (*JobDiff, error) {
	jd := &JobDiff{}
	for host := range before {
		if _, ok := after[host]; ok {
			jd.CommonHosts = append(jd.CommonHosts, host)
		} else {
			jd.OnlyBefore = append(jd.OnlyBefore, host)
		}
	}
	for host := range after {
		if _, ok := before[host]; !ok {
			jd.OnlyAfter = append(jd.OnlyAfter, host)
		}
	}
	sort.Strings(jd.CommonHosts)
	sort.Strings(jd.OnlyBefore)
	sort.Strings(jd.OnlyAfter)

	for _, host := range jd.CommonHosts {
		var kinds []model.Kind
		for k := range before[host] {
			if _, ok := after[host][k]; ok {
				kinds = append(kinds, k)
			}
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			res, err := CompareWith(before[host][k], after[host][k], opts)
			if err != nil {
				return nil, errors.Wrapf(err, "%s %s", host, k)
			}
			jd.Hosts = append(jd.Hosts, HostDiff{Host: host, Kind: k, Diff: res, Summary: Summarize(res)})
		}
	}
	return jd, nil
}

// FormatJobDiff renders every host comparison of jd with FormatDiff.
func FormatJobDiff(jd *JobDiff) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Job Diff %s -> %s ===\n", jd.BeforeJob, jd.AfterJob)
	fmt.Fprintf(&sb, "Common hosts: %d", len(jd.CommonHosts))
	if len(jd.OnlyBefore) > 0 {
		fmt.Fprintf(&sb, ", only before: %s", strings.Join(jd.OnlyBefore, ", "))
	}
	if len(jd.OnlyAfter) > 0 {
		fmt.Fprintf(&sb, ", only after: %s", strings.Join(jd.OnlyAfter, ", "))
	}
	sb.WriteString("\n")
	if len(jd.Hosts) == 0 {
		sb.WriteString("Nothing to compare.\n")
		return sb.String()
	}
	for _, h := range jd.Hosts {
		fmt.Fprintf(&sb, "\n--- %s ---\n", h.Host)
		sb.WriteString(FormatDiff(h.Diff))
	}
	return sb.String()
}
