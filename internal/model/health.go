package model

import "strings"

// HealthSummary condenses a set of verdicts.
type HealthSummary struct {
	Score    int `json:"score"`
	Nominal  int `json:"nominal"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Summarize counts verdicts and computes the overall score.
func Summarize(verdicts []HealthVerdict) HealthSummary {
	s := HealthSummary{Score: ComputeHealthScore(verdicts)}
	for _, v := range verdicts {
		switch v.Verdict {
		case Critical:
			s.Critical++
		case Warning:
			s.Warning++
		default:
			s.Nominal++
		}
	}
	return s
}

// ComputeHealthScore computes a 0-100 health score from classified keys.
// 100 = healthy, 0 = critical. Nominal verdicts cost nothing.
func ComputeHealthScore(verdicts []HealthVerdict) int {
	score := 100
	for _, v := range verdicts {
		weight := keyWeight(v.Key)
		switch v.Verdict {
		case Critical:
			score -= int(10 * weight)
		case Warning:
			score -= int(5 * weight)
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// keyWeight returns the importance weight for a key. Durability and
// connection exhaustion problems count more than cache sizing.
func keyWeight(key string) float64 {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "flush_log_at_trx_commit"), k == "sync_binlog":
		return 1.5
	case strings.Contains(k, "max_connections"), strings.Contains(k, "threads_connected"):
		return 1.5
	case strings.HasPrefix(k, "innodb"):
		return 1.2
	default:
		return 1.0
	}
}
