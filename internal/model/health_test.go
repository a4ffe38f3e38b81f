package model

import "testing"

func TestComputeHealthScore(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []HealthVerdict
		want     int
	}{
		{"empty", nil, 100},
		{"all nominal", []HealthVerdict{{Key: "wait_timeout", Verdict: Nominal}}, 100},
		{"one warning", []HealthVerdict{{Key: "wait_timeout", Verdict: Warning}}, 95},
		{"one critical", []HealthVerdict{{Key: "tmp_table_size", Verdict: Critical}}, 90},
		{"weighted durability", []HealthVerdict{{Key: "innodb_flush_log_at_trx_commit", Verdict: Critical}}, 85},
		{"weighted innodb", []HealthVerdict{{Key: "innodb_log_file_size", Verdict: Warning}}, 94},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeHealthScore(tc.verdicts); got != tc.want {
				t.Errorf("score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestComputeHealthScoreClamped(t *testing.T) {
	var verdicts []HealthVerdict
	for i := 0; i < 20; i++ {
		verdicts = append(verdicts, HealthVerdict{Key: "max_connections", Verdict: Critical})
	}
	if got := ComputeHealthScore(verdicts); got != 0 {
		t.Errorf("score = %d, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]HealthVerdict{
		{Key: "a", Verdict: Nominal},
		{Key: "b", Verdict: Warning},
		{Key: "c", Verdict: Warning},
		{Key: "d", Verdict: Critical},
	})
	if s.Nominal != 1 || s.Warning != 2 || s.Critical != 1 {
		t.Errorf("counts = %+v, want 1/2/1", s)
	}
	if s.Score != 100-5-5-10 {
		t.Errorf("score = %d, want 80", s.Score)
	}
}
