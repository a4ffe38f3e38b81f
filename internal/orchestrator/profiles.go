package orchestrator

import (
	"time"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

// ProfileConfig defines which snapshots a named profile collects.
type ProfileConfig struct {
	Kinds   []model.Kind
	Timeout time.Duration // whole-host budget
}

// Commands returns the statements the profile runs, in collection order.
func (p ProfileConfig) Commands() []string {
	return parser.Commands(p.Kinds...)
}

// profiles contains the built-in profile presets.
var profiles = map[string]ProfileConfig{
	"quick": {
		Kinds:   []model.Kind{model.KindStatus, model.KindProcessList},
		Timeout: 30 * time.Second,
	},
	"standard": {
		Kinds: []model.Kind{
			model.KindInnoDB,
			model.KindStatus,
			model.KindProcessList,
			model.KindVariables,
		},
		Timeout: 60 * time.Second,
	},
	"deep": {
		Kinds:   model.Kinds(),
		Timeout: 120 * time.Second,
	},
}

// GetProfile returns the profile config for the given name.
// Falls back to "standard" if unknown.
func GetProfile(name string) ProfileConfig {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["standard"]
}

// ProfileNames returns available profile names.
func ProfileNames() []string {
	return []string{"quick", "standard", "deep"}
}

// ValidProfile reports whether name is a built-in profile.
func ValidProfile(name string) bool {
	_, ok := profiles[name]
	return ok
}
