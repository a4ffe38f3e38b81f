// Package config loads the myscope YAML configuration with environment
// overrides.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/myscope/internal/collector"
	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/orchestrator"
)

// DefaultDBPath is used when neither the file nor the environment names a
// database.
const DefaultDBPath = "myscope.db"

// HostConfig describes one server to collect from.
type HostConfig struct {
	Name        string        `yaml:"name"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Socket      string        `yaml:"socket"`
	User        string        `yaml:"user"`
	PasswordEnv string        `yaml:"password_env"` // env var name for the password
	Password    string        `yaml:"-"`            // resolved at load time
	TLS         string        `yaml:"tls"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Target converts h to a collector target.
func (h HostConfig) Target() collector.Target {
	return collector.Target{
		Name:     h.Name,
		Host:     h.Host,
		Port:     h.Port,
		Socket:   h.Socket,
		User:     h.User,
		Password: h.Password,
		TLS:      h.TLS,
		Timeout:  h.Timeout,
	}
}

// Config is the whole configuration file.
type Config struct {
	DBPath    string        `yaml:"db_path"`
	Profile   string        `yaml:"profile"`
	Workers   int           `yaml:"workers"`
	Parallel  int           `yaml:"parallel"`
	Retention time.Duration `yaml:"retention"`
	RulesFile string        `yaml:"rules_file"`
	Rules     []health.Rule `yaml:"rules"` // evaluated ahead of the base table
	Hosts     []HostConfig  `yaml:"hosts"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	cfg := &Config{
		DBPath:   DefaultDBPath,
		Profile:  "standard",
		Workers:  4,
		Parallel: 4,
	}
	applyEnv(cfg)
	return cfg
}

// Load loads config from a YAML file with env overrides. An empty path
// returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	def := Default()
	if cfg.DBPath == "" {
		cfg.DBPath = def.DBPath
	}
	if cfg.Profile == "" {
		cfg.Profile = def.Profile
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = def.Parallel
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if p := os.Getenv("MYSCOPE_DB_PATH"); p != "" {
		cfg.DBPath = p
	}
	if p := os.Getenv("MYSCOPE_PROFILE"); p != "" {
		cfg.Profile = p
	}
	// Resolve passwords for each host from env vars
	for i := range cfg.Hosts {
		if cfg.Hosts[i].PasswordEnv != "" {
			cfg.Hosts[i].Password = os.Getenv(cfg.Hosts[i].PasswordEnv)
		}
	}
}

// Validate checks the profile and host list.
func (c *Config) Validate() error {
	if !orchestrator.ValidProfile(c.Profile) {
		return errors.Newf("unknown profile %q (want one of %v)", c.Profile, orchestrator.ProfileNames())
	}
	seen := map[string]bool{}
	for i, h := range c.Hosts {
		if h.Host == "" && h.Socket == "" {
			return errors.Newf("host %d: host or socket is required", i)
		}
		label := h.Target().Label()
		if seen[label] {
			return errors.Newf("host %d: duplicate host %q", i, label)
		}
		seen[label] = true
	}
	if len(c.Rules) > 0 {
		if err := health.Validate(c.Rules); err != nil {
			return errors.Wrap(err, "inline rules")
		}
	}
	return nil
}

// Targets returns the configured hosts as collector targets.
func (c *Config) Targets() []collector.Target {
	out := make([]collector.Target, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		out = append(out, h.Target())
	}
	return out
}

// Classifier builds the rule table: inline rules first, then the rules
// file if set, otherwise the built-in defaults.
func (c *Config) Classifier() (*health.Classifier, error) {
	base := health.DefaultRules()
	if c.RulesFile != "" {
		rules, err := health.LoadRules(c.RulesFile)
		if err != nil {
			return nil, err
		}
		base = rules
	}
	rules := append(append([]health.Rule(nil), c.Rules...), base...)
	return health.New(rules)
}
