package config

import (
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshworks/relay/pkg/errdefs"
)

// Duration is a time.Duration that reads from YAML as "30s", "5m", or a
// bare integer of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return errdefs.Wrap(errdefs.KindConfig, err, "invalid duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return errdefs.New(errdefs.KindConfig, "invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the hub configuration document. Every field has a working
// default; an absent file yields a fully usable config, and a present
// but unparsable file is the one fatal configuration error in the
// system.
type Config struct {
	// DataDir holds the rule store database and any other disk state
	DataDir string `yaml:"dataDir"`

	// ConnectorsFile is the human-edited instance document, rewritten on
	// mutation when AutoSave is on
	ConnectorsFile string `yaml:"connectorsFile"`

	// TypesDir is scanned by connector type auto-discovery
	TypesDir string `yaml:"typesDir"`

	AutoSave         bool     `yaml:"autoSave"`
	AutoSaveDebounce Duration `yaml:"autoSaveDebounce"`

	Bus    BusConfig    `yaml:"bus"`
	Engine EngineConfig `yaml:"engine"`
	Health HealthConfig `yaml:"health"`
	Log    LogConfig    `yaml:"log"`

	// MetricsListen is the address for the Prometheus endpoint; empty
	// disables it
	MetricsListen string `yaml:"metricsListen"`
}

type BusConfig struct {
	HistoryCap int `yaml:"historyCap"`
	MailboxCap int `yaml:"mailboxCap"`
	Workers    int `yaml:"workers"`
}

type EngineConfig struct {
	Cooldown      Duration `yaml:"cooldown"`
	ActionTimeout Duration `yaml:"actionTimeout"`
}

type HealthConfig struct {
	// Interval between health:check publications
	Interval Duration `yaml:"interval"`

	// RetentionCron schedules the alarm history sweep
	RetentionCron string `yaml:"retentionCron"`

	// RetentionAge is how long resolved alarms are kept
	RetentionAge Duration `yaml:"retentionAge"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:          "/var/lib/relay",
		ConnectorsFile:   "/var/lib/relay/connectors.json",
		TypesDir:         "/var/lib/relay/connectors.d",
		AutoSave:         true,
		AutoSaveDebounce: Duration(2 * time.Second),
		Bus: BusConfig{
			HistoryCap: 1000,
			MailboxCap: 1024,
			Workers:    runtime.NumCPU(),
		},
		Engine: EngineConfig{
			Cooldown:      0,
			ActionTimeout: Duration(30 * time.Second),
		},
		Health: HealthConfig{
			Interval:      Duration(30 * time.Second),
			RetentionCron: "0 3 * * *",
			RetentionAge:  Duration(30 * 24 * time.Hour),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a config file over the defaults. A missing file is fine; a
// malformed one is not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errdefs.Wrap(errdefs.KindConfig, err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfig, err, "parse config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errdefs.New(errdefs.KindConfig, "dataDir must not be empty")
	}
	if c.Bus.HistoryCap < 0 || c.Bus.MailboxCap < 0 || c.Bus.Workers < 0 {
		return errdefs.New(errdefs.KindConfig, "bus capacities must not be negative")
	}
	if c.Health.Interval < 0 {
		return errdefs.New(errdefs.KindConfig, "health interval must not be negative")
	}
	return nil
}
