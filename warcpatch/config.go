package warcpatch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/USC-NSL/IMC-25-Artifact/batch"
	"github.com/USC-NSL/IMC-25-Artifact/dbopen"
	"github.com/USC-NSL/IMC-25-Artifact/markup"
	"github.com/USC-NSL/IMC-25-Artifact/patcher"
)

// Config holds all warcpatch configuration.
type Config struct {
	ArchiveDir    string `yaml:"archive_dir"`
	Collection    string `yaml:"collection"`
	DynamicSuffix string `yaml:"dynamic_suffix"`
	StaticSuffix  string `yaml:"static_suffix"`

	Policy         string   `yaml:"policy"`
	PinTimestamp   bool     `yaml:"pin_timestamp"`
	Selector       string   `yaml:"selector"`
	AnchorSelector string   `yaml:"anchor_selector"`
	ContentTypes   []string `yaml:"content_types"`

	Batch  BatchConfig  `yaml:"batch"`
	Ledger LedgerConfig `yaml:"ledger"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
}

// BatchConfig controls collection fan-out.
type BatchConfig struct {
	Workers    int           `yaml:"workers"`
	Rate       float64       `yaml:"rate"`
	Burst      int           `yaml:"burst"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// LedgerConfig locates the job ledger.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// HTTPConfig controls the serve command.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// PasswordHash is a bcrypt hash; when set, the API requires basic auth.
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) defaults() {
	if c.ArchiveDir == "" {
		c.ArchiveDir = "."
	}
	if c.DynamicSuffix == "" {
		c.DynamicSuffix = "js-0"
	}
	if c.StaticSuffix == "" {
		c.StaticSuffix = "nojs-0"
	}
	if c.Policy == "" {
		c.Policy = string(patcher.PolicyFull)
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.JobTimeout <= 0 {
		c.Batch.JobTimeout = 5 * time.Minute
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = dbopen.SQLite
	}
	if c.Ledger.DSN == "" {
		c.Ledger.DSN = "warcpatch.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("warcpatch: config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WARCPATCH_* variables of lookup. Pass
// os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"WARCPATCH_ARCHIVE_DIR":        &c.ArchiveDir,
		"WARCPATCH_COLLECTION":         &c.Collection,
		"WARCPATCH_DYNAMIC_SUFFIX":     &c.DynamicSuffix,
		"WARCPATCH_STATIC_SUFFIX":      &c.StaticSuffix,
		"WARCPATCH_POLICY":             &c.Policy,
		"WARCPATCH_SELECTOR":           &c.Selector,
		"WARCPATCH_LEDGER_DRIVER":      &c.Ledger.Driver,
		"WARCPATCH_LEDGER_DSN":         &c.Ledger.DSN,
		"WARCPATCH_HTTP_ADDR":          &c.HTTP.Addr,
		"WARCPATCH_HTTP_PASSWORD_HASH": &c.HTTP.PasswordHash,
		"WARCPATCH_LOG_LEVEL":          &c.Log.Level,
		"WARCPATCH_LOG_FORMAT":         &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("WARCPATCH_PIN_TIMESTAMP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("warcpatch: WARCPATCH_PIN_TIMESTAMP: %w", err)
		}
		c.PinTimestamp = b
	}
	if v, ok := lookup("WARCPATCH_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("warcpatch: WARCPATCH_WORKERS: %w", err)
		}
		c.Batch.Workers = n
	}
	return nil
}

// predicates compiles the selector and anchor selector. Empty selectors
// yield nil, leaving the patcher defaults.
func (c *Config) predicates() (sel, anchor markup.Predicate, err error) {
	if c.Selector != "" {
		if sel, err = markup.SelectorPredicate(c.Selector); err != nil {
			return nil, nil, err
		}
	}
	if c.AnchorSelector != "" {
		if anchor, err = markup.SelectorPredicate(c.AnchorSelector); err != nil {
			return nil, nil, err
		}
	}
	return sel, anchor, nil
}

// RunnerConfig converts the configuration into a batch runner config.
func (c *Config) RunnerConfig() (batch.Config, error) {
	policy, err := patcher.ParsePolicy(c.Policy)
	if err != nil {
		return batch.Config{}, err
	}
	sel, anchor, err := c.predicates()
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{
		ArchiveDir:    c.ArchiveDir,
		DynamicSuffix: c.DynamicSuffix,
		StaticSuffix:  c.StaticSuffix,
		Policy:        policy,
		PinTimestamp:  c.PinTimestamp,
		Selector:      sel,
		Anchor:        anchor,
		ContentTypes:  c.ContentTypes,
		Workers:       c.Batch.Workers,
		Rate:          c.Batch.Rate,
		Burst:         c.Batch.Burst,
		JobTimeout:    c.Batch.JobTimeout,
	}, nil
}

// PatcherOptions returns patcher options for an explicit pair of captures,
// carrying the configured policy and selectors.
func (c *Config) PatcherOptions(dynamicPrefix, dynamicWARC, staticPrefix, staticWARC string) (patcher.Options, error) {
	bc, err := c.RunnerConfig()
	if err != nil {
		return patcher.Options{}, err
	}
	return patcher.Options{
		DynamicPrefix: dynamicPrefix,
		DynamicWARC:   dynamicWARC,
		StaticPrefix:  staticPrefix,
		StaticWARC:    staticWARC,
		Policy:        bc.Policy,
		PinTimestamp:  bc.PinTimestamp,
		Selector:      bc.Selector,
		Anchor:        bc.Anchor,
		ContentTypes:  bc.ContentTypes,
	}, nil
}
