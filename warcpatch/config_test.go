package warcpatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/USC-NSL/IMC-25-Artifact/patcher"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warcpatch.yaml")
	data := `
archive_dir: /data/archive
collection: ablation
policy: selective
pin_timestamp: true
selector: "script[src]"
content_types: [javascript, html]
batch:
  workers: 8
  rate: 2.5
  job_timeout: 90s
ledger:
  driver: postgres
  dsn: postgres://warcpatch@localhost/warcpatch
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.defaults()

	want := &Config{
		ArchiveDir:    "/data/archive",
		Collection:    "ablation",
		DynamicSuffix: "js-0",
		StaticSuffix:  "nojs-0",
		Policy:        "selective",
		PinTimestamp:  true,
		Selector:      "script[src]",
		ContentTypes:  []string{"javascript", "html"},
		Batch:         BatchConfig{Workers: 8, Rate: 2.5, JobTimeout: 90 * time.Second},
		Ledger:        LedgerConfig{Driver: "postgres", DSN: "postgres://warcpatch@localhost/warcpatch"},
		HTTP:          HTTPConfig{Addr: ":8080"},
		Log:           LogConfig{Level: "info", Format: "json"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	rc, err := cfg.RunnerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if rc.Policy != patcher.PolicySelective || rc.Selector == nil || rc.Anchor != nil || rc.Workers != 8 {
		t.Errorf("runner config = %+v", rc)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("batch: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WARCPATCH_ARCHIVE_DIR":   "/env/archive",
		"WARCPATCH_LEDGER_DSN":    "/env/ledger.db",
		"WARCPATCH_LOG_LEVEL":     "debug",
		"WARCPATCH_PIN_TIMESTAMP": "true",
		"WARCPATCH_WORKERS":       "3",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := &Config{ArchiveDir: "/file/archive", Collection: "col"}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.ArchiveDir != "/env/archive" || cfg.Ledger.DSN != "/env/ledger.db" || cfg.Log.Level != "debug" {
		t.Errorf("string overrides not applied: %+v", cfg)
	}
	if !cfg.PinTimestamp || cfg.Batch.Workers != 3 || cfg.Collection != "col" {
		t.Errorf("typed overrides: %+v", cfg)
	}

	env["WARCPATCH_WORKERS"] = "many"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric workers")
	}
}

func TestRunnerConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad policy", Config{Policy: "partial"}},
		{"bad selector", Config{Selector: "[["}},
		{"bad anchor", Config{AnchorSelector: "div[", Policy: "full"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.RunnerConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
