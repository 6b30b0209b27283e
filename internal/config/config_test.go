package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opnet-io/admitd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":8600" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8600")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Queue.Capacity != 64 {
		t.Errorf("Queue.Capacity = %d, want %d", cfg.Queue.Capacity, 64)
	}
	if cfg.Queue.AcceptTimeout != 3000*time.Millisecond {
		t.Errorf("Queue.AcceptTimeout = %v, want %v", cfg.Queue.AcceptTimeout, 3000*time.Millisecond)
	}
	if cfg.DDF.M != 1<<23 {
		t.Errorf("DDF.M = %d, want %d", cfg.DDF.M, uint64(1<<23))
	}
	if cfg.DDF.K != 11 {
		t.Errorf("DDF.K = %d, want %d", cfg.DDF.K, 11)
	}
	if cfg.DDF.Duration != 10*time.Minute {
		t.Errorf("DDF.Duration = %v, want %v", cfg.DDF.Duration, 10*time.Minute)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":9600"
queue:
  capacity: 128
  accept_timeout: "5s"
ddf:
  duration: "30m"
log:
  level: "debug"
  format: "text"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9600" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9600")
	}
	if cfg.Queue.Capacity != 128 {
		t.Errorf("Queue.Capacity = %d, want %d", cfg.Queue.Capacity, 128)
	}
	if cfg.Queue.AcceptTimeout != 5*time.Second {
		t.Errorf("Queue.AcceptTimeout = %v, want %v", cfg.Queue.AcceptTimeout, 5*time.Second)
	}
	if cfg.DDF.Duration != 30*time.Minute {
		t.Errorf("DDF.Duration = %v, want %v", cfg.DDF.Duration, 30*time.Minute)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadParsesPeers(t *testing.T) {
	t.Parallel()

	yamlContent := `
peers:
  - name: "relay-a"
    identity: "aa00000000000000000000000000000000000000000000000000000000aa00"
    public_key: "bb00000000000000000000000000000000000000000000000000000000bb00"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Peers) != 1 {
		t.Fatalf("len(Peers) = %d, want 1", len(cfg.Peers))
	}
	if cfg.Peers[0].Name != "relay-a" {
		t.Errorf("Peers[0].Name = %q, want %q", cfg.Peers[0].Name, "relay-a")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override queue.capacity. Everything else should
	// inherit from defaults.
	yamlContent := `
queue:
  capacity: 32
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Queue.Capacity != 32 {
		t.Errorf("Queue.Capacity = %d, want %d", cfg.Queue.Capacity, 32)
	}
	if cfg.Admin.Addr != ":8600" {
		t.Errorf("Admin.Addr = %q, want default %q", cfg.Admin.Addr, ":8600")
	}
	if cfg.DDF.M != 1<<23 {
		t.Errorf("DDF.M = %d, want default %d", cfg.DDF.M, uint64(1<<23))
	}
	if cfg.DDF.Duration != 10*time.Minute {
		t.Errorf("DDF.Duration = %v, want default %v", cfg.DDF.Duration, 10*time.Minute)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := `
admin:
  addr: ":8600"
queue:
  capacity: 64
`
	path := writeTemp(t, yamlContent)

	t.Setenv("ADMITD_ADMIN_ADDR", ":9999")
	t.Setenv("ADMITD_QUEUE_CAPACITY", "16")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9999" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":9999")
	}
	if cfg.Queue.Capacity != 16 {
		t.Errorf("Queue.Capacity = %d, want %d (from env)", cfg.Queue.Capacity, 16)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty admin addr",
			modify:  func(cfg *config.Config) { cfg.Admin.Addr = "" },
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name:    "zero queue capacity",
			modify:  func(cfg *config.Config) { cfg.Queue.Capacity = 0 },
			wantErr: config.ErrInvalidQueueCapacity,
		},
		{
			name:    "negative accept timeout",
			modify:  func(cfg *config.Config) { cfg.Queue.AcceptTimeout = -1 * time.Second },
			wantErr: config.ErrInvalidAcceptTimeout,
		},
		{
			name:    "zero ddf m",
			modify:  func(cfg *config.Config) { cfg.DDF.M = 0 },
			wantErr: config.ErrInvalidDDFParams,
		},
		{
			name:    "zero ddf k",
			modify:  func(cfg *config.Config) { cfg.DDF.K = 0 },
			wantErr: config.ErrInvalidDDFParams,
		},
		{
			name:    "zero ddf duration",
			modify:  func(cfg *config.Config) { cfg.DDF.Duration = 0 },
			wantErr: config.ErrInvalidDDFDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// writeTemp creates a temporary YAML file and returns its path. The file is
// automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "admitd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
