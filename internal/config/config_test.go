package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dpr/internal/dpr"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Processing.JobWorkers != defaultJobWorkers {
		t.Fatalf("job workers = %d", cfg.Processing.JobWorkers)
	}
	if time.Duration(cfg.Processing.Timeout) != dpr.DefaultTimeout {
		t.Fatalf("timeout = %v", time.Duration(cfg.Processing.Timeout))
	}
	if cfg.Paths.DatabaseDriver != "sqlite" {
		t.Fatalf("database driver = %q", cfg.Paths.DatabaseDriver)
	}
	p, err := cfg.Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if p != dpr.DefaultParams(4) {
		t.Fatalf("default params = %+v", p)
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"processing":{"workers":3,"timeout":"90s"},"dpr":{"psf":2.5,"gain":2,"background":12,"temporal":"var"},"watch":{"dirs":["/data/in"]}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "processing:\n  workers: 3\n  timeout: 90s\ndpr:\n  psf: 2.5\n  gain: 2\n  background: 12\n  temporal: var\nwatch:\n  dirs: [/data/in]\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if cfg.Processing.Workers != 3 || time.Duration(cfg.Processing.Timeout) != 90*time.Second {
				t.Fatalf("processing = %+v", cfg.Processing)
			}
			// untouched sections keep their defaults
			if cfg.Server.HTTPAddr != ":8080" {
				t.Fatalf("http addr = %q", cfg.Server.HTTPAddr)
			}
			if len(cfg.Watch.Dirs) != 1 || cfg.Watch.Dirs[0] != "/data/in" {
				t.Fatalf("watch dirs = %v", cfg.Watch.Dirs)
			}
			p, err := cfg.Params()
			if err != nil {
				t.Fatalf("Params: %v", err)
			}
			want := dpr.Params{PSF: 2.5, Gain: 2, Background: 12, Temporal: dpr.TemporalVariance}
			if p != want {
				t.Fatalf("params = %+v, want %+v", p, want)
			}
		})
	}
}

func TestExplicitZeroBackground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dpr:\n  psf: 4\n  background: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	p, err := cfg.Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if p.Background != 0 {
		t.Fatalf("background = %d, want 0", p.Background)
	}

	// omitted key falls back to ceil(17 * psf)
	cfg = defaultConfig()
	cfg.DPR.PSF = 4
	if p, _ := cfg.Params(); p.Background != 68 {
		t.Fatalf("derived background = %d, want 68", p.Background)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"processing":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadHonoursEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	if err := os.WriteFile(path, []byte("server:\n  grpc_addr: 127.0.0.1:7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DPR_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:7000" {
		t.Fatalf("grpc addr = %q", cfg.Server.GRPCAddr)
	}
}

func TestParamsValidation(t *testing.T) {
	cfg := defaultConfig()
	cfg.DPR.PSF = 0
	if _, err := cfg.Params(); !errors.Is(err, dpr.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	cfg = defaultConfig()
	cfg.DPR.Temporal = "median"
	if _, err := cfg.Params(); err == nil {
		t.Fatalf("expected error for unknown temporal mode")
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandUser("~/.config/dpr/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".config/dpr/config.json"); got != want {
		t.Fatalf("expandUser = %q, want %q", got, want)
	}
	if got, _ := expandUser("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
