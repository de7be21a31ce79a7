package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dpr/internal/dpr"
)

const (
	defaultConfigPath = "~/.config/dpr/config.json"
	defaultJobWorkers = 2
	defaultQueueDepth = 64
)

// Config holds user-editable settings for reconstruction runs.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	DPR        DPR        `json:"dpr" yaml:"dpr"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Server     Server     `json:"server" yaml:"server"`
	Watch      Watch      `json:"watch" yaml:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	Workers    int      `json:"workers" yaml:"workers"`         // slice workers per run, 0 = NumCPU
	JobWorkers int      `json:"job_workers" yaml:"job_workers"` // concurrent runs in the pipeline
	QueueDepth int      `json:"queue_depth" yaml:"queue_depth"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	Resizer    string   `json:"resizer" yaml:"resizer"` // bicubic, imagick
}

// DPR holds default reconstruction parameters.
type DPR struct {
	PSF        float64 `json:"psf" yaml:"psf"`
	Gain       float64 `json:"gain" yaml:"gain"`
	Background *int    `json:"background" yaml:"background"` // unset = ceil(17 * psf)
	Temporal   string  `json:"temporal" yaml:"temporal"`     // none, mean, var
	PixelSize  float64 `json:"pixel_size" yaml:"pixel_size"`
	Unit       string  `json:"unit" yaml:"unit"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input" yaml:"default_input"`
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
	// DatabaseDriver is "sqlite" (pure Go) or "sqlite3" (cgo).
	DatabaseDriver string `json:"database_driver" yaml:"database_driver"`
}

// Server configures the network surfaces.
type Server struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
}

// Watch lists directories monitored for new stacks.
type Watch struct {
	Dirs     []string `json:"dirs" yaml:"dirs"`
	Debounce Duration `json:"debounce" yaml:"debounce"`
}

// Duration is a time.Duration that reads and writes as a string like "90s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
// DPR_CONFIG overrides the default location.
func Load() (*Config, error) {
	configPath := os.Getenv("DPR_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the file at path. A missing file yields the defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := decode(f, expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	return cfg, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err := yaml.NewDecoder(r).Decode(cfg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	default:
		return json.NewDecoder(r).Decode(cfg)
	}
}

// Params builds validated reconstruction parameters from the dpr section.
func (c *Config) Params() (dpr.Params, error) {
	p := dpr.DefaultParams(c.DPR.PSF)
	p.Gain = c.DPR.Gain
	if c.DPR.Background != nil {
		p.Background = *c.DPR.Background
	}
	mode, err := dpr.ParseTemporalMode(c.DPR.Temporal)
	if err != nil {
		return dpr.Params{}, err
	}
	p.Temporal = mode
	if err := p.Validate(); err != nil {
		return dpr.Params{}, err
	}
	return p, nil
}

// Calibration returns the configured input pixel calibration.
func (c *Config) Calibration() dpr.Calibration {
	return dpr.Calibration{PixelWidth: c.DPR.PixelSize, PixelHeight: c.DPR.PixelSize, Unit: c.DPR.Unit}
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			JobWorkers: defaultJobWorkers,
			QueueDepth: defaultQueueDepth,
			Timeout:    Duration(dpr.DefaultTimeout),
			Resizer:    "bicubic",
		},
		DPR: DPR{
			PSF:       4,
			Gain:      1,
			Temporal:  "none",
			PixelSize: 1,
			Unit:      "pixel",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:   ".",
			DefaultOutput:  "./output",
			DatabasePath:   filepath.Join(os.TempDir(), "dpr.db"),
			DatabaseDriver: "sqlite",
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Watch: Watch{
			Debounce: Duration(2 * time.Second),
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
