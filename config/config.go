// Package config provides the static configuration structure consumed by
// the pipeline at startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/imgopt"
	"github.com/meigma/imgopt/cache"
	"github.com/meigma/imgopt/experiment"
)

// Config is the full pipeline configuration. All consumers receive it fully
// enumerated and validated; nothing is merged in dynamically at runtime.
type Config struct {
	// ProxyBase is the optimization proxy base URL.
	ProxyBase string `yaml:"proxy_base"`

	// SampleRef is the small source image used for format probes.
	SampleRef string `yaml:"sample_ref"`

	// Listen is the daemon's listen address.
	Listen string `yaml:"listen"`

	// AssignmentsDB is the SQLite file persisting experiment assignments.
	// Empty keeps assignments in memory.
	AssignmentsDB string `yaml:"assignments_db"`

	Quality     QualityConfig      `yaml:"quality"`
	Breakpoints []int              `yaml:"breakpoints"`
	LazyLoad    LazyLoadConfig     `yaml:"lazy_load"`
	Cache       CacheConfig        `yaml:"cache"`
	Experiments []ExperimentConfig `yaml:"experiments"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
}

// QualityConfig holds per-format default qualities.
type QualityConfig struct {
	JPEG int `yaml:"jpg"`
	WebP int `yaml:"webp"`
	AVIF int `yaml:"avif"`
}

// ForFormat returns the configured default for a format.
func (q QualityConfig) ForFormat(f imgopt.Format) int {
	switch f {
	case imgopt.FormatWebP:
		return q.WebP
	case imgopt.FormatAVIF:
		return q.AVIF
	default:
		return q.JPEG
	}
}

// LazyLoadConfig holds the proximity region settings.
type LazyLoadConfig struct {
	MarginPx  float64 `yaml:"margin_px"`
	Threshold float64 `yaml:"threshold"`
}

// CacheConfig holds the cache location and partition budget table.
type CacheConfig struct {
	// Dir enables the disk backend when set; empty selects in-memory.
	Dir string `yaml:"dir"`

	Partitions map[string]PartitionConfig `yaml:"partitions"`
}

// PartitionConfig budgets one cache partition.
type PartitionConfig struct {
	MaxBytes int64    `yaml:"max_bytes"`
	MaxAge   Duration `yaml:"max_age"`
}

// ExperimentConfig declares one experiment.
type ExperimentConfig struct {
	Name     string          `yaml:"name"`
	Variants []VariantConfig `yaml:"variants"`
}

// VariantConfig declares one weighted variant.
type VariantConfig struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// TelemetryConfig holds the external collector endpoints.
type TelemetryConfig struct {
	MetricsEndpoint   string   `yaml:"metrics_endpoint"`
	AnalyticsEndpoint string   `yaml:"analytics_endpoint"`
	FlushInterval     Duration `yaml:"flush_interval"`
	BatchSize         int      `yaml:"batch_size"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "168h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Quality: QualityConfig{
			JPEG: 80,
			WebP: 80,
			AVIF: 75,
		},
		Breakpoints: []int{320, 640, 768, 1024, 1366, 1920},
		LazyLoad: LazyLoadConfig{
			MarginPx:  50,
			Threshold: 0.1,
		},
		Cache: CacheConfig{
			Partitions: map[string]PartitionConfig{
				"images": {
					MaxBytes: 50 << 20,
					MaxAge:   Duration(7 * 24 * time.Hour),
				},
				"optimized": {
					MaxBytes: 100 << 20,
					MaxAge:   Duration(30 * 24 * time.Hour),
				},
			},
		},
		Experiments: []ExperimentConfig{
			{
				Name: imgopt.ExperimentFormat,
				Variants: []VariantConfig{
					{Name: imgopt.VariantSmartDetection, Weight: 80},
					{Name: imgopt.VariantAVIFFirst, Weight: 10},
					{Name: imgopt.VariantWebPFirst, Weight: 10},
				},
			},
			{
				Name: imgopt.ExperimentQuality,
				Variants: []VariantConfig{
					{Name: imgopt.VariantBalanced, Weight: 80},
					{Name: imgopt.VariantAggressive, Weight: 10},
					{Name: imgopt.VariantQualityFocused, Weight: 10},
				},
			},
		},
		Telemetry: TelemetryConfig{
			FlushInterval: Duration(30 * time.Second),
			BatchSize:     50,
		},
	}
}

// LoadFromFile reads a YAML file over the defaults and validates the
// result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ProxyBase == "" {
		return errors.New("config: proxy_base is required")
	}
	if u, err := url.Parse(c.ProxyBase); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid proxy_base %q", c.ProxyBase)
	}

	for _, q := range []int{c.Quality.JPEG, c.Quality.WebP, c.Quality.AVIF} {
		if q < imgopt.MinQuality || q > imgopt.MaxQuality {
			return fmt.Errorf("config: quality default %d outside [%d,%d]",
				q, imgopt.MinQuality, imgopt.MaxQuality)
		}
	}

	prev := 0
	for _, bp := range c.Breakpoints {
		if bp <= prev {
			return fmt.Errorf("config: breakpoints must be positive and ascending, got %v", c.Breakpoints)
		}
		prev = bp
	}

	if c.LazyLoad.MarginPx < 0 {
		return errors.New("config: lazy_load.margin_px must be >= 0")
	}
	if c.LazyLoad.Threshold < 0 || c.LazyLoad.Threshold > 1 {
		return errors.New("config: lazy_load.threshold must be in [0,1]")
	}

	if len(c.Cache.Partitions) == 0 {
		return errors.New("config: at least one cache partition is required")
	}
	for name, p := range c.Cache.Partitions {
		if name == "" {
			return errors.New("config: cache partition name is empty")
		}
		if p.MaxBytes < 0 || p.MaxAge < 0 {
			return fmt.Errorf("config: cache partition %q has negative budget", name)
		}
	}

	for _, exp := range c.Experiments {
		if exp.Name == "" {
			return errors.New("config: experiment name is empty")
		}
		if len(exp.Variants) == 0 {
			return fmt.Errorf("config: experiment %q has no variants", exp.Name)
		}
		for _, v := range exp.Variants {
			if v.Name == "" || v.Weight <= 0 {
				return fmt.Errorf("config: experiment %q has an invalid variant", exp.Name)
			}
		}
	}
	return nil
}

// Budgets converts the partition table to cache budgets.
func (c *Config) Budgets() map[string]cache.Budget {
	out := make(map[string]cache.Budget, len(c.Cache.Partitions))
	for name, p := range c.Cache.Partitions {
		out[name] = cache.Budget{
			MaxBytes: p.MaxBytes,
			MaxAge:   time.Duration(p.MaxAge),
		}
	}
	return out
}

// ExperimentSet converts the experiment table to assigner experiments.
func (c *Config) ExperimentSet() []experiment.Experiment {
	out := make([]experiment.Experiment, 0, len(c.Experiments))
	for _, exp := range c.Experiments {
		variants := make([]experiment.Variant, 0, len(exp.Variants))
		for _, v := range exp.Variants {
			variants = append(variants, experiment.Variant{Name: v.Name, Weight: v.Weight})
		}
		out = append(out, experiment.Experiment{Name: exp.Name, Variants: variants})
	}
	return out
}
