// Package config loads settings from defaults, an optional file, PASSPORT_*
// environment variables and bound command-line flags, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/passport/internal/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Output          OutputConfig    `mapstructure:"output"`
	Toggles         types.Toggles   `mapstructure:"toggles"`
	Detector        DetectorConfig  `mapstructure:"detector"`
	Segmenter       SegmenterConfig `mapstructure:"segmenter"`
	Worker          WorkerConfig    `mapstructure:"worker"`
	Engines         int             `mapstructure:"engines"`
	MaxCanvasPixels int             `mapstructure:"max_canvas_pixels"`
	Log             LogConfig       `mapstructure:"log"`
}

type OutputConfig struct {
	Preset     string `mapstructure:"preset"`
	Format     string `mapstructure:"format"`
	Quality    int    `mapstructure:"quality"`
	Background string `mapstructure:"background"`
	Dir        string `mapstructure:"dir"`
}

type DetectorConfig struct {
	Backend        string  `mapstructure:"backend"`
	CascadeDir     string  `mapstructure:"cascade_dir"`
	MinSize        int     `mapstructure:"min_size"`
	MaxSize        int     `mapstructure:"max_size"`
	MinScore       float64 `mapstructure:"min_score"`
	ModelPath      string  `mapstructure:"model_path"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

type SegmenterConfig struct {
	Backend string `mapstructure:"backend"`
}

type WorkerConfig struct {
	Python string `mapstructure:"python"`
	Script string `mapstructure:"script"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// EnvPrefix namespaces environment overrides, e.g. PASSPORT_OUTPUT_PRESET.
const EnvPrefix = "PASSPORT"

// Load reads configPath (if non-empty) and overlays environment variables
// and any flags in flags that were explicitly set. Flags are looked up by
// their key name (e.g. "output.preset").
func Load(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, f := range flags {
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.preset", "usa")
	v.SetDefault("output.format", "jpg")
	v.SetDefault("output.quality", 92)
	v.SetDefault("output.background", "#ffffff")
	v.SetDefault("output.dir", "")

	d := types.DefaultToggles()
	v.SetDefault("toggles.face_crop", d.FaceCrop)
	v.SetDefault("toggles.bg_remove", d.BgRemove)
	v.SetDefault("toggles.auto_center", d.AutoCenter)
	v.SetDefault("toggles.eye_guides", d.EyeGuides)
	v.SetDefault("toggles.red_eye", d.RedEye)
	v.SetDefault("toggles.lighting", d.Lighting)

	v.SetDefault("detector.backend", "pigo")
	v.SetDefault("detector.cascade_dir", "cascade")
	v.SetDefault("detector.min_size", 40)
	v.SetDefault("detector.max_size", 2000)
	v.SetDefault("detector.min_score", 5.0)
	v.SetDefault("detector.model_path", "models/face_detection_yunet_2023mar.onnx")
	v.SetDefault("detector.score_threshold", 0.6)

	v.SetDefault("segmenter.backend", "worker")

	v.SetDefault("worker.python", "python3")
	v.SetDefault("worker.script", "python/worker.py")

	v.SetDefault("engines", 1)
	v.SetDefault("max_canvas_pixels", 64<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	if _, err := types.LookupPreset(c.Output.Preset); err != nil {
		return err
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100, got %d", c.Output.Quality)
	}
	if c.Engines < 1 {
		return fmt.Errorf("engines must be at least 1, got %d", c.Engines)
	}
	return nil
}
