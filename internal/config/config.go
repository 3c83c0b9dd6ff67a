// Package config defines the training configuration and its loading
// order: built-in defaults, then an optional YAML file, then CONVNET_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every training hyperparameter and path.
type Config struct {
	Epochs        int     `koanf:"epochs"`
	BatchSize     int     `koanf:"batch_size"`
	LearningRate  float64 `koanf:"learning_rate"`
	LRDecay       float64 `koanf:"lr_decay"`
	WeightDecay   float64 `koanf:"weight_decay"`
	NumTraining   int     `koanf:"num_training"`
	NumValidation int     `koanf:"num_validation"`
	Hidden        []int   `koanf:"hidden"`
	Norm          bool    `koanf:"norm"`
	Dropout       float64 `koanf:"dropout"`
	Jitter        float64 `koanf:"jitter"`
	Augment       int     `koanf:"augment"`
	Display       bool    `koanf:"display"`
	EarlyStop     bool    `koanf:"early_stop"`
	Comment       string  `koanf:"comment"`
	Device        string  `koanf:"device"`
	DataDir       string  `koanf:"data_dir"`
	CheckpointDir string  `koanf:"checkpoint_dir"`
	RunDir        string  `koanf:"run_dir"`
	Seed          int64   `koanf:"seed"`
	Synthetic     bool    `koanf:"synthetic"`
	LogEvery      int     `koanf:"log_every"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Epochs:        20,
		BatchSize:     200,
		LearningRate:  2e-3,
		LRDecay:       0.95,
		WeightDecay:   0.001,
		NumTraining:   49000,
		NumValidation: 1000,
		Hidden:        []int{128, 512, 512, 512, 512, 512},
		Norm:          false,
		Dropout:       0,
		Jitter:        0,
		Augment:       0,
		Display:       false,
		EarlyStop:     false,
		Comment:       "",
		Device:        "cpu",
		DataDir:       "./data/cifar-10-batches-bin",
		CheckpointDir: "./models",
		RunDir:        "./runs",
		Seed:          42,
		Synthetic:     false,
		LogEvery:      100,
	}
}

// Load builds a configuration from defaults, an optional YAML file, and
// CONVNET_* environment variables, in that order of precedence.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CONVNET_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CONVNET_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally consistent values.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.LRDecay <= 0 || c.LRDecay > 1 {
		return fmt.Errorf("lr_decay must be in (0, 1], got %g", c.LRDecay)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must not be negative, got %g", c.WeightDecay)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	if c.NumTraining <= 0 || c.NumValidation <= 0 {
		return fmt.Errorf("num_training and num_validation must be positive, got %d and %d",
			c.NumTraining, c.NumValidation)
	}
	if c.NumTraining+c.NumValidation > 50000 {
		return fmt.Errorf("num_training + num_validation must not exceed 50000, got %d",
			c.NumTraining+c.NumValidation)
	}
	if len(c.Hidden) < 6 {
		return fmt.Errorf("hidden must list at least 6 sizes, got %d", len(c.Hidden))
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden[%d] must be positive, got %d", i, h)
		}
	}
	if c.Augment < 0 {
		return fmt.Errorf("augment must not be negative, got %d", c.Augment)
	}
	if c.Device != "cpu" && c.Device != "gpu" {
		return fmt.Errorf("device must be cpu or gpu, got %q", c.Device)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log_every must be positive, got %d", c.LogEvery)
	}
	return nil
}
