// Package config loads bdist configuration from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
)

const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Config is the full bdist configuration.
type Config struct {
	Model ModelConfig `yaml:"model"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// ModelConfig holds the Balanced Distribution hyperparameters.
type ModelConfig struct {
	InitialNormalFeatures   int     `yaml:"initial_normal_features" envconfig:"BDIST_INITIAL_NORMAL_FEATURES"`
	ThresholdLearning       float64 `yaml:"threshold_learning" envconfig:"BDIST_THRESHOLD_LEARNING"`
	ThresholdClassification float64 `yaml:"threshold_classification" envconfig:"BDIST_THRESHOLD_CLASSIFICATION"`
	PruningParameter        float64 `yaml:"pruning_parameter" envconfig:"BDIST_PRUNING_PARAMETER"`
	IncrementalCovariance   bool    `yaml:"incremental_covariance" envconfig:"BDIST_INCREMENTAL_COVARIANCE"`
}

// StoreConfig selects where models are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"BDIST_STORE_BACKEND"`
	Path    string `yaml:"path" envconfig:"BDIST_STORE_PATH"`
	Name    string `yaml:"name" envconfig:"BDIST_MODEL_NAME"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"BDIST_LOG_LEVEL"`
	Development bool   `yaml:"development" envconfig:"BDIST_LOG_DEVELOPMENT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Model: ModelConfig{
			InitialNormalFeatures:   balanced.DefaultInitialNormalFeatures,
			ThresholdLearning:       balanced.DefaultThresholdLearning,
			ThresholdClassification: balanced.DefaultThresholdClassification,
			PruningParameter:        balanced.DefaultPruningParameter,
		},
		Store: StoreConfig{
			Backend: BackendBolt,
			Path:    "model.db",
			Name:    balanced.Name,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path, if path is not empty, on top of the
// defaults and then applies BDIST_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, section := range []any{&cfg.Model, &cfg.Store, &cfg.Log} {
		if err := envconfig.Process("", section); err != nil {
			return Config{}, fmt.Errorf("error loading environment variables: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendBolt, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Path == "" {
		return errors.New("store path is empty")
	}
	if c.Store.Name == "" {
		return errors.New("model name is empty")
	}
	if _, err := balanced.New(c.Model.Options()...); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return nil
}

// Options returns the model options described by c.
func (c ModelConfig) Options() []balanced.Option {
	return []balanced.Option{
		balanced.WithInitialNormalFeatures(c.InitialNormalFeatures),
		balanced.WithLearningThreshold(c.ThresholdLearning),
		balanced.WithClassificationThreshold(c.ThresholdClassification),
		balanced.WithPruningParameter(c.PruningParameter),
		balanced.WithIncrementalCovariance(c.IncrementalCovariance),
	}
}
