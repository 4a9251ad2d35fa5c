package toolquery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the engine options.
type Config struct {
	// Threshold is the default fuzzy similarity threshold in [0,1]. When
	// omitted, DefaultThreshold applies.
	Threshold *float64 `yaml:"threshold"`
	// SemanticThreshold is the default cosine threshold in [-1,1].
	SemanticThreshold *float64 `yaml:"semantic_threshold"`
	// FieldWeights maps field names to ranking weights.
	FieldWeights map[string]float64 `yaml:"field_weights"`
	// CacheSize bounds the filter result cache; negative disables it.
	CacheSize int `yaml:"cache_size"`

	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig configures how an embedder is driven.
type EmbeddingConfig struct {
	Async       bool          `yaml:"async"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML configuration. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges and field names.
func (c *Config) Validate() error {
	if t := c.Threshold; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		return fmt.Errorf("%w: threshold must be within [0,1]", ErrInvalidConfig)
	}
	if t := c.SemanticThreshold; t != nil && (math.IsNaN(*t) || *t < -1 || *t > 1) {
		return fmt.Errorf("%w: semantic_threshold must be within [-1,1]", ErrInvalidConfig)
	}
	for name, w := range c.FieldWeights {
		if !Field(name).Valid() {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidConfig, name)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight for %q is not finite", ErrInvalidConfig, name)
		}
	}
	if c.Embedding.Timeout < 0 || c.Embedding.BatchSize < 0 || c.Embedding.Concurrency < 0 {
		return fmt.Errorf("%w: embedding settings must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Options converts the configuration into engine options. Collaborators
// such as the logger and the embedder are set by the caller.
func (c *Config) Options() Options {
	o := Options{
		Threshold:         c.Threshold,
		SemanticThreshold: c.SemanticThreshold,
		CacheSize:         c.CacheSize,
		EmbedAsync:        c.Embedding.Async,
		EmbedTimeout:      c.Embedding.Timeout,
		EmbedBatchSize:    c.Embedding.BatchSize,
		EmbedConcurrency:  c.Embedding.Concurrency,
	}
	if len(c.FieldWeights) > 0 {
		o.FieldWeights = make(map[Field]float64, len(c.FieldWeights))
		for name, w := range c.FieldWeights {
			o.FieldWeights[Field(name)] = w
		}
	}
	return o
}
