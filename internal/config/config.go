package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Feature FeatureConfig `yaml:"feature"`
	Model   ModelConfig   `yaml:"model"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AudioConfig contains audio intake parameters
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"` // Hz, must match classifier training
	ArchiveDir string `yaml:"archive_dir"` // submitted WAVs are kept here
}

// FeatureConfig contains cepstral feature extraction parameters.
// These must match the preprocessing the classifier artifact was trained
// with; in particular Normalize must stay paired with the loaded model.
type FeatureConfig struct {
	WindowSize int  `yaml:"window_size"` // samples per analysis window
	HopSize    int  `yaml:"hop_size"`    // samples between windows
	NumCoeffs  int  `yaml:"num_coeffs"`  // cepstral coefficients per frame
	NumFrames  int  `yaml:"num_frames"`  // fixed time axis length
	NumMels    int  `yaml:"num_mels"`    // mel bins feeding the DCT
	Normalize  bool `yaml:"normalize"`   // tensor-wide mean/variance normalization
}

// ModelConfig contains classifier artifact and decision policy configuration
type ModelConfig struct {
	Path             string  `yaml:"path"`
	Policy           string  `yaml:"policy"`             // "threshold" or "argmax"
	Threshold        float64 `yaml:"threshold"`          // threshold policy only
	UrgentClassIndex int     `yaml:"urgent_class_index"` // argmax policy only
}

// StorageConfig contains detection record store configuration
type StorageConfig struct {
	Dir              string `yaml:"dir"`
	InMemory         bool   `yaml:"in_memory"`
	StrictDurability bool   `yaml:"strict_durability"` // fail submissions on write errors
}

// NotifyConfig contains notification channel configuration
type NotifyConfig struct {
	BufferSize int `yaml:"buffer_size"` // pending events per subscriber
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Feature.Validate(); err != nil {
		return fmt.Errorf("feature config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz to match classifier training, got %d", a.SampleRate)
	}

	if a.ArchiveDir == "" {
		return fmt.Errorf("archive_dir cannot be empty")
	}

	return nil
}

// Validate validates feature extraction configuration
func (f *FeatureConfig) Validate() error {
	if f.WindowSize <= 0 || f.WindowSize&(f.WindowSize-1) != 0 {
		return fmt.Errorf("window_size must be a positive power of 2, got %d", f.WindowSize)
	}

	if f.HopSize <= 0 || f.HopSize > f.WindowSize {
		return fmt.Errorf("hop_size must be in (0, window_size], got %d", f.HopSize)
	}

	if f.NumCoeffs != 13 {
		return fmt.Errorf("num_coeffs must be 13 to match classifier training, got %d", f.NumCoeffs)
	}

	if f.NumFrames != 94 {
		return fmt.Errorf("num_frames must be 94 to match classifier training, got %d", f.NumFrames)
	}

	if f.NumMels < f.NumCoeffs {
		return fmt.Errorf("num_mels (%d) must be at least num_coeffs (%d)", f.NumMels, f.NumCoeffs)
	}

	return nil
}

// Validate validates model configuration
func (m *ModelConfig) Validate() error {
	if m.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	validPolicies := map[string]bool{"threshold": true, "argmax": true}
	if !validPolicies[m.Policy] {
		return fmt.Errorf("policy must be 'threshold' or 'argmax', got '%s'", m.Policy)
	}

	if m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", m.Threshold)
	}

	if m.UrgentClassIndex < 0 || m.UrgentClassIndex > 1 {
		return fmt.Errorf("urgent_class_index must be 0 or 1, got %d", m.UrgentClassIndex)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if !s.InMemory && s.Dir == "" {
		return fmt.Errorf("dir cannot be empty unless in_memory is set")
	}

	return nil
}

// Validate validates notification configuration
func (n *NotifyConfig) Validate() error {
	if n.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", n.BufferSize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// StatsWindow is the aggregation window used by the statistics endpoint.
const StatsWindow = 24 * time.Hour
