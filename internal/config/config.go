// Package config provides configuration loading for the triage server.
// Configuration is constructed once at bootstrap and passed explicitly
// to every component that needs it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding secrets from the config file.
const (
	EnvObjectStoreAccessKey = "EV_OBJECT_STORE_ACCESS_KEY"
	EnvObjectStoreSecretKey = "EV_OBJECT_STORE_SECRET_KEY"
	EnvLabelStudioAPIKey    = "EV_LABEL_STUDIO_API_KEY"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir holds local state (the record store database).
	DataDir string `yaml:"dataDir,omitempty"`

	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	LabelStudio LabelStudioConfig `yaml:"labelStudio"`
	Retraining  RetrainingConfig  `yaml:"retraining"`
	Upload      UploadConfig      `yaml:"upload,omitempty"`
	Jobs        JobsConfig        `yaml:"jobs,omitempty"`
}

// ObjectStoreConfig defines the S3-compatible blob store connection.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	UseSSL    bool   `yaml:"useSSL,omitempty"`
}

// LabelStudioConfig defines the external annotation tool boundary.
type LabelStudioConfig struct {
	// BaseURL is the tool's API root, without trailing slash.
	BaseURL string `yaml:"baseURL"`

	// APIKey is the token used for all annotation-tool requests.
	APIKey string `yaml:"apiKey,omitempty"`

	// ProjectID is the fixed project whose export is imported.
	ProjectID int `yaml:"projectID,omitempty"`

	// StorageType and StorageID identify the storage to sync.
	StorageType string `yaml:"storageType,omitempty"`
	StorageID   int    `yaml:"storageID,omitempty"`
}

// RetrainingConfig defines the retraining trigger policy and the remote
// compute boundary.
type RetrainingConfig struct {
	// Threshold is the label-file count the Training Pool must exceed
	// before a retraining run is started.
	Threshold int `yaml:"threshold,omitempty"`

	// PresignEndpoint returns a single-use authorized URL into the
	// remote notebook environment.
	PresignEndpoint string `yaml:"presignEndpoint"`

	// NotebookPath is the notebook executed non-interactively.
	NotebookPath string `yaml:"notebookPath,omitempty"`

	// KernelName is the kernel used for the execution.
	KernelName string `yaml:"kernelName,omitempty"`

	// ExecutionTimeout bounds the remote execution, in seconds.
	ExecutionTimeout int `yaml:"executionTimeout,omitempty"`
}

// UploadConfig bounds patient uploads.
type UploadConfig struct {
	// MaxImageSizeMB is the maximum decoded image size in megabytes.
	MaxImageSizeMB int `yaml:"maxImageSizeMB,omitempty"`
}

// JobsConfig holds the scheduling intervals for the background jobs,
// as time.ParseDuration strings (e.g. "30m", "24h").
type JobsConfig struct {
	SyncInterval    string `yaml:"syncInterval,omitempty"`
	ImportInterval  string `yaml:"importInterval,omitempty"`
	RetrainInterval string `yaml:"retrainInterval,omitempty"`
}

// GetSyncInterval returns the parsed storage-sync interval.
func (j *JobsConfig) GetSyncInterval() time.Duration {
	return parseInterval(j.SyncInterval, DefaultJobInterval)
}

// GetImportInterval returns the parsed annotation-import interval.
func (j *JobsConfig) GetImportInterval() time.Duration {
	return parseInterval(j.ImportInterval, DefaultJobInterval)
}

// GetRetrainInterval returns the parsed retraining-check interval.
func (j *JobsConfig) GetRetrainInterval() time.Duration {
	return parseInterval(j.RetrainInterval, DefaultJobInterval)
}

func parseInterval(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Validate rejects unparseable intervals before this is reached.
		return fallback
	}
	return d
}

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultDataDir          = "./data"
	DefaultThreshold        = 100
	DefaultMaxImageSizeMB   = 5
	DefaultNotebookPath     = "/home/ec2-user/SageMaker/Retraining-Pipeline.ipynb"
	DefaultKernelName       = "python3"
	DefaultExecutionTimeout = 1500
	DefaultStorageType      = "s3"
	DefaultProjectID        = 1

	// DefaultJobInterval matches the daily schedule of the original
	// deployment.
	DefaultJobInterval = 24 * time.Hour
)

// Load reads, defaults and validates the configuration.
func Load(opts ...Option) (*Config, error) {
	loader := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loader); err != nil {
			return nil, err
		}
	}
	if loader.path == "" {
		return nil, fmt.Errorf("configuration path is required")
	}

	data, err := os.ReadFile(loader.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvObjectStoreAccessKey); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv(EnvObjectStoreSecretKey); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv(EnvLabelStudioAPIKey); v != "" {
		c.LabelStudio.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Retraining.Threshold == 0 {
		c.Retraining.Threshold = DefaultThreshold
	}
	if c.Retraining.NotebookPath == "" {
		c.Retraining.NotebookPath = DefaultNotebookPath
	}
	if c.Retraining.KernelName == "" {
		c.Retraining.KernelName = DefaultKernelName
	}
	if c.Retraining.ExecutionTimeout == 0 {
		c.Retraining.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.Upload.MaxImageSizeMB == 0 {
		c.Upload.MaxImageSizeMB = DefaultMaxImageSizeMB
	}
	if c.LabelStudio.StorageType == "" {
		c.LabelStudio.StorageType = DefaultStorageType
	}
	if c.LabelStudio.ProjectID == 0 {
		c.LabelStudio.ProjectID = DefaultProjectID
	}
}

// Validate checks that the required fields are present.
func (c *Config) Validate() error {
	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("objectStore.endpoint is required")
	}
	if c.ObjectStore.Bucket == "" {
		return fmt.Errorf("objectStore.bucket is required")
	}
	if c.LabelStudio.BaseURL == "" {
		return fmt.Errorf("labelStudio.baseURL is required")
	}
	if c.LabelStudio.APIKey == "" {
		return fmt.Errorf("labelStudio.apiKey is required (file or %s)", EnvLabelStudioAPIKey)
	}
	if c.Retraining.Threshold < 0 {
		return fmt.Errorf("retraining.threshold must not be negative")
	}
	if c.Upload.MaxImageSizeMB < 0 {
		return fmt.Errorf("upload.maxImageSizeMB must not be negative")
	}
	for name, raw := range map[string]string{
		"jobs.syncInterval":    c.Jobs.SyncInterval,
		"jobs.importInterval":  c.Jobs.ImportInterval,
		"jobs.retrainInterval": c.Jobs.RetrainInterval,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid interval %q: %w", name, raw, err)
		}
	}
	return nil
}
