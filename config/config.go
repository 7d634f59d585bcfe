// Package config loads the compaction core's tunables (spec §6.4) from
// YAML, the way the teacher's own deployment configs are loaded.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is every option spec §6.4 names, plus the ambient options
// (catalog/object-store backend selection, listen addresses) a runnable
// binary needs on top of the core's own tunables.
type Config struct {
	// Object sizing (spec §4.5 stage 3).
	MaxDesiredFileSizeBytes     int64 `yaml:"max_desired_file_size_bytes"`
	PercentageMaxFileSize       int64 `yaml:"percentage_max_file_size"`
	SplitPercentage             int64 `yaml:"split_percentage"`
	ColdMaxDesiredFileSizeBytes int64 `yaml:"cold_max_desired_file_size_bytes"`

	// Cold filter thresholds (spec §4.3).
	ColdInputSizeThresholdBytes int64 `yaml:"cold_input_size_threshold_bytes"`
	ColdInputFileCountThreshold int   `yaml:"cold_input_file_count_threshold"`

	// Selector (spec §4.6).
	MaxNumberPartitionsPerShard          int           `yaml:"max_number_partitions_per_shard"`
	MinNumberRecentIngestedFilesPerPartition int       `yaml:"min_number_recent_ingested_files_per_partition"`
	HotRecentWindow                      time.Duration `yaml:"hot_recent_window"`
	ColdThreshold                        time.Duration `yaml:"cold_threshold"`
	HotMultiple                          int           `yaml:"hot_multiple"`

	// Handler/admission (spec §4.7, §4.1).
	MaxConcurrentSizeBytes int64         `yaml:"max_concurrent_size_bytes"`
	MemoryBudgetBytes      int64         `yaml:"memory_budget_bytes"`
	TickInterval           time.Duration `yaml:"tick_interval"`

	// Shards this process is assigned (ambient: deployment topology).
	Shards []int32 `yaml:"shards"`

	// Backend selection (ambient).
	CatalogBoltPath    string `yaml:"catalog_bolt_path"`
	ObjectStoreFSRoot  string `yaml:"objectstore_fs_root"`
	ObjectStoreS3Bucket string `yaml:"objectstore_s3_bucket"`
	ObjectStoreS3Region string `yaml:"objectstore_s3_region"`
	MetricsListenAddr  string `yaml:"metrics_listen_addr"`

	// Cache sizing (spec §4.1's ResourcePool ceilings; ambient, not named
	// by the spec's own configuration table).
	SchemaCacheBytes int64 `yaml:"schema_cache_bytes"`
	BlobCacheBytes   int64 `yaml:"blob_cache_bytes"`
}

// DefaultConfig returns the spec's suggested starting values, scaled for
// a single-node demo deployment.
func DefaultConfig() Config {
	return Config{
		MaxDesiredFileSizeBytes:     100 * 1024 * 1024,
		PercentageMaxFileSize:       80,
		SplitPercentage:             80,
		ColdMaxDesiredFileSizeBytes: 100 * 1024 * 1024,

		ColdInputSizeThresholdBytes: 50 * 1024 * 1024,
		ColdInputFileCountThreshold: 100,

		MaxNumberPartitionsPerShard:              20,
		MinNumberRecentIngestedFilesPerPartition: 1,
		HotRecentWindow: 10 * time.Minute,
		ColdThreshold:   8 * time.Hour,
		HotMultiple:     4,

		MaxConcurrentSizeBytes: 1 << 30,
		MemoryBudgetBytes:      1 << 30,
		TickInterval:           10 * time.Second,

		MetricsListenAddr: ":9090",

		SchemaCacheBytes: 8 * 1024 * 1024,
		BlobCacheBytes:   64 * 1024 * 1024,
	}
}

// Load reads and parses a YAML config file, starting from DefaultConfig
// so a file only needs to override what it wants changed.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
