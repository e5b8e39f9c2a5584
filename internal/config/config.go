// Package config loads the optional extraction configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the fully processed extraction configuration.
type Config struct {
	// Headers are passed through on every HTTP request.
	Headers map[string]string
	// RequestTimeout bounds each individual HTTP request.
	RequestTimeout time.Duration
	// ExtractionTimeout is the per-extraction wall-clock deadline.
	ExtractionTimeout time.Duration
	// GapThreshold is the range-coalescing gap in bytes.
	GapThreshold uint64
	// ThumbnailCount is how many thumbnails to aim for.
	ThumbnailCount int
	// ThumbnailMaxWidth and ThumbnailMaxHeight bound the output size.
	ThumbnailMaxWidth  int
	ThumbnailMaxHeight int
	// JPEGQuality is the thumbnail encoding quality (1-100).
	JPEGQuality int
}

// rawConfig maps directly onto the JSON file; durations are plain seconds
// there.
type rawConfig struct {
	Headers            map[string]string `json:"headers"`
	RequestTimeoutSec  int               `json:"request_timeout_seconds"`
	ExtractTimeoutSec  int               `json:"extraction_timeout_seconds"`
	GapThreshold       uint64            `json:"gap_threshold"`
	ThumbnailCount     int               `json:"thumbnail_count"`
	ThumbnailMaxWidth  int               `json:"thumbnail_max_width"`
	ThumbnailMaxHeight int               `json:"thumbnail_max_height"`
	JPEGQuality        int               `json:"jpeg_quality"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RequestTimeout:     30 * time.Second,
		ExtractionTimeout:  60 * time.Second,
		GapThreshold:       4096,
		ThumbnailCount:     5,
		ThumbnailMaxWidth:  320,
		ThumbnailMaxHeight: 240,
		JPEGQuality:        85,
	}
}

// Load reads and parses the configuration file at path, filling in
// defaults for anything omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	cfg := Default()
	if len(raw.Headers) > 0 {
		cfg.Headers = raw.Headers
	}
	if raw.RequestTimeoutSec > 0 {
		cfg.RequestTimeout = time.Duration(raw.RequestTimeoutSec) * time.Second
	}
	if raw.ExtractTimeoutSec > 0 {
		cfg.ExtractionTimeout = time.Duration(raw.ExtractTimeoutSec) * time.Second
	}
	if raw.GapThreshold > 0 {
		cfg.GapThreshold = raw.GapThreshold
	}
	if raw.ThumbnailCount > 0 {
		cfg.ThumbnailCount = raw.ThumbnailCount
	}
	if raw.ThumbnailMaxWidth > 0 {
		cfg.ThumbnailMaxWidth = raw.ThumbnailMaxWidth
	}
	if raw.ThumbnailMaxHeight > 0 {
		cfg.ThumbnailMaxHeight = raw.ThumbnailMaxHeight
	}
	if raw.JPEGQuality > 0 && raw.JPEGQuality <= 100 {
		cfg.JPEGQuality = raw.JPEGQuality
	}
	return cfg, nil
}
