// Package config loads engine configuration from a YAML file, an
// optional .env file, and GRABIA_-prefixed environment variables, merging
// them in that order of increasing precedence, matching the layered
// configuration approach this engine's surrounding tooling already uses.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config mirrors the engine's recognized configuration (spec section 6).
type Config struct {
	ItemsPath          string   `yaml:"items_path"`
	OutputRoot         string   `yaml:"output_root"`
	WorkerCeiling      int      `yaml:"worker_ceiling"`
	BandwidthCeilingBps int64   `yaml:"bandwidth_ceiling_bps"`
	Sync               bool     `yaml:"sync"`
	Dynamic            bool     `yaml:"dynamic"`
	MetadataOnly       bool     `yaml:"metadata_only"`
	NameRegex          string   `yaml:"name_regex"`
	ExtensionWhitelist []string `yaml:"extension_whitelist"`
	AuthPath           string   `yaml:"auth_path"`
	ManifestURL        string   `yaml:"manifest_url"`
	DownloadBaseURL    string   `yaml:"download_base_url"`
}

// Default returns a Config with the conservative defaults spec.md section
// 9's open questions suggest: 5 attempts, dynamic scaling on.
func Default() Config {
	return Config{
		WorkerCeiling: 4,
		Dynamic:       true,
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file, if present, into the process environment
// ahead of LoadFromEnv, so container deployments can inject configuration
// without a mounted YAML file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies GRABIA_-prefixed environment variable overrides.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GRABIA_ITEMS_PATH"); v != "" {
		c.ItemsPath = v
	}
	if v := os.Getenv("GRABIA_OUTPUT_ROOT"); v != "" {
		c.OutputRoot = v
	}
	if v := os.Getenv("GRABIA_WORKER_CEILING"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse GRABIA_WORKER_CEILING: %w", err)
		}
		c.WorkerCeiling = n
	}
	if v := os.Getenv("GRABIA_BANDWIDTH_CEILING_BPS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse GRABIA_BANDWIDTH_CEILING_BPS: %w", err)
		}
		c.BandwidthCeilingBps = n
	}
	if v := os.Getenv("GRABIA_SYNC"); v != "" {
		c.Sync = v == "true" || v == "1"
	}
	if v := os.Getenv("GRABIA_DYNAMIC"); v != "" {
		c.Dynamic = v == "true" || v == "1"
	}
	if v := os.Getenv("GRABIA_METADATA_ONLY"); v != "" {
		c.MetadataOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("GRABIA_NAME_REGEX"); v != "" {
		c.NameRegex = v
	}
	if v := os.Getenv("GRABIA_EXTENSION_WHITELIST"); v != "" {
		c.ExtensionWhitelist = strings.Split(v, ",")
	}
	if v := os.Getenv("GRABIA_AUTH_PATH"); v != "" {
		c.AuthPath = v
	}
	if v := os.Getenv("GRABIA_MANIFEST_URL"); v != "" {
		c.ManifestURL = v
	}
	if v := os.Getenv("GRABIA_DOWNLOAD_BASE_URL"); v != "" {
		c.DownloadBaseURL = v
	}
	return nil
}

// Validate checks the invariants spec.md section 6 places on engine
// configuration.
func (c *Config) Validate() error {
	if c.ItemsPath == "" {
		return errors.New("config: items_path is required")
	}
	if c.OutputRoot == "" {
		return errors.New("config: output_root is required")
	}
	if c.WorkerCeiling < 1 || c.WorkerCeiling > 64 {
		return errors.New("config: worker_ceiling must be in [1,64]")
	}
	if c.BandwidthCeilingBps < 0 {
		return errors.New("config: bandwidth_ceiling_bps must be >= 0")
	}
	if c.ManifestURL == "" {
		return errors.New("config: manifest_url is required")
	}
	if c.DownloadBaseURL == "" {
		return errors.New("config: download_base_url is required")
	}
	return nil
}

// Merge overlays non-zero fields of override onto c, returning a new
// Config.
func (c Config) Merge(override Config) Config {
	if override.ItemsPath != "" {
		c.ItemsPath = override.ItemsPath
	}
	if override.OutputRoot != "" {
		c.OutputRoot = override.OutputRoot
	}
	if override.WorkerCeiling != 0 {
		c.WorkerCeiling = override.WorkerCeiling
	}
	if override.BandwidthCeilingBps != 0 {
		c.BandwidthCeilingBps = override.BandwidthCeilingBps
	}
	if override.Sync {
		c.Sync = override.Sync
	}
	if override.MetadataOnly {
		c.MetadataOnly = override.MetadataOnly
	}
	if override.Dynamic {
		c.Dynamic = override.Dynamic
	}
	if override.NameRegex != "" {
		c.NameRegex = override.NameRegex
	}
	if len(override.ExtensionWhitelist) > 0 {
		c.ExtensionWhitelist = override.ExtensionWhitelist
	}
	if override.AuthPath != "" {
		c.AuthPath = override.AuthPath
	}
	if override.ManifestURL != "" {
		c.ManifestURL = override.ManifestURL
	}
	if override.DownloadBaseURL != "" {
		c.DownloadBaseURL = override.DownloadBaseURL
	}
	return c
}
