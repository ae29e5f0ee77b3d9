// Package config reads the command line configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	DefaultDataDir       = "data"
	DefaultMinimumFreeGB = 1
	DefaultCompression   = "zstd"
	DefaultCollectDelta  = 8
	DefaultListen        = "localhost:4242"
	DefaultLogLevel      = "info"
)

type Config struct {
	// DataDir holds one mirror directory per store.
	DataDir       string `yaml:"dataDir"`
	MinimumFreeGB int    `yaml:"minimumFreeGB"`
	// Compression is the codec of mirrored kits: none, zstd or xz.
	Compression   string `yaml:"compression"`
	CollectDelta  uint64 `yaml:"collectDelta"`
	IgnoreLocalDB bool   `yaml:"ignoreLocalDb"`

	// InMemoryMirrors keeps the mirrors in memory instead of under DataDir.
	InMemoryMirrors bool `yaml:"inMemoryMirrors"`

	Listen string `yaml:"listen"`
	// Fixture is the YAML file the content source reads.
	Fixture  string `yaml:"fixture"`
	LogLevel string `yaml:"logLevel"`
}

// Default returns the configuration used for missing fields.
func Default() Config {
	return Config{
		DataDir:       DefaultDataDir,
		MinimumFreeGB: DefaultMinimumFreeGB,
		Compression:   DefaultCompression,
		CollectDelta:  DefaultCollectDelta,
		Listen:        DefaultListen,
		LogLevel:      DefaultLogLevel,
	}
}

// Load reads path and fills unset fields with defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and fills unset fields with defaults.
func Parse(data []byte) (Config, error) {
	var conf Config
	if err := yaml.UnmarshalStrict(data, &conf); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	def := Default()
	if conf.DataDir == "" {
		conf.DataDir = def.DataDir
	}
	if conf.MinimumFreeGB == 0 {
		conf.MinimumFreeGB = def.MinimumFreeGB
	}
	if conf.Compression == "" {
		conf.Compression = def.Compression
	}
	if conf.CollectDelta == 0 {
		conf.CollectDelta = def.CollectDelta
	}
	if conf.Listen == "" {
		conf.Listen = def.Listen
	}
	if conf.LogLevel == "" {
		conf.LogLevel = def.LogLevel
	}
	return conf, nil
}
