package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type config struct {
	SysfsRoot   string
	ACPIRoot    string
	LogLevel    string
	Concurrency int
	JSON        bool
}

// fileConfig is the TOML shape; it also carries flag overrides into
// merge.
type fileConfig struct {
	SysfsRoot   string `toml:"sysfs_root"`
	ACPIRoot    string `toml:"acpi_root"`
	LogLevel    string `toml:"log_level"`
	Concurrency int    `toml:"concurrency"`
	JSON        bool   `toml:"json"`
}

func defaultConfig() config {
	return config{
		Concurrency: 4,
	}
}

// loadConfig reads a TOML file over the defaults. Only keys the file
// defines are applied, so an empty file is the same as no file.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("sysfs_root") {
		cfg.SysfsRoot = strings.TrimSpace(raw.SysfsRoot)
	}
	if meta.IsDefined("acpi_root") {
		cfg.ACPIRoot = strings.TrimSpace(raw.ACPIRoot)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("concurrency") && raw.Concurrency > 0 {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("json") {
		cfg.JSON = raw.JSON
	}

	return cfg, nil
}

// merge applies command line overrides; empty values leave the config
// untouched and -json only ever switches JSON on.
func (c *config) merge(o fileConfig) {
	if o.SysfsRoot != "" {
		c.SysfsRoot = o.SysfsRoot
	}
	if o.ACPIRoot != "" {
		c.ACPIRoot = o.ACPIRoot
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Concurrency > 0 {
		c.Concurrency = o.Concurrency
	}
	if o.JSON {
		c.JSON = true
	}
}
