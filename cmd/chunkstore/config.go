package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/kjk/toolkit/chunkstore"
	"github.com/kjk/toolkit/minioutil"
	"gopkg.in/yaml.v3"
)

// Config is read from a yaml file given with --config.
// Flags given on command line override it.
type Config struct {
	LogDir  string
	Verbose bool

	// Store has tuning options, Dir is set per command
	Store chunkstore.Store

	// nil if there's no remote section
	Remote *minioutil.Config
}

func (c *Config) Parse(data []byte) error {
	var aux struct {
		LogDir                string `yaml:"log_dir"`
		Verbose               bool   `yaml:"verbose"`
		TargetChunkSize       string `yaml:"target_chunk_size"`
		StreamTargetChunkSize string `yaml:"stream_target_chunk_size"`
		StreamMaxBatch        int    `yaml:"stream_max_batch"`
		Compression           string `yaml:"compression"`
		Overwrite             bool   `yaml:"overwrite"`
		Remote                *struct {
			Endpoint string `yaml:"endpoint"`
			Bucket   string `yaml:"bucket"`
			Access   string `yaml:"access"`
			Secret   string `yaml:"secret"`
			Region   string `yaml:"region"`
			Insecure bool   `yaml:"insecure"`
		} `yaml:"remote"`
	}
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.LogDir = aux.LogDir
	c.Verbose = aux.Verbose

	var err error
	if c.Store.TargetChunkSize, err = parseSize(aux.TargetChunkSize); err != nil {
		return fmt.Errorf("target_chunk_size: %w", err)
	}
	if c.Store.StreamTargetChunkSize, err = parseSize(aux.StreamTargetChunkSize); err != nil {
		return fmt.Errorf("stream_target_chunk_size: %w", err)
	}
	if aux.StreamMaxBatch < 0 {
		return fmt.Errorf("stream_max_batch: must be positive, is %d", aux.StreamMaxBatch)
	}
	c.Store.StreamMaxBatch = aux.StreamMaxBatch
	if c.Store.Compression, err = chunkstore.ParseCompression(aux.Compression); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	c.Store.AllowOverwrite = aux.Overwrite

	if r := aux.Remote; r != nil {
		c.Remote = &minioutil.Config{
			Endpoint: r.Endpoint,
			Bucket:   r.Bucket,
			Access:   r.Access,
			Secret:   r.Secret,
			Region:   r.Region,
			Insecure: r.Insecure,
		}
		// secrets are better kept out of config files
		if c.Remote.Access == "" {
			c.Remote.Access = os.Getenv("CHUNKSTORE_ACCESS")
		}
		if c.Remote.Secret == "" {
			c.Remote.Secret = os.Getenv("CHUNKSTORE_SECRET")
		}
	}
	return nil
}

// parseSize parses sizes like "10MB", "64 KiB" or "1024". Empty string is 0.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size '%s' is too big", s)
	}
	return int64(n), nil
}

func loadConfig(path string) (*Config, error) {
	c := &Config{}
	if path == "" {
		return c, nil
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = c.Parse(d); err != nil {
		return nil, fmt.Errorf("parsing '%s': %w", path, err)
	}
	return c, nil
}
