package main

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const hostPlatform = "host"

var ErrConfig = errors.New("invalid configuration")

// Config is the optional YAML profile passed with --config. Command line
// flags take precedence over its values.
//
//	platform: ilp32
//	types:
//	  long double: [12, 4]
//	  pid_t: [4, 4]
//	keep_ignored: false
//	defines: [NDEBUG, BUF_LEN=64]
//	sizes: sizes.yaml
type Config struct {
	Platform    string           `yaml:"platform"`
	Types       map[string][]int `yaml:"types"`
	KeepIgnored bool             `yaml:"keep_ignored"`
	Defines     []string         `yaml:"defines"`
	Sizes       string           `yaml:"sizes"`
}

// LoadConfig reads a configuration profile.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, pair := range cfg.Types {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: type %q: %w", ErrConfig, name, ErrSizeAlignNelem)
		}
		if pair[0] == 0 || pair[1] == 0 {
			return nil, fmt.Errorf("%w: type %q: %w", ErrConfig, name, ErrSizeAlignValue)
		}
	}

	return &cfg, nil
}

// BuildPlatform returns the platform selected by the configuration, with
// its type overrides applied. A nil platform stands for the host, whose
// layout is taken from the C type checker. Overriding types on the host
// starts from the lp64 tables.
func (c *Config) BuildPlatform() (*Platform, error) {
	name := c.Platform
	if name == "" {
		name = hostPlatform
	}

	if name == hostPlatform {
		if len(c.Types) == 0 {
			return nil, nil
		}
		name = "lp64"
	}

	platform, err := NewPlatform(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	// families first, single types override them
	names := slices.Sorted(maps.Keys(c.Types))
	slices.SortStableFunc(names, func(a, b string) int {
		return cmp.Compare(familyRank(a), familyRank(b))
	})

	for _, name := range names {
		pair := c.Types[name]
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: type %q: %w", ErrConfig, name, ErrSizeAlignNelem)
		}
		platform.Set(name, pair[0], pair[1])
	}
	return platform, nil
}

func familyRank(name string) int {
	if IsFamily(name) {
		return 0
	}
	return 1
}
