package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// A SizeSource provides the ground truth size of an aggregate, as laid out
// by a real compiler.
type SizeSource interface {
	// Size returns the observed size of the named aggregate, and false if
	// the source knows nothing about it.
	Size(name string) (int, bool)
}

// checkerSizes reports the sizes computed by the C type checker while
// parsing the header, for the host ABI.
type checkerSizes map[string]int

func newCheckerSizes(aggregates []*Aggregate) checkerSizes {
	sizes := make(checkerSizes, len(aggregates))
	for _, agg := range aggregates {
		if agg.Observed <= 0 {
			continue
		}
		for _, name := range GetAggregateNames(agg) {
			sizes[name] = agg.Observed
		}
	}
	return sizes
}

func (s checkerSizes) Size(name string) (int, bool) {
	size, ok := s[name]
	return size, ok
}

// fileSizes holds sizes supplied from outside, e.g. printed by a program
// built with the target toolchain. The file is a YAML mapping from
// aggregate name to size in bytes:
//
//	struct test1: 24
//	union test2: 16
type fileSizes map[string]int

// LoadSizes reads a sizes file.
func LoadSizes(path string) (SizeSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sizes file: %w", err)
	}

	var sizes fileSizes
	if err := yaml.Unmarshal(data, &sizes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sizes file: %w", err)
	}

	for name, size := range sizes {
		if size <= 0 {
			return nil, fmt.Errorf("sizes file: %s: invalid size %d", name, size)
		}
	}

	return sizes, nil
}

func (s fileSizes) Size(name string) (int, bool) {
	size, ok := s[name]
	return size, ok
}
