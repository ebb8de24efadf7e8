// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine-wide tunables referenced throughout
// spec.md (path tree depth, nested pipeline depth, cursor batching and
// spill thresholds, output size limits). Loaded from YAML via
// gopkg.in/yaml.v2, the way the teacher repo declares that dependency.
package config

import (
	"os"

	"gopkg.in/src-d/go-errors.v1"
	yaml "gopkg.in/yaml.v2"
)

// ErrParseConfig is returned when the configuration file cannot be parsed.
var ErrParseConfig = errors.NewKind("error parsing config file: %s")

// Config holds every tunable named in spec.md.
type Config struct {
	// MaxPathTreeDepth bounds path tree construction depth (spec.md §8,
	// default 100).
	MaxPathTreeDepth int `yaml:"maxPathTreeDepth"`

	// MaxNestedPipelineDepth bounds $lookup/$facet/$unionWith/$graphLookup
	// nesting (spec.md §8, default 20).
	MaxNestedPipelineDepth int `yaml:"maxNestedPipelineDepth"`

	// MaxOutputDocumentBytes is the per-row output limit (spec.md §8,
	// default 16 MiB).
	MaxOutputDocumentBytes int64 `yaml:"maxOutputDocumentBytes"`

	// MaxIntermediateDocumentBytes is the limit for in-flight aggregation
	// documents (spec.md §8, default 100 MiB).
	MaxIntermediateDocumentBytes int64 `yaml:"maxIntermediateDocumentBytes"`

	// DefaultBatchSize is used when a find/aggregate omits batchSize.
	DefaultBatchSize int `yaml:"defaultBatchSize"`

	// CursorSpillThreshold is the in-memory row count past which a
	// Persistent cursor begins spilling to disk (spec.md §4.5).
	CursorSpillThreshold int `yaml:"cursorSpillThreshold"`

	// CursorTTLSeconds is how long an idle Persistent or Tailable cursor
	// survives before being reaped (spec.md §3.5).
	CursorTTLSeconds int64 `yaml:"cursorTTLSeconds"`

	// CursorSpillDir is the directory persistent-cursor spill files are
	// created in.
	CursorSpillDir string `yaml:"cursorSpillDir"`
}

// Default returns the literal defaults named in spec.md.
func Default() *Config {
	return &Config{
		MaxPathTreeDepth:             100,
		MaxNestedPipelineDepth:       20,
		MaxOutputDocumentBytes:       16 * 1024 * 1024,
		MaxIntermediateDocumentBytes: 100 * 1024 * 1024,
		DefaultBatchSize:             101,
		CursorSpillThreshold:         1000,
		CursorTTLSeconds:             600,
		CursorSpillDir:               os.TempDir(),
	}
}

// Load reads a YAML configuration file, filling in defaults for any field
// the file leaves unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrParseConfig.Wrap(err, path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, ErrParseConfig.Wrap(err, path)
	}

	return cfg, nil
}
