// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path"

	"github.com/awslabs/ar-go-pta/internal/funcutil"
	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config contains the entry points, the function models and the options of the points-to analysis.
// To add elements to a config file, add fields to this struct.
// If some field is not defined in the config file, it will be empty/zero in the struct.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options `yaml:"options"`

	sourceFile string

	// EntryPoints identifies the functions the analysis starts from. If empty, the main and init functions of the
	// main packages are used.
	EntryPoints []CodeIdentifier `yaml:"entry-points"`

	// FunctionModels classify functions without a body (allocators, copies, handle creators ...)
	FunctionModels []FunctionModel `yaml:"function-models"`

	// SharedTypes identifies the types whose synthesized objects are shared between independently analyzed entry
	// points, e.g. the private data of a handle that every entry point receives.
	SharedTypes []CodeIdentifier `yaml:"shared-types"`

	// Exclude lists files and directories whose functions are not analyzed. Calls to their functions are treated
	// like calls to functions without a body.
	Exclude []string `yaml:"exclude"`
}

// Options holds the global options of the analysis
type Options struct {
	// MaxDepth sets a limit for the number of call sites in a calling context. Calls that would create a deeper
	// context are not visited.
	// If provided MaxDepth is <= 0, then DefaultMaxCallDepth is used.
	MaxDepth int `yaml:"max-depth"`

	// MaxLoopIterations is the number of times the blocks of a loop are visited by the driver
	MaxLoopIterations int `yaml:"max-loop-iterations"`

	// MaxArrayFields is the number of array elements that are tracked separately. Elements past that index, and
	// elements accessed with a non-constant index, are collapsed into the first element.
	MaxArrayFields int `yaml:"max-array-fields"`

	// MaxContainerCandidates bounds the number of candidate container types examined by one container search
	MaxContainerCandidates int `yaml:"max-container-candidates"`

	// MaxTaintPaths bounds the number of taint flags tracked for one (object, field) pair
	MaxTaintPaths int `yaml:"max-taint-paths"`

	// TargetArch is the architecture used to compute type layouts (e.g. amd64, arm64, 386)
	TargetArch string `yaml:"target-arch"`

	// ContainerRanking contains the weights used to rank candidates in the container search
	ContainerRanking RankingWeights `yaml:"container-ranking"`

	// Loglevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// Suppress warnings
	SilenceWarn bool `yaml:"silence-warn"`
}

// RankingWeights are the weights of the factors used to rank candidate container types. The tie-break order is
// fixed: usage by the enclosing function, then field name match, then smaller container.
type RankingWeights struct {
	// Usage is the weight given to a container type that is referenced by the function performing the access
	Usage int `yaml:"usage-weight"`

	// Name is the weight given to a container whose field name matches the name of the accessed field
	Name int `yaml:"name-weight"`

	// Size is the weight given to the container being the smallest candidate
	Size int `yaml:"size-weight"`
}

// NewDefault returns an empty default config.
func NewDefault() *Config {
	return &Config{
		sourceFile:     "",
		EntryPoints:    nil,
		FunctionModels: nil,
		SharedTypes:    nil,
		Options: Options{
			MaxDepth:               DefaultMaxCallDepth,
			MaxLoopIterations:      DefaultMaxLoopIterations,
			MaxArrayFields:         DefaultMaxArrayFields,
			MaxContainerCandidates: DefaultMaxContainerCandidates,
			MaxTaintPaths:          DefaultMaxTaintPaths,
			TargetArch:             DefaultTargetArch,
			ContainerRanking:       DefaultRankingWeights(),
			LogLevel:               int(InfoLevel),
			SilenceWarn:            false,
		},
	}
}

// DefaultRankingWeights returns the default container ranking weights
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Usage: 4, Name: 2, Size: 1}
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return LoadBytes(filename, b)
}

// LoadBytes reads a configuration from the content b of the file filename
func LoadBytes(filename string, b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", filename, err)
	}

	cfg.sourceFile = filename

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}

	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxCallDepth
	}
	if cfg.MaxLoopIterations <= 0 {
		cfg.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if cfg.MaxArrayFields <= 0 {
		cfg.MaxArrayFields = DefaultMaxArrayFields
	}
	if cfg.MaxContainerCandidates <= 0 {
		cfg.MaxContainerCandidates = DefaultMaxContainerCandidates
	}
	if cfg.MaxTaintPaths <= 0 {
		cfg.MaxTaintPaths = DefaultMaxTaintPaths
	}
	if cfg.TargetArch == "" {
		cfg.TargetArch = DefaultTargetArch
	}
	if cfg.ContainerRanking == (RankingWeights{}) {
		cfg.ContainerRanking = DefaultRankingWeights()
	}

	for i, model := range cfg.FunctionModels {
		if _, ok := modelKinds[model.Kind]; !ok {
			return nil, fmt.Errorf("function model %d in %s: unknown kind %q", i, filename, model.Kind)
		}
		cfg.FunctionModels[i].Function = CompileRegexes(model.Function)
	}
	funcutil.MapInPlace(cfg.EntryPoints, CompileRegexes)
	funcutil.MapInPlace(cfg.SharedTypes, CompileRegexes)

	return cfg, nil
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// Verbose returns true is the configuration verbosity setting is larger than Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}

// ExceedsMaxDepth returns true if the input exceeds the maximum depth parameter of the configuration.
func (c Config) ExceedsMaxDepth(d int) bool {
	if c.MaxDepth <= 0 {
		return false
	}
	return d > c.MaxDepth
}

// IsEntryPoint returns true if the code identifier matches some entry point in the config
func (c Config) IsEntryPoint(cid CodeIdentifier) bool {
	return ExistsCid(c.EntryPoints, cid.equalOnNonEmptyFields)
}

// IsSharedType returns true if the code identifier (of a type) matches some shared type in the config
func (c Config) IsSharedType(cid CodeIdentifier) bool {
	return ExistsCid(c.SharedTypes, cid.equalOnNonEmptyFields)
}
