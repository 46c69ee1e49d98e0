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

package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonFlags(t *testing.T) {
	flags, err := NewCommonFlags("pointsto", []string{"-verbose", "-exclude", "vendor", "-exclude", "gen", "main.go"},
		"usage")
	require.NoError(t, err)
	assert.True(t, flags.Verbose)
	assert.Equal(t, []string{"vendor", "gen"}, flags.Exclude)
	assert.Equal(t, []string{"main.go"}, flags.FlagSet.Args())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(CommonFlags{Verbose: true, Exclude: []string{"vendor"}})
	require.NoError(t, err)
	assert.Equal(t, int(config.DebugLevel), cfg.LogLevel)
	assert.Equal(t, config.DefaultMaxCallDepth, cfg.MaxDepth)
	assert.Equal(t, []string{"vendor"}, cfg.Exclude)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("options:\n  max-depth: 3\nexclude:\n  - gen\n"), 0o600))
	cfg, err = LoadConfig(CommonFlags{ConfigPath: path, Exclude: []string{"vendor"}})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, []string{"gen", "vendor"}, cfg.Exclude)

	_, err = LoadConfig(CommonFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestCallgraphMode(t *testing.T) {
	for name, mode := range map[string]analysis.CallgraphAnalysisMode{
		"static": analysis.StaticAnalysis,
		"cha":    analysis.ClassHierarchyAnalysis,
		"vta":    analysis.VariableTypeAnalysis,
	} {
		got, err := CallgraphMode(name)
		assert.NoError(t, err)
		assert.Equal(t, mode, got)
	}
	_, err := CallgraphMode("pointer")
	assert.Error(t, err)
}
