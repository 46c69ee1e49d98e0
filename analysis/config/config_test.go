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
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

//go:embed testdata
var testfsys embed.FS

func loadFromTestDir(filename string) (string, *Config, error) {
	filename = filepath.Join("testdata", filename)
	b, err := testfsys.ReadFile(filename)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file %v: %v", filename, err)
	}
	config, err := LoadBytes(filename, b)
	if err != nil {
		return filename, nil, fmt.Errorf("failed to load file %v: %v", filename, err)
	}
	return filename, config, err
}

func checkEqualOnNonEmptyFields(t *testing.T, cid1 CodeIdentifier, cid2 CodeIdentifier) {
	cid2c := CompileRegexes(cid2)
	if !cid1.equalOnNonEmptyFields(cid2c) {
		t.Errorf("%v should be equal modulo empty fields to %v", cid1, cid2)
	}
}

func checkNotEqualOnNonEmptyFields(t *testing.T, cid1 CodeIdentifier, cid2 CodeIdentifier) {
	cid2c := CompileRegexes(cid2)
	if cid1.equalOnNonEmptyFields(cid2c) {
		t.Errorf("%v should not be equal modulo empty fields to %v", cid1, cid2)
	}
}

func TestCodeIdentifier_equalOnNonEmptyFields_selfEquals(t *testing.T) {
	cid1 := CodeIdentifier{Package: "a", Method: "b"}
	checkEqualOnNonEmptyFields(t, cid1, cid1)
}

func TestCodeIdentifier_equalOnNonEmptyFields_emptyMatchesAny(t *testing.T) {
	cid1 := CodeIdentifier{Package: "a", Method: "b", Receiver: "c", Type: "d"}
	cid2 := CodeIdentifier{Package: "de", Method: "234jbn", Receiver: "ef", Type: "23kjb"}
	checkEqualOnNonEmptyFields(t, cid1, CodeIdentifier{})
	checkEqualOnNonEmptyFields(t, cid2, CodeIdentifier{})
}

func TestCodeIdentifier_equalOnNonEmptyFields_oneDiff(t *testing.T) {
	cid1 := CodeIdentifier{Package: "a", Method: "b"}
	cid2 := CodeIdentifier{Package: "a"}
	checkEqualOnNonEmptyFields(t, cid1, cid2)
	checkNotEqualOnNonEmptyFields(t, cid2, cid1)
}

func TestCodeIdentifier_equalOnNonEmptyFields_regexes(t *testing.T) {
	cid1 := CodeIdentifier{Package: "main", Method: "b"}
	cid1bis := CodeIdentifier{Package: "command-line-arguments", Method: "b"}
	cid2 := CodeIdentifier{Package: "(main)|(command-line-arguments)$"}
	checkEqualOnNonEmptyFields(t, cid1, cid2)
	checkEqualOnNonEmptyFields(t, cid1bis, cid2)
}

func TestNewDefault(t *testing.T) {
	c := NewDefault()
	if c.MaxDepth != DefaultMaxCallDepth {
		t.Errorf("Default for MaxDepth should be %d", DefaultMaxCallDepth)
	}
	if c.ContainerRanking != DefaultRankingWeights() {
		t.Errorf("Default ranking weights should be %v", DefaultRankingWeights())
	}
	if c.ExceedsMaxDepth(DefaultMaxCallDepth) {
		t.Errorf("Depth equal to the maximum should not exceed it")
	}
	if !c.ExceedsMaxDepth(DefaultMaxCallDepth + 1) {
		t.Errorf("Depth larger than the maximum should exceed it")
	}
}

func TestLoadFull(t *testing.T) {
	name, c, err := loadFromTestDir("config.yaml")
	if err != nil {
		t.Fatalf("Error loading %q: %v", name, err)
	}
	if c.LogLevel != int(DebugLevel) || !c.Verbose() {
		t.Errorf("Expected debug log level, got %d", c.LogLevel)
	}
	if c.MaxDepth != 5 || c.MaxLoopIterations != 3 || c.TargetArch != "arm64" {
		t.Errorf("Options not loaded: %+v", c.Options)
	}
	if c.MaxArrayFields != DefaultMaxArrayFields {
		t.Errorf("Unspecified options should get their default value")
	}
	if !c.IsEntryPoint(CodeIdentifier{Package: "example.com/driver", Method: "HandleIoctl"}) {
		t.Errorf("HandleIoctl should be an entry point")
	}
	if c.IsEntryPoint(CodeIdentifier{Package: "example.com/driver", Method: "helper"}) {
		t.Errorf("helper should not be an entry point")
	}
	m, ok := c.ModelOf(CodeIdentifier{Package: "example.com/driver/uapi", Method: "CopyFromUser"})
	if !ok || m.Kind != ModelUserCopy {
		t.Fatalf("CopyFromUser should be modeled as a user copy, got %v", m)
	}
	if dst, ok := m.Role(RoleDst); !ok || dst != 0 {
		t.Errorf("Expected dst role to be argument 0")
	}
	if _, ok := m.Role(RoleSize); ok {
		t.Errorf("Size role is not defined in the model")
	}
	if m, ok := c.ModelOf(CodeIdentifier{Package: "anything", Method: "kmalloc"}); !ok || m.Kind != ModelAllocator {
		t.Errorf("kmalloc should be an allocator in any package")
	}
	if !c.IsSharedType(CodeIdentifier{Package: "example.com/driver", Type: "example.com/driver.PrivateData"}) {
		t.Errorf("PrivateData should be shared")
	}
	if c.RelPath("x.yaml") != filepath.Join("testdata", "x.yaml") {
		t.Errorf("RelPath should be relative to the config file, got %s", c.RelPath("x.yaml"))
	}
}

func TestLoadDefaults(t *testing.T) {
	_, c, err := loadFromTestDir("defaults.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxDepth != DefaultMaxCallDepth {
		t.Errorf("Non-positive max-depth should be replaced by the default, got %d", c.MaxDepth)
	}
	if c.LogLevel != int(InfoLevel) {
		t.Errorf("Default log level should be info")
	}
}

func TestLoadBadKindReturnsError(t *testing.T) {
	_, c, err := loadFromTestDir("bad_kind.yaml")
	if c != nil || err == nil {
		t.Errorf("Expected error and nil value when loading a model with an unknown kind")
	}
}

func TestLoadBadFormatFileReturnsError(t *testing.T) {
	_, c, err := loadFromTestDir("bad_format.yaml")
	if c != nil || err == nil {
		t.Errorf("Expected error and nil value when trying to load a badly formatted file.")
	}
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "does-not-exist.yaml"))
	if c != nil || err == nil {
		t.Errorf("Expected error and nil value when trying to load non existent file.")
	}
}

func TestLogGroupLevels(t *testing.T) {
	c := NewDefault()
	c.LogLevel = int(WarnLevel)
	l := NewLogGroup(c)
	var buf bytes.Buffer
	l.SetAllOutput(&buf)
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Info message should not be printed at warn level")
	}
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("Warn message should be printed at warn level, got %q", buf.String())
	}
	if l.LogsDebug() {
		t.Errorf("Warn level does not log debug messages")
	}
}
