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

package analysisutil

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// MakeAbsolute converts the exclusion paths to absolute paths, relative to the current working directory.
// A trailing "/" is kept, since it marks a directory prefix.
func MakeAbsolute(excludeRelative []string) []string {
	result := make([]string, 0, len(excludeRelative))
	cwd, _ := os.Getwd()

	for _, s := range excludeRelative {
		abs := s
		if !filepath.IsAbs(s) {
			abs = filepath.Join(cwd, s)
		}
		if strings.HasSuffix(s, "/") && !strings.HasSuffix(abs, "/") {
			abs += "/"
		}
		result = append(result, abs)
	}
	return result
}

// isExcludedFile matches the file name against one exclusion: a ".go" file must match exactly, anything else is a
// directory prefix.
func isExcludedFile(filename string, exclude string) bool {
	switch {
	case strings.HasSuffix(exclude, ".go"):
		return filename == exclude
	case strings.HasSuffix(exclude, "/"):
		return strings.HasPrefix(filename, exclude)
	default:
		return strings.HasPrefix(filename, exclude+"/")
	}
}

// IsExcluded returns true when the file declaring f matches one of the exclusions. Synthetic functions without a
// position are never excluded.
func IsExcluded(program *ssa.Program, f *ssa.Function, exclude []string) bool {
	if f == nil || !f.Pos().IsValid() {
		return false
	}
	filename := program.Fset.Position(f.Pos()).Filename
	for _, e := range exclude {
		if isExcludedFile(filename, e) {
			return true
		}
	}
	return false
}
