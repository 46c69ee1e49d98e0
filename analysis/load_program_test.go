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

package analysis

import (
	"testing"

	"golang.org/x/tools/go/ssa"
)

func TestCallgraphModeUnsupported(t *testing.T) {
	_, err := CallgraphAnalysisMode(42).ComputeCallgraph(ssa.NewProgram(nil, 0))
	if err == nil {
		t.Errorf("Expected an error for an unknown callgraph mode")
	}
}

func TestCalleesOfNilGraph(t *testing.T) {
	if CalleesOf(nil, nil) != nil {
		t.Errorf("Expected no callee in a nil call graph")
	}
}

func TestAllPackagesEmpty(t *testing.T) {
	if len(AllPackages(map[*ssa.Function]bool{})) != 0 {
		t.Errorf("Expected no package for an empty set of functions")
	}
}
