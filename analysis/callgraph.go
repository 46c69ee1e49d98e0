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
	"fmt"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/callgraph/static"
	"golang.org/x/tools/go/callgraph/vta"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

type CallgraphAnalysisMode uint64

const (
	StaticAnalysis         CallgraphAnalysisMode = iota // StaticAnalysis is under-approximating (fast)
	ClassHierarchyAnalysis                              // ClassHierarchyAnalysis is a coarse over-approximation (fast)
	VariableTypeAnalysis                                // VariableTypeAnalysis refines the class hierarchy analysis
)

// ComputeCallgraph computes the call graph of prog using the provided mode.
func (mode CallgraphAnalysisMode) ComputeCallgraph(prog *ssa.Program) (*callgraph.Graph, error) {
	switch mode {
	case StaticAnalysis:
		return static.CallGraph(prog), nil
	case ClassHierarchyAnalysis:
		// "Optimization of Object-Oriented Programs Using Static Class Hierarchy Analysis",
		// J. Dean, D. Grove, and C. Chambers, ECOOP'95.
		return cha.CallGraph(prog), nil
	case VariableTypeAnalysis:
		// "Practical Virtual Method Call Resolution for Java", V. Sundaresan et al., OOPSLA'00
		// The initial call graph is the class hierarchy one.
		return vta.CallGraph(ssautil.AllFunctions(prog), cha.CallGraph(prog)), nil
	default:
		return nil, fmt.Errorf("unsupported callgraph analysis mode %d", mode)
	}
}

// CalleesOf returns the callees of the call site in the call graph cg, in a deterministic order.
func CalleesOf(cg *callgraph.Graph, site ssa.CallInstruction) []*ssa.Function {
	if cg == nil {
		return nil
	}
	node := cg.Nodes[site.Parent()]
	if node == nil {
		return nil
	}
	seen := map[*ssa.Function]bool{}
	var res []*ssa.Function
	for _, e := range node.Out {
		if e.Site == site && e.Callee != nil && !seen[e.Callee.Func] {
			seen[e.Callee.Func] = true
			res = append(res, e.Callee.Func)
		}
	}
	return res
}
