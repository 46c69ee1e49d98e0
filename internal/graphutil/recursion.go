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

package graphutil

import (
	"github.com/yourbasic/graph"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// Function returns the function of the node id, or nil if the node has none
func (c CGraph) Function(id int64) *ssa.Function {
	n, ok := c.IDMap[id]
	if !ok || n.Node == nil {
		return nil
	}
	return n.Node.Func
}

// RecursiveFunctions returns the functions of cg that belong to a cycle: a strongly connected component with more
// than one node, or a node calling itself.
func RecursiveFunctions(cg *callgraph.Graph) map[*ssa.Function]bool {
	it := NewCallgraphIterator(cg)
	res := map[*ssa.Function]bool{}
	for _, component := range graph.StrongComponents(it) {
		if len(component) == 1 && !it.Edges[int64(component[0])][int64(component[0])] {
			continue
		}
		for _, id := range component {
			if f := it.Function(int64(id)); f != nil {
				res[f] = true
			}
		}
	}
	return res
}
