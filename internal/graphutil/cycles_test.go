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

package graphutil_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/awslabs/ar-go-pta/internal/funcutil"
	"github.com/awslabs/ar-go-pta/internal/graphutil"
	"github.com/stretchr/testify/assert"
	"github.com/yourbasic/graph"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/callgraph/static"
)

const cyclesSrc = `package main

func f1() {
	f2()
	f4()
	f3()
}

func f2() { f1() }

func f3() { f2() }

func f4() { f5() }

func f5() { f1() }

func g() {
	g1()
	g2()
	g3()
}

func g1() { f1() }

func g2() { g() }

func g3() { g2() }

func main() {
	f1()
	g()
}
`

func TestFindAllElementaryCycles(t *testing.T) {
	prog, _ := analysistest.LoadSource(t, cyclesSrc)
	cg := static.CallGraph(prog)
	iterator := graphutil.NewCallgraphIterator(cg)
	stats := graph.Check(iterator)
	t.Logf("Stats:\n\tsize: %d\n\tmulti: %d\n\tloops: %d\n\tisolated: %d",
		stats.Size, stats.Multi, stats.Loops, stats.Isolated)

	cycles := graphutil.FindAllElementaryCycles(iterator)
	var results []string
	for _, cycle := range cycles {
		names := funcutil.Map(cycle, func(id int64) string { return iterator.Function(id).Name() })
		// the first node is repeated at the end of the cycle
		names = names[:len(names)-1]
		sort.Strings(names)
		results = append(results, strings.Join(names, ","))
	}
	sort.Strings(results)
	expected := []string{"f1,f2", "f1,f2,f3", "f1,f4,f5", "g,g2", "g,g2,g3"}
	if !slices.Equal(results, expected) {
		for i, s := range results {
			t.Logf("Cycle %d: %s", i, s)
		}
		t.Fatalf("Cycles not as expected")
	}
}

func TestRecursiveFunctions(t *testing.T) {
	prog, pkg := analysistest.LoadSource(t, cyclesSrc)
	recursive := graphutil.RecursiveFunctions(static.CallGraph(prog))
	for _, name := range []string{"f1", "f2", "f3", "f4", "f5", "g", "g2", "g3"} {
		assert.Truef(t, recursive[pkg.Func(name)], "%s should be recursive", name)
	}
	for _, name := range []string{"main", "g1"} {
		assert.Falsef(t, recursive[pkg.Func(name)], "%s should not be recursive", name)
	}
}
