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

package driver

import (
	"testing"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const driverSrc = `package main

type buf struct {
	data *int
	n    int
}

var sink *int

func copyIn(dst *buf, src *buf)

func alloc() *int

func set(b *buf, x *int) { b.data = x }

func loop(b *buf, xs []*int) {
	for _, x := range xs {
		b.data = x
	}
}

func even(b *buf, n int) {
	if n > 0 {
		odd(b, n-1)
	}
	b.n = n
}

func odd(b *buf, n int) {
	if n > 0 {
		even(b, n-1)
	}
}

func main() {
	var b, u buf
	x := alloc()
	set(&b, x)
	copyIn(&u, &b)
	sink = u.data
	loop(&b, []*int{x})
	even(&b, 3)
}
`

const driverConfig = `
options:
  max-loop-iterations: 3
function-models:
  - function:
      package: "^example.com/main$"
      method: "^alloc$"
    kind: allocator
  - function:
      package: "^example.com/main$"
      method: "^copyIn$"
    kind: user-copy
    roles:
      dst: 0
      src: 1
`

type driverFixture struct {
	pkg    *ssa.Package
	driver *Driver
}

func newDriverFixture(t *testing.T) driverFixture {
	prog, pkg := analysistest.LoadSource(t, driverSrc)
	cfg, err := config.LoadBytes("config.yaml", []byte(driverConfig))
	require.NoError(t, err)
	state := ptstate.New(cfg, config.NewLogGroup(cfg), prog)
	d, err := New(state, analysis.StaticAnalysis)
	require.NoError(t, err)
	return driverFixture{pkg: pkg, driver: d}
}

func TestEntryPoints(t *testing.T) {
	f := newDriverFixture(t)
	entries := EntryPoints(f.driver.State.Config, f.pkg.Prog)
	assert.Contains(t, entries, f.pkg.Func("main"))
	assert.Contains(t, entries, f.pkg.Func("init"))
	assert.NotContains(t, entries, f.pkg.Func("set"))
	for i := 1; i < len(entries); i++ {
		if entries[i-1].String() > entries[i].String() {
			t.Errorf("entry points are not sorted: %s before %s", entries[i-1], entries[i])
		}
	}
}

func TestRun(t *testing.T) {
	f := newDriverFixture(t)
	d := f.driver
	d.Run([]*ssa.Function{f.pkg.Func("main")})

	assert.Equal(t, 1, d.Stats.Entries)
	for _, name := range []string{"main", "set", "loop", "even", "odd"} {
		assert.Equalf(t, 1, d.State.Visits(f.pkg.Func(name)), "%s should be visited once", name)
	}
	assert.Equal(t, 0, d.State.Visits(f.pkg.Func("copyIn")))
	// even -> odd -> even is cut
	assert.Equal(t, 1, d.Stats.RecursionCuts)
	assert.True(t, d.Recursive(f.pkg.Func("even")))
	assert.False(t, d.Recursive(f.pkg.Func("set")))
	// alloc and copyIn are modeled
	assert.Equal(t, 2, d.Stats.External)

	summary := d.Summarize()
	assert.Equal(t, 5, summary.Functions)
	assert.Greater(t, summary.Objects, 0)
	assert.Greater(t, summary.ActiveEdges, 0)
	assert.Greater(t, summary.TaintFlags, 0)
}

func TestTaintedBySource(t *testing.T) {
	f := newDriverFixture(t)
	d := f.driver
	main := f.pkg.Func("main")
	d.Run([]*ssa.Function{main})

	copyIn := analysistest.FindInstr(t, main, func(instr ssa.Instruction) bool {
		call, ok := instr.(*ssa.Call)
		return ok && call.Call.StaticCallee() == f.pkg.Func("copyIn")
	})
	tainted := d.Tainted()
	require.Contains(t, tainted, copyIn)
	assert.NotEmpty(t, tainted[copyIn])
}

func TestCycles(t *testing.T) {
	f := newDriverFixture(t)
	d := f.driver
	d.Run([]*ssa.Function{f.pkg.Func("main")})
	cycles := d.Cycles()
	require.Len(t, cycles, 1)
	assert.Contains(t, cycles[0], f.pkg.Func("even"))
	assert.Contains(t, cycles[0], f.pkg.Func("odd"))
}

func TestBlockOrder(t *testing.T) {
	f := newDriverFixture(t)
	loop := f.pkg.Func("loop")
	order := f.driver.blockOrder(loop)
	require.NotEmpty(t, order)
	assert.Equal(t, 0, order[0][0].Index, "the entry block comes first")
	n := 0
	loops := 0
	for _, component := range order {
		n += len(component)
		if isLoop(component) {
			loops++
		}
	}
	assert.Equal(t, len(loop.Blocks), n)
	assert.Equal(t, 1, loops)
}

func TestConfiguredEntryPoints(t *testing.T) {
	prog, cfg := analysistest.LoadTest(t, "./testdata/handlers", []string{})
	state := ptstate.New(cfg, config.NewLogGroup(cfg), prog)
	d, err := New(state, analysis.ClassHierarchyAnalysis)
	require.NoError(t, err)

	entries := EntryPoints(cfg, prog)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"HandleLink", "HandleOpen"}, names)

	d.Run(entries)
	assert.Equal(t, 2, d.Stats.Entries)
	for _, e := range entries {
		assert.Equalf(t, 1, d.State.Visits(e), "%s should be visited once", e.Name())
	}
	assert.Greater(t, d.Summarize().Objects, 0)
}
