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

package taint

import (
	"io"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/geometry"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const taintSrc = `package main

type buf struct {
	data *int
	n    int
}

var sink int

func read(b *buf) {
	x := new(int)
	b.data = x
	sink = b.n
}

func main() {}
`

type fixture struct {
	order  *loc.Order
	logger *config.LogGroup
	pkg    *ssa.Package
	read   *ssa.Function
	// l1 is the store to b.data, l2 the store to sink
	l1, l2, entry loc.Location
}

func newFixture(t *testing.T) *fixture {
	_, pkg := analysistest.LoadSource(t, taintSrc)
	logger := config.NewLogGroup(config.NewDefault())
	logger.SetAllOutput(io.Discard)
	contexts := loc.NewContexts()
	f := &fixture{order: loc.NewOrder(contexts), logger: logger, pkg: pkg, read: analysistest.Func(t, pkg, "read")}
	ctx := contexts.Entry(f.read)
	stores := analysistest.FindInstrs(f.read, func(i ssa.Instruction) bool {
		_, ok := i.(*ssa.Store)
		return ok
	})
	require.Len(t, stores, 2)
	f.l1, f.l2 = loc.At(stores[0], ctx), loc.At(stores[1], ctx)
	f.entry = loc.EntryOf(f.read, ctx)
	return f
}

func TestMarkSourceAndLiveness(t *testing.T) {
	f := newFixture(t)
	tr := NewTracker(f.order, f.logger, 0)
	a, b := amo.Address{Obj: 1}, amo.Address{Obj: 2}
	tr.MarkSource(a, amo.LocalTaint, f.l1)
	tr.MarkSource(a, amo.LocalTaint, f.l1)
	assert.Equal(t, 1, tr.NumFlags())
	assert.Len(t, tr.LiveFlags(a, f.l2), 1)
	assert.Empty(t, tr.LiveFlags(a, f.entry))
	assert.True(t, tr.IsTainted(a, f.l2))
	assert.False(t, tr.IsTainted(b, f.l2))

	tr.MarkSource(b, amo.GlobalTaint, f.l2)
	assert.Len(t, tr.LiveFlags(b, f.entry), 1, "global marks are live everywhere")
}

func TestCopyFlagAndPath(t *testing.T) {
	f := newFixture(t)
	tr := NewTracker(f.order, f.logger, 0)
	a, c := amo.Address{Obj: 1}, amo.Address{Obj: 3, Field: 1}
	tr.MarkSource(a, amo.LocalTaint, f.l1)
	id := tr.LiveFlags(a, f.l2)[0]
	tr.CopyFlag(id, c, f.l2)
	tr.CopyFlag(id, c, f.l2)
	assert.Equal(t, 2, tr.NumFlags())
	copied := tr.LiveFlags(c, f.l2)
	require.Len(t, copied, 1)
	path := tr.Path(copied[0])
	require.Len(t, path, 2)
	assert.Equal(t, a, path[0].Addr)
	assert.Equal(t, c, path[1].Addr)
	assert.Equal(t, []ssa.Instruction{f.l1.Instr}, tr.Sources(c, f.l2))
	assert.Equal(t, []amo.Address{a, c}, tr.Flows().Destinations(f.l1.Instr))
	assert.Equal(t, 2, tr.Flows().NumFlows())
	assert.Len(t, tr.TaintedFields(), 2)
}

func TestFlagBound(t *testing.T) {
	f := newFixture(t)
	tr := NewTracker(f.order, f.logger, 1)
	a := amo.Address{Obj: 1}
	tr.MarkSource(a, amo.LocalTaint, f.l1)
	tr.MarkSource(a, amo.LocalTaint, f.l2)
	assert.Equal(t, 1, tr.NumFlags())
	assert.Equal(t, 1, tr.Truncated())
}

func TestTrackerInModel(t *testing.T) {
	f := newFixture(t)
	cfg := config.NewDefault()
	m := amo.NewModel(geometry.ForArch("amd64", 0), f.order, f.logger, cfg.Options)
	tr := NewTracker(f.order, f.logger, cfg.MaxTaintPaths)
	m.SetTaintTracker(tr)
	o := m.NewObject(amo.KindArgument, analysistest.NamedType(t, f.pkg, "buf"), nil, nil)
	m.MarkTaintSource(o, amo.LocalTaint, f.l1)
	assert.True(t, tr.IsTainted(amo.Address{Obj: o, Field: 1}, f.l2))
	d := m.Duplicate(o, amo.KindHeap, f.l2)
	assert.True(t, tr.IsTainted(amo.Address{Obj: d, Field: 0}, f.l2))
	assert.True(t, tr.IsTainted(amo.Address{Obj: d, Field: 1}, f.l2))
	assert.False(t, tr.IsTainted(amo.Address{Obj: d, Field: 1}, f.l1))
}
