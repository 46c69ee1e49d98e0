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

package amo

import (
	"bytes"
	"errors"
	"go/types"
	"io"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/geometry"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const modelSrc = `package main

type node struct {
	next *node
	prev *node
	val  int
}

type listHead struct {
	next *listHead
	prev *listHead
}

type device struct {
	id   int32
	list listHead
	data *int
}

type driver struct {
	name string
	dev  device
}

type bus struct {
	head listHead
}

var sink int

func cond() bool { return sink > 0 }

func stores(p *node, a, b, c *node) {
	p.next = a
	if cond() {
		p.next = b
	}
	p.next = c
}

func main() {
	n := &node{}
	stores(n, n, n, n)
}
`

type fixture struct {
	model    *Model
	contexts *loc.Contexts
	pkg      *ssa.Package
	stores   *ssa.Function
	ctx      loc.ContextID
	// locations of the stores of a, b, c, and of the return of stores
	l1, l2, l3, ret loc.Location
}

func newFixture(t *testing.T) *fixture {
	_, pkg := analysistest.LoadSource(t, modelSrc)
	cfg := config.NewDefault()
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	contexts := loc.NewContexts()
	f := &fixture{
		model:    NewModel(geometry.ForArch("amd64", cfg.MaxArrayFields), loc.NewOrder(contexts), logger, cfg.Options),
		contexts: contexts,
		pkg:      pkg,
		stores:   analysistest.Func(t, pkg, "stores"),
	}
	f.ctx = contexts.Entry(f.stores)
	storeOf := func(param int) loc.Location {
		return loc.At(analysistest.FindInstr(t, f.stores, func(i ssa.Instruction) bool {
			s, ok := i.(*ssa.Store)
			return ok && s.Val == f.stores.Params[param]
		}), f.ctx)
	}
	f.l1, f.l2, f.l3 = storeOf(1), storeOf(2), storeOf(3)
	f.ret = loc.At(analysistest.FindInstr(t, f.stores, func(i ssa.Instruction) bool {
		_, ok := i.(*ssa.Return)
		return ok
	}), f.ctx)
	f.model.SetContainerTypes([]types.Type{f.typ(t, "node"), f.typ(t, "listHead"), f.typ(t, "device"),
		f.typ(t, "driver"), f.typ(t, "bus")})
	return f
}

func (f *fixture) typ(t *testing.T, name string) types.Type {
	return analysistest.NamedType(t, f.pkg, name)
}

func (f *fixture) obj(t *testing.T, k Kind, name string) ObjectID {
	if name == "" {
		return f.model.NewObject(k, nil, nil, nil)
	}
	return f.model.NewObject(k, f.typ(t, name), nil, nil)
}

func expectConsistencyPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		_, ok := r.(*ConsistencyError)
		assert.True(t, ok, "expected a consistency error, got %v", r)
	}()
	fn()
}

func dsts(edges []*Edge) []ObjectID {
	var ids []ObjectID
	for _, e := range edges {
		ids = append(ids, e.Dst.Obj)
	}
	return ids
}

func TestEdgeDeduplication(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o, x := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	src := Address{Obj: o}
	e1 := m.AddEdge(src, Address{Obj: x}, f.l1, Weak)
	e2 := m.AddEdge(src, Address{Obj: x}, f.l3, Weak)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, f.l3, e1.Loc)
	assert.Equal(t, 1, m.NumEdges())
	e3 := m.AddEdge(src, Address{Obj: x}, f.l3, Strong)
	assert.NotEqual(t, e1.ID, e3.ID)
	assert.Len(t, m.PointsFrom(x), 2)
	assert.Empty(t, m.CheckInvariants())
}

func TestEdgeStatusIsShared(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o, x := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	e := m.AddEdge(Address{Obj: o}, Address{Obj: x}, f.l1, Weak)
	m.Deactivate(e.ID)
	assert.False(t, m.PointsFrom(x)[0].IsActive())
	assert.Empty(t, m.ActiveEdges(Address{Obj: o}))
	m.Activate(e.ID)
	assert.True(t, m.PointsFrom(x)[0].IsActive())
	// re-inserting an inactive edge reactivates it
	m.Deactivate(e.ID)
	m.AddEdge(Address{Obj: o}, Address{Obj: x}, f.l2, Weak)
	assert.True(t, e.IsActive())
	assert.Empty(t, m.CheckInvariants())
}

func TestStrongUpdateDominance(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o := f.obj(t, KindHeap, "node")
	a, b, c := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	src := Address{Obj: o}
	e1 := m.AddEdge(src, Address{Obj: a}, f.l1, Strong)
	e2 := m.AddEdge(src, Address{Obj: b}, f.l2, Weak)
	assert.True(t, e1.IsActive(), "a weak edge deactivates nothing")
	e3 := m.AddEdge(src, Address{Obj: c}, f.l3, Strong)
	assert.False(t, e1.IsActive(), "the edge dominating the strong update is deactivated")
	assert.True(t, e2.IsActive(), "an edge on a single branch stays active")
	assert.True(t, e3.IsActive())
	assert.Equal(t, []ObjectID{c}, dsts(m.LiveEdges(src, f.ret)))
	assert.Equal(t, []ObjectID{b}, dsts(m.LiveEdges(src, f.l2)))
	assert.Empty(t, m.CheckInvariants())
}

func TestStrongUpdateOnBranch(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o := f.obj(t, KindHeap, "node")
	a, b := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	src := Address{Obj: o}
	e1 := m.AddEdge(src, Address{Obj: a}, f.l1, Strong)
	e2 := m.AddEdge(src, Address{Obj: b}, f.l2, Strong)
	assert.True(t, e1.IsActive(), "the store before the branch still reaches the join")
	assert.True(t, e2.IsActive())
	assert.ElementsMatch(t, []ObjectID{a, b}, dsts(m.LiveEdges(src, f.l3)))

	m.Overwrite(src, f.l2)
	assert.True(t, e1.IsActive(), "overwriting on one branch keeps the earlier store")
	assert.Empty(t, m.CheckInvariants())
}

func TestCollapseArray(t *testing.T) {
	f := newFixture(t)
	m := f.model
	arr := m.NewObject(KindLocal, types.NewArray(types.NewPointer(f.typ(t, "node")), 4), nil, nil)
	x, y := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	m.AddEdge(Address{Obj: arr, Field: 0}, Address{Obj: x}, f.l1, Strong)
	m.AddEdge(Address{Obj: arr, Field: 2}, Address{Obj: y}, f.l1, Strong)
	assert.False(t, m.Collapsed(arr))
	m.Collapse(arr, f.l2)
	assert.True(t, m.Collapsed(arr))
	assert.ElementsMatch(t, []ObjectID{x, y}, dsts(m.LiveEdges(Address{Obj: arr}, f.ret)))
	// collapsing again changes nothing
	n := m.NumEdges()
	m.Collapse(arr, f.l3)
	assert.Equal(t, n, m.NumEdges())
	assert.Empty(t, m.CheckInvariants())
}

func TestSameViewOfNamedTypes(t *testing.T) {
	f := newFixture(t)
	m := f.model
	node := f.typ(t, "node")
	alias := types.NewNamed(types.NewTypeName(0, f.pkg.Pkg, "view", nil), node.Underlying(), nil)
	o := f.obj(t, KindHeap, "node")
	a, err := m.Retype(Address{Obj: o}, alias)
	require.NoError(t, err)
	assert.Equal(t, Address{Obj: o}, a)
	v := m.NewObject(KindHeap, alias, nil, nil)
	assert.NoError(t, m.Merge(o, v, f.l3, Weak))
}

func TestWeakUpdateNonDestruction(t *testing.T) {
	f := newFixture(t)
	m := f.model
	x1, x2 := f.obj(t, KindLocal, "node"), f.obj(t, KindLocal, "node")
	p1, p2, z := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	old1 := m.AddEdge(Address{Obj: x1}, Address{Obj: p1}, f.l1, Strong)
	old2 := m.AddEdge(Address{Obj: x2}, Address{Obj: p2}, f.l1, Strong)
	for _, x := range []ObjectID{x1, x2} {
		m.AddEdge(Address{Obj: x}, Address{Obj: z}, f.l3, Weak)
	}
	assert.True(t, old1.IsActive())
	assert.True(t, old2.IsActive())
	assert.ElementsMatch(t, []ObjectID{p1, z}, dsts(m.LiveEdges(Address{Obj: x1}, f.ret)))
	assert.ElementsMatch(t, []ObjectID{p2, z}, dsts(m.LiveEdges(Address{Obj: x2}, f.ret)))
}

func TestStrongStoreOfSet(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o, prior := f.obj(t, KindLocal, "node"), f.obj(t, KindHeap, "node")
	a, b, c := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	src := Address{Obj: o}
	old := m.AddEdge(src, Address{Obj: prior}, f.l1, Strong)
	m.AddEdges(src, []Address{{Obj: a}, {Obj: b}, {Obj: c}}, f.l3, Strong)
	assert.False(t, old.IsActive())
	assert.ElementsMatch(t, []ObjectID{a, b, c}, dsts(m.LiveEdges(src, f.ret)))
}

func TestPlaceholderSynthesis(t *testing.T) {
	f := newFixture(t)
	m := f.model
	u := f.obj(t, KindPlaceholder, "")
	before := m.NumObjects()
	edges := m.Pointees(Address{Obj: u, Field: 5}, f.ret, f.typ(t, "node"))
	require.Len(t, edges, 1)
	assert.Equal(t, before+1, m.NumObjects())
	p := m.Object(edges[0].Dst.Obj)
	assert.Equal(t, KindPlaceholder, p.Kind)
	assert.True(t, types.Identical(f.typ(t, "node"), p.Type))
	assert.Equal(t, Strong, edges[0].Strength)
	assert.Equal(t, loc.EntryOf(f.stores, f.ctx), edges[0].Loc)
	again := m.Pointees(Address{Obj: u, Field: 5}, f.ret, f.typ(t, "node"))
	assert.Equal(t, dsts(edges), dsts(again))
	assert.Equal(t, before+1, m.NumObjects())
}

func TestNoSynthesisInZeroedObjects(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o := f.obj(t, KindLocal, "node")
	assert.Empty(t, m.Pointees(Address{Obj: o}, f.ret, nil))
	assert.False(t, m.Synthesizable(o))
	c, ok := m.Child(f.obj(t, KindHeap, "device"), 1)
	require.True(t, ok)
	assert.False(t, m.Synthesizable(c))
}

func TestSynthesisCoversMissingPaths(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o, b := f.obj(t, KindArgument, "node"), f.obj(t, KindHeap, "node")
	m.AddEdge(Address{Obj: o}, Address{Obj: b}, f.l2, Weak)
	edges := m.Pointees(Address{Obj: o}, f.l3, nil)
	require.Len(t, edges, 2)
	assert.Equal(t, b, edges[0].Dst.Obj)
	assert.Equal(t, KindPlaceholder, m.Object(edges[1].Dst.Obj).Kind)
}

func TestLinkedStructureBackLink(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o := f.obj(t, KindArgument, "node")
	edges := m.Pointees(Address{Obj: o, Field: 0}, f.ret, nil)
	require.Len(t, edges, 1)
	p := edges[0].Dst.Obj
	back := m.ActiveEdges(Address{Obj: p, Field: 1})
	require.Len(t, back, 1)
	assert.Equal(t, Address{Obj: o}, back[0].Dst)
}

func TestEmbedding(t *testing.T) {
	f := newFixture(t)
	m := f.model
	dev := f.obj(t, KindHeap, "device")
	list, ok := m.Child(dev, 1)
	require.True(t, ok)
	again, _ := m.Child(dev, 1)
	assert.Equal(t, list, again)
	host, field, ok := m.Object(list).Parent()
	assert.True(t, ok)
	assert.Equal(t, dev, host)
	assert.Equal(t, 1, field)
	root, off := m.Root(list)
	assert.Equal(t, dev, root)
	assert.Equal(t, int64(64), off)
	_, ok = m.Child(dev, 2)
	assert.False(t, ok, "pointer fields have no embedded object")
	assert.Empty(t, m.CheckInvariants())

	other := f.obj(t, KindHeap, "bus")
	expectConsistencyPanic(t, func() { m.Embed(other, 0, list) })
	expectConsistencyPanic(t, func() { m.Embed(dev, 1, f.obj(t, KindHeap, "listHead")) })
}

func TestDuplicateGlobalRegistration(t *testing.T) {
	f := newFixture(t)
	g := f.pkg.Var("sink")
	id := f.model.RegisterGlobal(g)
	assert.Equal(t, id, f.model.Global(g))
	expectConsistencyPanic(t, func() { f.model.RegisterGlobal(g) })
}

func TestHostSynthesis(t *testing.T) {
	f := newFixture(t)
	m := f.model
	l := f.obj(t, KindLocal, "listHead")
	h, err := m.Host(l, f.typ(t, "device"), 64)
	require.NoError(t, err)
	assert.Equal(t, KindHost, m.Object(h).Kind)
	c, _ := m.Child(h, 1)
	assert.Equal(t, l, c)

	// a request agreeing with the existing host extends the hierarchy
	d, err := m.Host(l, f.typ(t, "driver"), 192)
	require.NoError(t, err)
	assert.True(t, types.Identical(f.typ(t, "driver"), m.Object(d).Type))
	root, off := m.Root(l)
	assert.Equal(t, d, root)
	assert.Equal(t, int64(192), off)
	same, err := m.Host(l, f.typ(t, "device"), 64)
	require.NoError(t, err)
	assert.Equal(t, h, same)

	_, err = m.Host(l, f.typ(t, "bus"), 0)
	assert.True(t, errors.Is(err, ErrParentConflict))
	_, err = m.Host(f.obj(t, KindLocal, "listHead"), f.typ(t, "node"), 0)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Empty(t, m.CheckInvariants())
}

func TestRetype(t *testing.T) {
	f := newFixture(t)
	m := f.model
	u := f.obj(t, KindPlaceholder, "")
	a, err := m.Retype(Address{Obj: u}, f.typ(t, "node"))
	require.NoError(t, err)
	assert.Equal(t, Address{Obj: u}, a)
	assert.True(t, types.Identical(f.typ(t, "node"), m.Object(u).Type))

	l := f.obj(t, KindLocal, "listHead")
	a, err = m.Retype(Address{Obj: l}, f.typ(t, "bus"))
	require.NoError(t, err)
	assert.True(t, types.Identical(f.typ(t, "bus"), m.Object(a.Obj).Type))

	dev := f.obj(t, KindHeap, "device")
	_, err = m.Retype(Address{Obj: dev}, f.typ(t, "listHead"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	// the list of a device is not the start of a device
	list, _ := m.Child(dev, 1)
	_, err = m.Retype(Address{Obj: list}, f.typ(t, "device"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	a, err = m.Retype(Address{Obj: dev, Field: 2}, types.NewPointer(types.Typ[types.Int]))
	require.NoError(t, err)
	assert.Equal(t, Address{Obj: dev, Field: 2}, a)
}

func TestDisplaceWalksParents(t *testing.T) {
	f := newFixture(t)
	m := f.model
	dev := f.obj(t, KindHeap, "device")
	list, _ := m.Child(dev, 1)
	a, err := m.Displace(Address{Obj: list}, -64, f.typ(t, "device"), SearchSite{})
	require.NoError(t, err)
	assert.Equal(t, Address{Obj: dev}, a)
	a, err = m.Displace(Address{Obj: list}, 128, nil, SearchSite{})
	require.NoError(t, err)
	assert.Equal(t, Address{Obj: dev, Field: 2}, a)
}

func TestContainerSearch(t *testing.T) {
	f := newFixture(t)
	m := f.model
	l := f.obj(t, KindLocal, "listHead")
	candidates := m.Candidates(f.typ(t, "listHead"), -64, nil, SearchSite{FieldName: "list"})
	require.Len(t, candidates, 2)
	assert.True(t, types.Identical(f.typ(t, "device"), candidates[0].Type), "smaller container first")
	assert.Equal(t, "list", candidates[0].Field)

	a, err := m.Displace(Address{Obj: l}, -64, nil, SearchSite{FieldName: "list"})
	require.NoError(t, err)
	assert.True(t, types.Identical(f.typ(t, "device"), m.Object(a.Obj).Type))
	assert.Equal(t, 0, a.Field)
	assert.Empty(t, m.CheckInvariants())

	other := f.obj(t, KindLocal, "listHead")
	_, err = m.SearchContainer(other, -1000, nil, SearchSite{})
	assert.True(t, errors.Is(err, ErrNoContainer))
	assert.Equal(t, 1, m.FailureCache().Len())
	assert.True(t, m.FailureCache().Failed(nil, f.typ(t, "listHead"), -1000))
	_, err = m.SearchContainer(other, -1000, nil, SearchSite{})
	assert.True(t, errors.Is(err, ErrNoContainer))
}

func TestContainerRankingUsage(t *testing.T) {
	f := newFixture(t)
	m := f.model
	withUsage := m.Candidates(f.typ(t, "listHead"), -64, nil, SearchSite{Fn: analysistest.Func(t, f.pkg, "main")})
	require.Len(t, withUsage, 2)
	// neither container is used by main: the smaller one wins
	assert.True(t, types.Identical(f.typ(t, "device"), withUsage[0].Type))
	assert.Greater(t, withUsage[0].Score, withUsage[1].Score)
}

func TestDuplicateAndMerge(t *testing.T) {
	f := newFixture(t)
	m := f.model
	a, x := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	m.AddEdge(Address{Obj: a}, Address{Obj: x}, f.l1, Strong)
	d := m.Duplicate(a, KindHeap, f.l3)
	assert.Equal(t, []ObjectID{x}, dsts(m.LiveEdges(Address{Obj: d}, f.ret)))

	b, y := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	m.AddEdge(Address{Obj: b, Field: 1}, Address{Obj: y}, f.l1, Strong)
	require.NoError(t, m.Merge(d, b, f.l3, Weak))
	assert.Equal(t, []ObjectID{y}, dsts(m.LiveEdges(Address{Obj: d, Field: 1}, f.ret)))
	assert.Equal(t, []ObjectID{x}, dsts(m.LiveEdges(Address{Obj: d}, f.ret)))

	err := m.Merge(d, f.obj(t, KindHeap, "device"), f.l3, Weak)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Empty(t, m.CheckInvariants())
}

type recordingTracker struct {
	marked []Address
}

func (r *recordingTracker) MarkSource(a Address, _ TaintMark, _ loc.Location) {
	r.marked = append(r.marked, a)
}

func (r *recordingTracker) LiveFlags(Address, loc.Location) []FlagID { return nil }

func (r *recordingTracker) CopyFlag(FlagID, Address, loc.Location) {}

func TestMarkTaintSourceFansOut(t *testing.T) {
	f := newFixture(t)
	m := f.model
	tracker := &recordingTracker{}
	m.SetTaintTracker(tracker)
	dev := f.obj(t, KindHeap, "device")
	m.MarkTaintSource(dev, LocalTaint, f.l1)
	list, ok := m.Object(dev).Embedded(1)
	require.True(t, ok)
	assert.ElementsMatch(t, []Address{{Obj: dev, Field: 0}, {Obj: dev, Field: 2}, {Obj: list, Field: 0},
		{Obj: list, Field: 1}}, tracker.marked)
	assert.Equal(t, LocalTaint, m.Object(dev).Taint)
	assert.Equal(t, LocalTaint, m.Object(list).Taint)
}

func TestResetProtocol(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o := f.obj(t, KindPlaceholder, "node")
	preset, a := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	pe := m.AddEdge(Address{Obj: o}, Address{Obj: preset}, loc.PreEntryLocation, Strong)
	ae := m.AddEdge(Address{Obj: o}, Address{Obj: a}, f.l1, Strong)
	assert.False(t, pe.IsActive())
	mainFn := analysistest.Func(t, f.pkg, "main")
	mainCtx := f.contexts.Entry(mainFn)
	use := loc.At(mainFn.Blocks[0].Instrs[0], mainCtx)
	live := m.LiveEdges(Address{Obj: o}, use)
	assert.Equal(t, []ObjectID{preset}, dsts(live))
	assert.True(t, pe.IsActive())
	assert.False(t, ae.IsActive())
	assert.Empty(t, m.CheckInvariants())
}

func TestDebugOutput(t *testing.T) {
	f := newFixture(t)
	m := f.model
	o, x := f.obj(t, KindHeap, "node"), f.obj(t, KindHeap, "node")
	m.AddEdge(Address{Obj: o}, Address{Obj: x}, f.l1, Weak)
	assert.Contains(t, m.Debug(), "o1.0 -weak-> o2.0")
	var buf bytes.Buffer
	require.NoError(t, m.Graphviz(&buf))
	assert.Contains(t, buf.String(), "o1 -> o2")
}
