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

package loc

import (
	"golang.org/x/tools/go/ssa"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// Order answers program-order queries on locations. Two locations in different contexts are compared in the deepest
// context they share: a location deeper in the call stack is represented there by the call site leading to it.
// Locations of different entry points are unordered.
type Order struct {
	contexts *Contexts
	graphs   map[*ssa.Function]*simple.DirectedGraph
}

// NewOrder returns the program order of the locations with contexts in the table c
func NewOrder(c *Contexts) *Order {
	return &Order{contexts: c, graphs: map[*ssa.Function]*simple.DirectedGraph{}}
}

// Contexts returns the context table of the order
func (o *Order) Contexts() *Contexts {
	return o.contexts
}

// project returns the position of l in the body of the function analyzed in context c. The second return value is
// false if l does not belong to c or one of its callees.
func (o *Order) project(l Location, c ContextID) (position, bool) {
	if l.IsPreEntry() {
		return position{}, false
	}
	if l.Ctx == c {
		if l.IsEntry() {
			return entryPosition(), true
		}
		return instrPosition(l.Instr), true
	}
	child, ok := o.contexts.ChildToward(c, l.Ctx)
	if !ok {
		return position{}, false
	}
	site := o.contexts.Frame(child).Site
	if site == nil {
		return position{}, false
	}
	p := instrPosition(site)
	p.deeper = true
	return p, true
}

// Dominates returns true if every execution reaching b goes through a first. The pre-entry location dominates every
// location; a location dominates itself.
func (o *Order) Dominates(a, b Location) bool {
	if a.IsPreEntry() {
		return true
	}
	if b.IsPreEntry() || a == b {
		return a == b
	}
	c := o.contexts.Common(a.Ctx, b.Ctx)
	if c == PreEntry {
		return false
	}
	pa, okA := o.project(a, c)
	pb, okB := o.project(b, c)
	if !okA || !okB {
		return false
	}
	if pa.samePoint(pb) {
		// the body of a callee precedes the completion of the call
		return pa.deeper && !pb.deeper
	}
	fn := o.contexts.Function(c)
	if pa.block == pb.block {
		return pa.index < pb.index
	}
	return fn.Blocks[pa.block].Dominates(fn.Blocks[pb.block])
}

// PostDominates returns true if every execution leaving b goes through a before the frame it shares with a returns.
// A location deeper than that frame only counts if it executes on every path of its callees.
func (o *Order) PostDominates(a, b Location) bool {
	if a == b {
		return true
	}
	if a.IsPreEntry() || b.IsPreEntry() {
		return false
	}
	c := o.contexts.Common(a.Ctx, b.Ctx)
	if c == PreEntry {
		return false
	}
	pa, okA := o.project(a, c)
	pb, okB := o.project(b, c)
	if !okA || !okB {
		return false
	}
	if pa.deeper && !o.mustExecute(a, c) {
		return false
	}
	if pa.samePoint(pb) {
		// the completion of the call follows the body of the callee
		return !pa.deeper && pb.deeper
	}
	return !o.reachesExit(o.contexts.Function(c), pb, pa)
}

// Reaches returns true if there is an execution path from the location from to the location to that does not go
// through any of the blocked locations. Blocking locations that project on the same point as from or to are ignored,
// as well as from itself if it appears in blocked.
func (o *Order) Reaches(from, to Location, blocked []Location) bool {
	if to.IsPreEntry() {
		return from.IsPreEntry()
	}
	if from.IsPreEntry() {
		entry := o.contexts.EntryContext(to.Ctx)
		if entry == PreEntry {
			return false
		}
		from = EntryOf(o.contexts.Function(entry), entry)
		if from == to {
			return true
		}
	}
	c := o.contexts.Common(from.Ctx, to.Ctx)
	if c == PreEntry {
		return false
	}
	pa, okA := o.project(from, c)
	pb, okB := o.project(to, c)
	if !okA || !okB {
		return false
	}
	if pa.samePoint(pb) {
		return true
	}
	blocks := map[int][]int{}
	for _, bl := range blocked {
		if bl == from || bl.IsPreEntry() {
			continue
		}
		pbl, ok := o.project(bl, c)
		if !ok || pbl.samePoint(pa) || pbl.samePoint(pb) {
			continue
		}
		if pbl.deeper && !o.mustExecute(bl, c) {
			continue
		}
		blocks[pbl.block] = append(blocks[pbl.block], pbl.index)
	}
	return o.reachInBody(o.contexts.Function(c), pa, pb, blocks)
}

// EntryCovered returns true if every path from the entry of the function of to's context to the location to goes
// through one of the anchors. Anchors established before the frame of to (in a caller, or before the entry) cover all
// the paths.
func (o *Order) EntryCovered(to Location, anchors []Location) bool {
	if to.IsPreEntry() {
		return len(anchors) > 0
	}
	var inFrame []Location
	for _, a := range anchors {
		if a.IsPreEntry() {
			return true
		}
		if o.contexts.IsAncestor(to.Ctx, a.Ctx) {
			inFrame = append(inFrame, a)
		} else if o.contexts.IsAncestor(a.Ctx, to.Ctx) {
			return true
		}
	}
	if len(inFrame) == 0 {
		return false
	}
	entry := EntryOf(o.contexts.Function(to.Ctx), to.Ctx)
	for _, a := range inFrame {
		if a == entry {
			return true
		}
	}
	if to == entry {
		return false
	}
	return !o.Reaches(entry, to, inFrame)
}

// mustExecute returns true if every execution of the call leading from c to l goes through l
func (o *Order) mustExecute(l Location, c ContextID) bool {
	for l.Ctx != c && l.Ctx != PreEntry {
		p := entryPosition()
		if !l.IsEntry() {
			p = instrPosition(l.Instr)
		}
		if !dominatesExits(o.contexts.Function(l.Ctx), p) {
			return false
		}
		l = At(o.contexts.Frame(l.Ctx).Site, o.contexts.Parent(l.Ctx))
	}
	return true
}

// dominatesExits returns true if p dominates all the return instructions of fn
func dominatesExits(fn *ssa.Function, p position) bool {
	exits := 0
	for _, b := range fn.Blocks {
		if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.Return); !ok {
			continue
		}
		exits++
		if b.Index != p.block && !fn.Blocks[p.block].Dominates(b) {
			return false
		}
	}
	return exits > 0
}

func hasBlockerIn(indexes []int, lo, hi int) bool {
	for _, i := range indexes {
		if i > lo && i < hi {
			return true
		}
	}
	return false
}

func (o *Order) reachInBody(fn *ssa.Function, from, to position, blocks map[int][]int) bool {
	if from.block == to.block && from.index < to.index {
		// leaving the block would go through the instructions between from and to
		return !hasBlockerIn(blocks[from.block], from.index, to.index)
	}
	if hasBlockerIn(blocks[from.block], from.index, len(fn.Blocks[from.block].Instrs)) {
		return false
	}
	if hasBlockerIn(blocks[to.block], -2, to.index) {
		return false
	}
	g := o.blockGraph(fn)
	for _, succ := range fn.Blocks[from.block].Succs {
		if succ.Index == to.block {
			return true
		}
		if len(blocks[succ.Index]) > 0 {
			continue
		}
		bfs := traverse.BreadthFirst{
			Traverse: func(e graph.Edge) bool {
				id := int(e.To().ID())
				return id == to.block || len(blocks[id]) == 0
			},
		}
		found := bfs.Walk(g, g.Node(int64(succ.Index)), func(n graph.Node, _ int) bool {
			return int(n.ID()) == to.block
		})
		if found != nil {
			return true
		}
	}
	return false
}

// reachesExit returns true if a return of fn can be reached from the position from without going through avoid
func (o *Order) reachesExit(fn *ssa.Function, from, avoid position) bool {
	if from.block == avoid.block && avoid.index > from.index {
		return false
	}
	if isExit(fn.Blocks[from.block]) {
		return true
	}
	g := o.blockGraph(fn)
	for _, succ := range fn.Blocks[from.block].Succs {
		if succ.Index == avoid.block {
			continue
		}
		bfs := traverse.BreadthFirst{
			Traverse: func(e graph.Edge) bool {
				return int(e.To().ID()) != avoid.block
			},
		}
		found := bfs.Walk(g, g.Node(int64(succ.Index)), func(n graph.Node, _ int) bool {
			return isExit(fn.Blocks[n.ID()])
		})
		if found != nil {
			return true
		}
	}
	return false
}

func isExit(b *ssa.BasicBlock) bool {
	_, ok := b.Instrs[len(b.Instrs)-1].(*ssa.Return)
	return ok
}

func (o *Order) blockGraph(fn *ssa.Function) *simple.DirectedGraph {
	if g, ok := o.graphs[fn]; ok {
		return g
	}
	g := simple.NewDirectedGraph()
	for _, b := range fn.Blocks {
		if g.Node(int64(b.Index)) == nil {
			g.AddNode(simple.Node(b.Index))
		}
	}
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			if b.Index != s.Index {
				g.SetEdge(g.NewEdge(simple.Node(b.Index), simple.Node(s.Index)))
			}
		}
	}
	o.graphs[fn] = g
	return g
}
