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

// Package amo implements the abstract memory object model: the objects representing memory regions, the field
// edges between them, the embedding of aggregate fields and the bookkeeping of strong and weak updates.
//
// A Model owns every object and edge of an analysis run. Objects and edges are stored in arenas and referenced by
// their ids, which are stable for the lifetime of the model.
package amo

import (
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/geometry"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"
)

// Model is the graph of abstract memory objects
type Model struct {
	layouts  *geometry.Layouts
	order    *loc.Order
	logger   *config.LogGroup
	options  config.Options
	tracker  TaintTracker
	failures *FailureCache

	objects []*Object
	edges   []*Edge
	dedup   map[edgeKey]EdgeID

	globals   map[*ssa.Global]ObjectID
	functions map[*ssa.Function]ObjectID

	// containers are the candidate types of the container search
	containers []types.Type
	usedTypes  map[*ssa.Function]*typeutil.Map

	factory PlaceholderFactory
}

// Synthetic fields of maps
const (
	MapKeys   = 0
	MapValues = 1
)

// NewModel returns an empty model. Field layouts are computed by layouts, program order is decided by order.
func NewModel(layouts *geometry.Layouts, order *loc.Order, logger *config.LogGroup, options config.Options) *Model {
	return &Model{
		layouts:   layouts,
		order:     order,
		logger:    logger,
		options:   options,
		tracker:   noTracker{},
		failures:  NewFailureCache(),
		objects:   []*Object{nil},
		edges:     []*Edge{nil},
		dedup:     map[edgeKey]EdgeID{},
		globals:   map[*ssa.Global]ObjectID{},
		functions: map[*ssa.Function]ObjectID{},
		usedTypes: map[*ssa.Function]*typeutil.Map{},
	}
}

// SetTaintTracker sets the collaborator receiving the taint facts of the model
func (m *Model) SetTaintTracker(t TaintTracker) {
	if t == nil {
		t = noTracker{}
	}
	m.tracker = t
}

// TaintTracker returns the taint collaborator of the model
func (m *Model) TaintTracker() TaintTracker {
	return m.tracker
}

// SetFailureCache sets the cache of failed container searches. Caches can be shared between models.
func (m *Model) SetFailureCache(c *FailureCache) {
	m.failures = c
}

// FailureCache returns the cache of failed container searches
func (m *Model) FailureCache() *FailureCache {
	return m.failures
}

// SetContainerTypes sets the aggregate types the container search considers
func (m *Model) SetContainerTypes(ts []types.Type) {
	m.containers = nil
	for _, t := range ts {
		if _, ok := t.Underlying().(*types.Struct); ok {
			m.containers = append(m.containers, t)
		}
	}
}

// Layouts returns the layout oracle of the model
func (m *Model) Layouts() *geometry.Layouts {
	return m.layouts
}

// Order returns the program order of the model
func (m *Model) Order() *loc.Order {
	return m.order
}

// Object returns the object with id. It panics if the id is not in the model.
func (m *Model) Object(id ObjectID) *Object {
	if id <= NoObject || int(id) >= len(m.objects) {
		inconsistent(id, "unknown object")
	}
	return m.objects[id]
}

// Edge returns the edge with id
func (m *Model) Edge(id EdgeID) *Edge {
	return m.edges[id]
}

// NumObjects returns the number of objects in the model
func (m *Model) NumObjects() int {
	return len(m.objects) - 1
}

// NumEdges returns the number of field edges in the model
func (m *Model) NumEdges() int {
	return len(m.edges) - 1
}

// Objects iterates over all the objects of the model in creation order
func (m *Model) Objects(f func(o *Object)) {
	for _, o := range m.objects[1:] {
		f(o)
	}
}

// NewObject creates an object of kind k and type t, for the value v created at site
func (m *Model) NewObject(k Kind, t types.Type, v ssa.Value, site ssa.Instruction) ObjectID {
	id := ObjectID(len(m.objects))
	m.objects = append(m.objects, &Object{
		ID:     id,
		Kind:   k,
		Type:   t,
		Value:  v,
		Site:   site,
		Const:  k == KindFunction,
		embeds: map[int]ObjectID{},
		fields: map[int]*fieldState{},
	})
	m.logger.Tracef("new object %s", m.objects[id])
	return id
}

// RegisterGlobal creates the object of the global g. A global can only be registered once.
func (m *Model) RegisterGlobal(g *ssa.Global) ObjectID {
	if id, ok := m.globals[g]; ok {
		inconsistent(id, "global %s registered twice", g.Name())
	}
	id := m.NewObject(KindGlobal, deref(g.Type()), g, nil)
	m.globals[g] = id
	return id
}

// Global returns the object of the global g, registering it if needed
func (m *Model) Global(g *ssa.Global) ObjectID {
	if id, ok := m.globals[g]; ok {
		return id
	}
	return m.RegisterGlobal(g)
}

// FunctionObject returns the object representing the function fn as a value
func (m *Model) FunctionObject(fn *ssa.Function) ObjectID {
	if id, ok := m.functions[fn]; ok {
		return id
	}
	id := m.NewObject(KindFunction, fn.Signature, fn, nil)
	m.functions[fn] = id
	return id
}

// Initialize records that the object o is written at l
func (m *Model) Initialize(o ObjectID, l loc.Location) {
	obj := m.Object(o)
	obj.Initialized = true
	for _, s := range obj.InitSites {
		if s == l {
			return
		}
	}
	obj.InitSites = append(obj.InitSites, l)
}

func (m *Model) field(a Address) *fieldState {
	obj := m.Object(a.Obj)
	fs, ok := obj.fields[a.Field]
	if !ok {
		fs = &fieldState{}
		obj.fields[a.Field] = fs
	}
	return fs
}

// Edges returns all the edges of the field at a, active or not
func (m *Model) Edges(a Address) []*Edge {
	fs, ok := m.Object(a.Obj).fields[a.Field]
	if !ok {
		return nil
	}
	edges := make([]*Edge, len(fs.edges))
	for i, id := range fs.edges {
		edges[i] = m.edges[id]
	}
	return edges
}

// ActiveEdges returns the active edges of the field at a
func (m *Model) ActiveEdges(a Address) []*Edge {
	var edges []*Edge
	for _, e := range m.Edges(a) {
		if e.IsActive() {
			edges = append(edges, e)
		}
	}
	return edges
}

// PointsFrom returns the edges pointing to any field of o
func (m *Model) PointsFrom(o ObjectID) []*Edge {
	obj := m.Object(o)
	edges := make([]*Edge, len(obj.pointsFrom))
	for i, id := range obj.pointsFrom {
		edges[i] = m.edges[id]
	}
	return edges
}

// AddEdge inserts the edge src -> dst produced at l. Inserting an existing edge reactivates it and moves it to l.
// A strong edge deactivates the active edges of src whose location dominates l, except those produced at l.
func (m *Model) AddEdge(src Address, dst Address, l loc.Location, s Strength) *Edge {
	m.Initialize(src.Obj, l)
	return m.addEdge(src, dst, l, s)
}

func (m *Model) addEdge(src Address, dst Address, l loc.Location, s Strength) *Edge {
	m.touch(src, l.Ctx)
	fs := m.field(src)
	key := edgeKey{src: src, dst: dst, strength: s}
	var e *Edge
	if id, ok := m.dedup[key]; ok {
		e = m.edges[id]
		e.Loc = l
		e.Status = Active
	} else {
		e = &Edge{ID: EdgeID(len(m.edges)), Src: src, Dst: dst, Loc: l, Strength: s, Status: Active}
		m.edges = append(m.edges, e)
		m.dedup[key] = e.ID
		fs.edges = append(fs.edges, e.ID)
		dstObj := m.Object(dst.Obj)
		dstObj.pointsFrom = append(dstObj.pointsFrom, e.ID)
	}
	if s == Strong {
		for _, id := range fs.edges {
			prev := m.edges[id]
			if prev != e && prev.IsActive() && m.overrides(l, prev.Loc) {
				prev.Status = Inactive
				m.logger.Tracef("strong update %s deactivates %s", e, prev)
			}
		}
	}
	return e
}

// Overwrite records the strong store at l of a value without pointee into the field at a: the active edges of the
// field that l overrides on every path are deactivated.
func (m *Model) Overwrite(a Address, l loc.Location) {
	m.Initialize(a.Obj, l)
	m.touch(a, l.Ctx)
	for _, e := range m.ActiveEdges(a) {
		if m.overrides(l, e.Loc) {
			e.Status = Inactive
		}
	}
}

// overrides returns true if a strong update at l hides the value stored at prev from every later use: prev always
// executes before l, and no path leaves prev without going through l. Other strong updates only block the paths
// they are on, which LiveEdges accounts for.
func (m *Model) overrides(l, prev loc.Location) bool {
	return prev != l && m.order.Dominates(prev, l) && m.order.PostDominates(l, prev)
}

// AddEdges inserts one edge from src to each of dsts, at the same location
func (m *Model) AddEdges(src Address, dsts []Address, l loc.Location, s Strength) []*Edge {
	edges := make([]*Edge, 0, len(dsts))
	for _, d := range dsts {
		edges = append(edges, m.AddEdge(src, d, l, s))
	}
	return edges
}

// Deactivate marks the edge inactive
func (m *Model) Deactivate(id EdgeID) {
	m.edges[id].Status = Inactive
}

// Activate marks the edge active
func (m *Model) Activate(id EdgeID) {
	m.edges[id].Status = Active
}

// touch implements the reset protocol: when a field is used under an entry point different from the one of its last
// use, the edges produced under an entry point are deactivated and the edges produced before any entry point are
// reactivated.
func (m *Model) touch(a Address, ctx loc.ContextID) {
	entry := m.order.Contexts().EntryContext(ctx)
	if entry == loc.PreEntry {
		return
	}
	fs := m.field(a)
	if fs.touched && fs.lastEntry != entry {
		for _, id := range fs.edges {
			e := m.edges[id]
			if e.Loc.Ctx == loc.PreEntry {
				e.Status = Active
			} else {
				e.Status = Inactive
			}
		}
		m.logger.Tracef("reset of %s for entry %s", a, m.order.Contexts().String(entry))
	}
	fs.touched = true
	fs.lastEntry = entry
}

// Root returns the outermost host of o and the bit offset of o in it
func (m *Model) Root(o ObjectID) (ObjectID, int64) {
	var off int64
	cur := m.Object(o)
	for cur.parent != NoObject {
		host := m.Object(cur.parent)
		fo, _ := m.layouts.FieldOffset(host.Type, cur.parentField)
		off += fo
		cur = host
	}
	return cur.ID, off
}

// owner returns the first ancestor of o that is not an embedded field
func (m *Model) owner(o ObjectID) *Object {
	cur := m.Object(o)
	for cur.Kind == KindEmbedded && cur.parent != NoObject {
		cur = m.Object(cur.parent)
	}
	return cur
}

// sortedFields returns the fields of o with edges or embedded objects, sorted
func (m *Model) sortedFields(o *Object) []int {
	seen := map[int]bool{}
	var fields []int
	for f, fs := range o.fields {
		if len(fs.edges) > 0 && !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for f := range o.embeds {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	slices.Sort(fields)
	return fields
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

func sortedKeys(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
