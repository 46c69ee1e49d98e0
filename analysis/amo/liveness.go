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
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/loc"
)

// A PlaceholderFactory provides the placeholder object for the field at a, when one is synthesized at l with type t.
// It returns NoObject to let the model create a fresh placeholder.
type PlaceholderFactory func(a Address, t types.Type, l loc.Location) ObjectID

// SetPlaceholderFactory sets the factory consulted before synthesizing a placeholder
func (m *Model) SetPlaceholderFactory(f PlaceholderFactory) {
	m.factory = f
}

// LiveEdges returns the active edges of the field at a whose location reaches use without going through a strong
// update of the same field.
func (m *Model) LiveEdges(a Address, use loc.Location) []*Edge {
	m.touch(a, use.Ctx)
	active := m.ActiveEdges(a)
	if len(active) == 0 {
		return nil
	}
	var blockers []loc.Location
	for _, e := range active {
		if e.Strength == Strong {
			blockers = append(blockers, e.Loc)
		}
	}
	var live []*Edge
	for _, e := range active {
		if m.order.Reaches(e.Loc, use, blockers) {
			live = append(live, e)
		}
	}
	return live
}

// Pointees returns the live edges of the field at a, at use. If the live edges do not cover every path from the
// entry of the function to use, and the field may hold a value set outside of the analyzed code, one placeholder
// pointee is synthesized with type hint (or the pointee type of the field when hint is nil). The placeholder edge is
// a strong edge at the entry of the function.
func (m *Model) Pointees(a Address, use loc.Location, hint types.Type) []*Edge {
	live := m.LiveEdges(a, use)
	if !m.Synthesizable(a.Obj) {
		return live
	}
	if len(live) > 0 {
		anchors := make([]loc.Location, len(live))
		for i, e := range live {
			anchors[i] = e.Loc
		}
		if m.order.EntryCovered(use, anchors) {
			return live
		}
	}
	if e := m.synthesize(a, use, hint); e != nil {
		live = append(live, e)
	}
	return live
}

// Synthesizable returns true if the fields of o may hold values that were not stored by the analyzed code
func (m *Model) Synthesizable(o ObjectID) bool {
	owner := m.owner(o)
	return !owner.Kind.Zeroed() && !owner.Const
}

// FieldValueType returns the type of the values stored in the field at a, or nil if it is not known
func (m *Model) FieldValueType(a Address) types.Type {
	t := m.Object(a.Obj).Type
	if t == nil {
		return nil
	}
	switch tt := t.Underlying().(type) {
	case *types.Struct, *types.Array:
		ft, _ := m.layouts.FieldType(t, a.Field)
		return ft
	case *types.Map:
		if a.Field == MapKeys {
			return tt.Key()
		}
		return tt.Elem()
	case *types.Chan:
		return tt.Elem()
	case *types.Signature:
		return nil
	}
	if a.Field == 0 {
		return t
	}
	return nil
}

// synthesize creates the placeholder edge of the field at a for a use at use
func (m *Model) synthesize(a Address, use loc.Location, hint types.Type) *Edge {
	t := hint
	if t == nil {
		if vt := m.FieldValueType(a); vt != nil {
			t = lang.PointeeType(vt)
		}
	}
	anchor := loc.PreEntryLocation
	if !use.IsPreEntry() {
		anchor = loc.EntryOf(m.order.Contexts().Function(use.Ctx), use.Ctx)
		if anchor.Fn == nil {
			anchor.Fn = use.Fn
		}
	}
	p := NoObject
	if m.factory != nil {
		p = m.factory(a, t, use)
	}
	if p == NoObject {
		p = m.placeholderOf(a, t)
	}
	if p == NoObject {
		p = m.NewObject(KindPlaceholder, t, nil, use.Instr)
		m.field(a).placeholder = p
	}
	e := m.addEdge(a, Address{Obj: p}, anchor, Strong)
	m.logger.Tracef("synthesized %s for %s at %s", m.Object(p), a, use)
	m.backLink(a, p, anchor)
	return e
}

// placeholderOf returns the placeholder previously synthesized for the field at a, if its type is compatible
func (m *Model) placeholderOf(a Address, t types.Type) ObjectID {
	fs := m.field(a)
	if fs.placeholder == NoObject {
		return NoObject
	}
	pt := m.Object(fs.placeholder).Type
	if pt == nil || t == nil || types.Identical(pt, t) {
		return fs.placeholder
	}
	return NoObject
}

// backLink handles the doubly linked structures: when p is synthesized at a self-typed pointer field of a struct
// with exactly two such fields, the other field of p points back at the host of a.
func (m *Model) backLink(a Address, p ObjectID, at loc.Location) {
	host := m.Object(a.Obj)
	placeholder := m.Object(p)
	if host.Type == nil || placeholder.Type == nil || !types.Identical(host.Type, placeholder.Type) {
		return
	}
	st, ok := host.Type.Underlying().(*types.Struct)
	if !ok {
		return
	}
	var selfFields []int
	for i := 0; i < st.NumFields(); i++ {
		if ptr, ok := st.Field(i).Type().Underlying().(*types.Pointer); ok && types.Identical(ptr.Elem(), host.Type) {
			selfFields = append(selfFields, i)
		}
	}
	if len(selfFields) != 2 || (selfFields[0] != a.Field && selfFields[1] != a.Field) {
		return
	}
	other := selfFields[0]
	if other == a.Field {
		other = selfFields[1]
	}
	back := Address{Obj: p, Field: other}
	if len(m.ActiveEdges(back)) > 0 {
		return
	}
	m.addEdge(back, Address{Obj: a.Obj}, at, Strong)
}
