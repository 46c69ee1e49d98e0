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
	"fmt"
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/loc"
)

// Duplicate creates a new object of kind k with the points-to and taint facts of o that are live at l
func (m *Model) Duplicate(o ObjectID, k Kind, l loc.Location) ObjectID {
	src := m.Object(o)
	d := m.NewObject(k, src.Type, nil, l.Instr)
	m.copyInto(d, o, l, Strong)
	return d
}

// Merge folds the facts of src that are live at l into dst, with strength s. Both objects must have the same type,
// unless one is untyped.
func (m *Model) Merge(dst ObjectID, src ObjectID, l loc.Location, s Strength) error {
	if dst == src {
		return nil
	}
	d, o := m.Object(dst), m.Object(src)
	if d.Type != nil && o.Type != nil && !sameView(d.Type, o.Type) {
		return fmt.Errorf("merging %s into %s: %w", o.Type, d.Type, ErrTypeMismatch)
	}
	if d.Type == nil {
		d.Type = o.Type
	}
	m.copyInto(dst, src, l, s)
	return nil
}

// copyFields returns the fields of src whose facts are copied: the fields with edges, the embedded objects and
// every field of its type.
func (m *Model) copyFields(src *Object) []int {
	fields := m.sortedFields(src)
	if src.Type == nil {
		return fields
	}
	table, err := m.layouts.Table(src.Type)
	if err != nil {
		return fields
	}
	known := map[int]bool{}
	for _, f := range fields {
		known[f] = true
	}
	for _, f := range table.Outer {
		if i := f.OuterIndex(); !known[i] {
			known[i] = true
			fields = append(fields, i)
		}
	}
	return fields
}

func (m *Model) copyInto(dst ObjectID, src ObjectID, l loc.Location, s Strength) {
	o := m.Object(src)
	for _, f := range m.copyFields(o) {
		if child, ok := o.embeds[f]; ok {
			if dc, ok := m.Child(dst, f); ok {
				m.copyInto(dc, child, l, s)
			}
			continue
		}
		ft, typed := m.layouts.FieldType(o.Type, f)
		if typed && lang.IsAggregate(ft) {
			// aggregate field never accessed in src
			continue
		}
		from, to := Address{Obj: src, Field: f}, Address{Obj: dst, Field: f}
		if !typed || lang.IsNillableType(ft) {
			m.copyEdges(from, to, typed, l, s)
		}
		for _, flag := range m.tracker.LiveFlags(from, l) {
			m.tracker.CopyFlag(flag, to, l)
		}
	}
}

func (m *Model) copyEdges(from Address, to Address, typed bool, l loc.Location, s Strength) {
	var edges []*Edge
	if typed && m.Synthesizable(from.Obj) {
		edges = m.Pointees(from, l, nil)
	} else {
		edges = m.LiveEdges(from, l)
	}
	if len(edges) == 0 && s == Strong {
		m.Overwrite(to, l)
	}
	for _, e := range edges {
		m.AddEdge(to, e.Dst, l, s)
	}
}

// Collapse folds the elements of the array object o into its element 0, with weak updates at l. The facts of the
// other elements keep their locations. After the collapse, element 0 stands for every element of o.
func (m *Model) Collapse(o ObjectID, l loc.Location) {
	obj := m.Object(o)
	if obj.collapsed || obj.Type == nil {
		return
	}
	at, ok := obj.Type.Underlying().(*types.Array)
	if !ok {
		return
	}
	obj.collapsed = true
	if lang.IsAggregate(at.Elem()) {
		first, ok := m.Child(o, 0)
		if !ok {
			return
		}
		for _, f := range m.sortedFields(obj) {
			if child, ok := obj.embeds[f]; ok && f != 0 {
				m.copyInto(first, child, l, Weak)
			}
		}
		return
	}
	first := Address{Obj: o}
	for _, f := range m.sortedFields(obj) {
		if f == 0 {
			continue
		}
		from := Address{Obj: o, Field: f}
		for _, e := range m.ActiveEdges(from) {
			m.AddEdge(first, e.Dst, e.Loc, Weak)
		}
		for _, flag := range m.tracker.LiveFlags(from, l) {
			m.tracker.CopyFlag(flag, first, l)
		}
	}
	m.logger.Debugf("collapsed the elements of %s", obj)
}

// Collapsed returns true if the elements of the array object o are represented by its element 0
func (m *Model) Collapsed(o ObjectID) bool {
	return m.Object(o).collapsed
}

// MarkTaintSource marks o as a source. The mark is fanned out to the taint tracker for every field of o known at
// this point, and to the embedded objects.
func (m *Model) MarkTaintSource(o ObjectID, mark TaintMark, l loc.Location) {
	obj := m.Object(o)
	if mark > obj.Taint {
		obj.Taint = mark
	}
	fields := map[int]bool{0: true}
	for f := range obj.fields {
		fields[f] = true
	}
	if obj.Type != nil {
		if table, err := m.layouts.Table(obj.Type); err == nil {
			for _, f := range table.Outer {
				fields[f.OuterIndex()] = true
			}
		}
	}
	for _, f := range sortedKeys(fields) {
		if child, ok := obj.embeds[f]; ok {
			m.MarkTaintSource(child, mark, l)
			continue
		}
		if ft, ok := m.layouts.FieldType(obj.Type, f); ok && lang.IsAggregate(ft) {
			if child, ok := m.Child(o, f); ok {
				m.MarkTaintSource(child, mark, l)
			}
			continue
		}
		m.tracker.MarkSource(Address{Obj: o, Field: f}, mark, l)
	}
}
