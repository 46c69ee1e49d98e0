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
)

// Child returns the object embedded at field i of o, creating it if needed. Only aggregate fields have embedded
// objects; the second return value is false for other fields.
func (m *Model) Child(o ObjectID, i int) (ObjectID, bool) {
	obj := m.Object(o)
	if c, ok := obj.embeds[i]; ok {
		return c, true
	}
	if obj.Type == nil {
		return NoObject, false
	}
	ft, ok := m.layouts.FieldType(obj.Type, i)
	if !ok || !lang.IsAggregate(ft) {
		return NoObject, false
	}
	c := m.NewObject(KindEmbedded, ft, nil, obj.Site)
	m.Embed(o, i, c)
	return c, true
}

// Embed links child as the object at field i of host. Linking an object that already has a different host, or a
// field that already has a different child, is a consistency violation.
func (m *Model) Embed(host ObjectID, i int, child ObjectID) {
	h, c := m.Object(host), m.Object(child)
	if c.parent != NoObject && (c.parent != host || c.parentField != i) {
		inconsistent(child, "re-parenting from o%d.%d to o%d.%d", c.parent, c.parentField, host, i)
	}
	if prev, ok := h.embeds[i]; ok && prev != child {
		inconsistent(host, "field %d already embeds o%d, cannot embed o%d", i, prev, child)
	}
	if host == child || m.isAncestor(child, host) {
		inconsistent(child, "embedding cycle with o%d", host)
	}
	h.embeds[i] = child
	c.parent = host
	c.parentField = i
}

func (m *Model) isAncestor(anc ObjectID, o ObjectID) bool {
	for cur := m.Object(o); cur.parent != NoObject; cur = m.Object(cur.parent) {
		if cur.parent == anc {
			return true
		}
	}
	return false
}

// Host returns an object of type t containing o at bit offset off, synthesizing the containing objects if needed.
// The layout of t must place an object of o's type at off. If o is already embedded, the existing hosts must agree
// with the request: distinct structural guesses are refused with ErrParentConflict.
func (m *Model) Host(o ObjectID, t types.Type, off int64) (ObjectID, error) {
	obj := m.Object(o)
	if obj.Type == nil {
		return NoObject, fmt.Errorf("untyped object o%d: %w", o, ErrTypeMismatch)
	}
	path, ok := m.layouts.PathTo(t, off, obj.Type)
	if !ok {
		return NoObject, fmt.Errorf("%s does not contain %s at %d: %w", t, obj.Type, off, ErrTypeMismatch)
	}
	if len(path) == 0 {
		return o, nil
	}
	last := path[len(path)-1]
	if obj.parent != NoObject {
		parent := m.Object(obj.parent)
		pt, _ := m.layouts.TypeAtPath(t, path[:len(path)-1])
		if obj.parentField != last || pt == nil || parent.Type == nil || !sameView(pt, parent.Type) {
			return NoObject, fmt.Errorf("o%d is field %d of %s: %w", o, obj.parentField, parent.Type, ErrParentConflict)
		}
		fo, _ := m.layouts.FieldOffset(parent.Type, last)
		return m.Host(parent.ID, t, off-fo)
	}
	host := m.NewObject(KindHost, t, nil, obj.Site)
	cur := host
	for _, i := range path[:len(path)-1] {
		c, ok := m.Child(cur, i)
		if !ok {
			return NoObject, fmt.Errorf("no embedded object at %d of o%d: %w", i, cur, ErrTypeMismatch)
		}
		cur = c
	}
	m.Embed(cur, last, o)
	m.logger.Debugf("synthesized host %s around %s", m.Object(host), obj)
	return host, nil
}

// Retype returns the address of an object of type t at the same position as a. The object is found in the
// embedding hierarchy of a, or synthesized as a host of a when t places a's object at its start. Untyped objects are
// typed by their first use.
func (m *Model) Retype(a Address, t types.Type) (Address, error) {
	obj := m.Object(a.Obj)
	if t == nil {
		return a, nil
	}
	if obj.Type == nil {
		if a.Field == 0 {
			obj.Type = t
		}
		return a, nil
	}
	if a.Field == 0 && sameView(obj.Type, t) {
		return a, nil
	}
	off, err := m.offsetOf(a)
	if err != nil {
		return a, err
	}
	if r, err := m.locate(a.Obj, off, t); err == nil {
		return r, nil
	}
	// the object may be the start of a larger object of type t
	if off == 0 && lang.IsAggregate(t) {
		root, rootOff := m.Root(a.Obj)
		if root == a.Obj {
			host, err := m.Host(a.Obj, t, 0)
			if err != nil {
				return a, err
			}
			return Address{Obj: host}, nil
		}
		// look for the type among the hosts
		if r, err := m.locate(root, rootOff, t); err == nil {
			return r, nil
		}
	}
	return a, fmt.Errorf("cannot view %s as %s: %w", a, t, ErrTypeMismatch)
}

// offsetOf returns the bit offset of the address in its object
func (m *Model) offsetOf(a Address) (int64, error) {
	if a.Field == 0 {
		return 0, nil
	}
	obj := m.Object(a.Obj)
	if obj.Type == nil {
		return 0, fmt.Errorf("untyped object o%d", a.Obj)
	}
	off, ok := m.layouts.FieldOffset(obj.Type, a.Field)
	if !ok {
		// synthetic fields of maps, channels and closures
		return 0, fmt.Errorf("field %d of %s: %w", a.Field, obj.Type, ErrTypeMismatch)
	}
	return off, nil
}

// locate returns the address of the object or field of type t at bit offset off in o, descending in the embedded
// objects. A nil t accepts any field starting at off.
func (m *Model) locate(o ObjectID, off int64, t types.Type) (Address, error) {
	obj := m.Object(o)
	if off == 0 && (t == nil || (obj.Type != nil && sameView(obj.Type, t))) {
		return Address{Obj: o}, nil
	}
	if obj.Type == nil {
		return Address{}, fmt.Errorf("untyped object o%d: %w", o, ErrTypeMismatch)
	}
	f, ok := m.layouts.OuterAt(obj.Type, off)
	if !ok {
		return Address{}, fmt.Errorf("no field of %s at %d: %w", obj.Type, off, ErrTypeMismatch)
	}
	if lang.IsAggregate(f.Type()) {
		c, _ := m.Child(o, f.OuterIndex())
		return m.locate(c, off-f.BitOffset, t)
	}
	if off != f.BitOffset || (t != nil && !compatible(f.Type(), t)) {
		return Address{}, fmt.Errorf("field %s of %s is not a %s: %w", f, obj.Type, t, ErrTypeMismatch)
	}
	return Address{Obj: o, Field: f.OuterIndex()}, nil
}

// sameView returns true if the types a and b describe the same memory: they are identical, or defined types with
// identical underlying types, such as B and A after "type B A".
func sameView(a, b types.Type) bool {
	return types.Identical(a, b) || types.Identical(a.Underlying(), b.Underlying())
}

// compatible returns true if a value of type a can be viewed as a value of type b in memory
func compatible(a, b types.Type) bool {
	if sameView(a, b) {
		return true
	}
	// pointer-shaped types share their representation
	return lang.IsNillableType(a) && lang.IsNillableType(b) && !isMultiWord(a) && !isMultiWord(b)
}

func isMultiWord(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Slice, *types.Interface:
		return true
	}
	return false
}

// Displace returns the address delta bits away from a, with type t if t is not nil. When the displacement leaves
// the known extent of a's object, the enclosing objects are tried first and then a containing type is searched in
// the module (see SearchContainer).
func (m *Model) Displace(a Address, delta int64, t types.Type, site SearchSite) (Address, error) {
	off, err := m.offsetOf(a)
	if err != nil {
		return a, err
	}
	target := off + delta
	cur := m.Object(a.Obj)
	for {
		if cur.Type != nil && target >= 0 && (target < m.layouts.SizeBits(cur.Type) || target == 0) {
			return m.locate(cur.ID, target, t)
		}
		if cur.parent == NoObject {
			break
		}
		host := m.Object(cur.parent)
		fo, _ := m.layouts.FieldOffset(host.Type, cur.parentField)
		target += fo
		cur = host
	}
	if cur.Type == nil {
		return a, fmt.Errorf("untyped object o%d: %w", cur.ID, ErrNoContainer)
	}
	return m.SearchContainer(cur.ID, target, t, site)
}
