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
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"
)

// A SearchSite describes where a container search is triggered
type SearchSite struct {
	// Base is the value the displaced address is derived from
	Base ssa.Value
	// Fn is the function performing the displacement
	Fn *ssa.Function
	// FieldName is the name of the field the base value refers to, if it is a field address
	FieldName string
}

type failureKey struct {
	base   ssa.Value
	typ    string
	offset int64
}

// FailureCache records the container searches that failed. A failed search is never retried for the same base
// value, object type and offset.
type FailureCache struct {
	failed map[failureKey]bool
}

// NewFailureCache returns an empty cache
func NewFailureCache() *FailureCache {
	return &FailureCache{failed: map[failureKey]bool{}}
}

func (c *FailureCache) key(base ssa.Value, t types.Type, off int64) failureKey {
	return failureKey{base: base, typ: types.TypeString(t, nil), offset: off}
}

// Failed returns true if the search for a container of t at off from base failed before
func (c *FailureCache) Failed(base ssa.Value, t types.Type, off int64) bool {
	return c.failed[c.key(base, t, off)]
}

// Add records a failed search
func (c *FailureCache) Add(base ssa.Value, t types.Type, off int64) {
	c.failed[c.key(base, t, off)] = true
}

// Len returns the number of failures recorded
func (c *FailureCache) Len() int {
	return len(c.failed)
}

// A Candidate is a container type placing an object of the searched type at Offset
type Candidate struct {
	Type   types.Type
	Offset int64
	// Field is the name of the field at Offset
	Field string
	Score float64
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s@%d(%s) %.2f", c.Type, c.Offset, c.Field, c.Score)
}

// SearchContainer finds a container type for the object o such that the bit offset off from the start of o is a
// field of type t in the container. The candidates are ranked by usage in the function of the search site, by
// matching of the name of the field at the base, then by size (smaller first). The best candidate is committed to:
// a host object of that type is synthesized around o.
func (m *Model) SearchContainer(o ObjectID, off int64, t types.Type, site SearchSite) (Address, error) {
	obj := m.Object(o)
	if m.failures.Failed(site.Base, obj.Type, off) {
		return Address{}, ErrNoContainer
	}
	candidates := m.Candidates(obj.Type, off, t, site)
	for _, c := range candidates {
		host, err := m.Host(o, c.Type, c.Offset)
		if err != nil {
			m.logger.Debugf("container candidate %s refused: %v", c, err)
			continue
		}
		a, err := m.locate(host, c.Offset+off, t)
		if err != nil {
			continue
		}
		m.logger.Debugf("container of %s at %d: %s", obj, off, c)
		return a, nil
	}
	m.failures.Add(site.Base, obj.Type, off)
	m.logger.Debugf("no container of %s at offset %d from %v", obj.Type, off, site.Base)
	return Address{}, ErrNoContainer
}

// Candidates returns the ranked container candidates of an object of type inner, for a field of type t (any type if
// nil) at offset off from the object.
func (m *Model) Candidates(inner types.Type, off int64, t types.Type, site SearchSite) []Candidate {
	var candidates []Candidate
	limit := m.options.MaxContainerCandidates
	for _, ct := range m.containers {
		if types.Identical(ct, inner) {
			continue
		}
		for _, k := range m.offsetsOf(ct, inner, 0) {
			pos := k + off
			if pos < 0 || pos >= m.layouts.SizeBits(ct) {
				continue
			}
			if _, err := m.probe(ct, pos, t); err != nil {
				continue
			}
			candidates = append(candidates, Candidate{Type: ct, Offset: k, Field: m.fieldNameAt(ct, k)})
			if limit > 0 && len(candidates) >= limit {
				break
			}
		}
		if limit > 0 && len(candidates) >= limit {
			m.logger.Debugf("container search for %s truncated at %d candidates", inner, limit)
			break
		}
	}
	m.rank(candidates, site)
	return candidates
}

// probe checks, without creating objects, that the type ct has a field of type t at pos
func (m *Model) probe(ct types.Type, pos int64, t types.Type) (types.Type, error) {
	if t != nil {
		if _, ok := m.layouts.PathTo(ct, pos, t); ok {
			return t, nil
		}
		if leaf, ok := m.layouts.LocateByBitOffset(ct, pos); ok && compatible(leaf.Type(), t) {
			return leaf.Type(), nil
		}
		return nil, ErrTypeMismatch
	}
	if leaf, ok := m.layouts.LocateByBitOffset(ct, pos); ok {
		return leaf.Type(), nil
	}
	if f, ok := m.layouts.OuterAt(ct, pos); ok && f.BitOffset == pos {
		return f.Type(), nil
	}
	return nil, ErrTypeMismatch
}

// offsetsOf returns the bit offsets of the (possibly nested) fields of type inner in t
func (m *Model) offsetsOf(t types.Type, inner types.Type, base int64) []int64 {
	table, err := m.layouts.Table(t)
	if err != nil {
		return nil
	}
	var offsets []int64
	for _, f := range table.Outer {
		if types.Identical(f.Type(), inner) {
			offsets = append(offsets, base+f.BitOffset)
		} else if lang.IsAggregate(f.Type()) {
			offsets = append(offsets, m.offsetsOf(f.Type(), inner, base+f.BitOffset)...)
		}
	}
	return offsets
}

func (m *Model) fieldNameAt(t types.Type, off int64) string {
	f, ok := m.layouts.OuterAt(t, off)
	if !ok {
		return ""
	}
	name := lang.GetFieldNameFromType(t, f.OuterIndex())
	if off != f.BitOffset && lang.IsAggregate(f.Type()) {
		if inner := m.fieldNameAt(f.Type(), off-f.BitOffset); inner != "" {
			return inner
		}
	}
	return name
}

func (m *Model) rank(candidates []Candidate, site SearchSite) {
	if len(candidates) == 0 {
		return
	}
	w := m.options.ContainerRanking
	var maxSize int64
	for _, c := range candidates {
		if s := m.layouts.SizeBits(c.Type); s > maxSize {
			maxSize = s
		}
	}
	used := m.typesUsedBy(site.Fn)
	for i := range candidates {
		c := &candidates[i]
		if used != nil && used.At(c.Type) != nil {
			c.Score += float64(w.Usage)
		}
		if site.FieldName != "" && c.Field == site.FieldName {
			c.Score += float64(w.Name)
		}
		c.Score += float64(w.Size) * (1 - float64(m.layouts.SizeBits(c.Type))/float64(maxSize+1))
	}
	slices.SortStableFunc(candidates, func(a, b Candidate) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Type.String() < b.Type.String()
	})
}

// typesUsedBy returns the set of types appearing in the values of fn
func (m *Model) typesUsedBy(fn *ssa.Function) *typeutil.Map {
	if fn == nil {
		return nil
	}
	if used, ok := m.usedTypes[fn]; ok {
		return used
	}
	used := &typeutil.Map{}
	var add func(t types.Type)
	add = func(t types.Type) {
		if t == nil || used.At(t) != nil {
			return
		}
		used.Set(t, true)
		switch tt := t.(type) {
		case *types.Pointer:
			add(tt.Elem())
		case *types.Slice:
			add(tt.Elem())
		case *types.Array:
			add(tt.Elem())
		case *types.Tuple:
			for i := 0; i < tt.Len(); i++ {
				add(tt.At(i).Type())
			}
		}
	}
	lang.IterateValues(fn, func(_ int, v ssa.Value) {
		if v != nil {
			add(v.Type())
		}
	})
	m.usedTypes[fn] = used
	return used
}
