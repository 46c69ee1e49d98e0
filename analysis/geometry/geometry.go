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

// Package geometry computes the layout of aggregate types: for a struct or an array type, a flattened table of
// field descriptors ordered by bit offset. The tables are computed with the data layout of a target architecture
// (types.Sizes) and memoized per type for the lifetime of a Layouts value.
package geometry

import (
	"errors"
	"fmt"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/types/typeutil"
)

// ErrNoLayout is returned for types that have no field: opaque types, scalars and zero-field aggregates.
var ErrNoLayout = errors.New("type has no field layout")

// DefaultMaxElements is the number of array elements replicated in a table when no bound is provided
const DefaultMaxElements = 64

// A Field describes one field of an aggregate type T.
type Field struct {
	// BitOffset is the cumulative offset of the field from the start of T, in bits
	BitOffset int64

	// BitSize is the size of the field, in bits
	BitSize int64

	// Path is the sequence of field (struct) and element (array) indices leading from T to the field.
	// Path[0] is the index of the outer field of T containing this field.
	Path []int

	// TypeChain is the leaf-ward chain of types along Path: TypeChain[i] is the type reached after Path[:i+1].
	TypeChain []types.Type

	// HostChain is the chain of aggregate types containing the field, outermost (T) to innermost.
	HostChain []types.Type
}

// OuterIndex returns the index of the field of T that contains f
func (f Field) OuterIndex() int {
	return f.Path[0]
}

// Type returns the type of the field
func (f Field) Type() types.Type {
	return f.TypeChain[len(f.TypeChain)-1]
}

// Host returns the innermost aggregate type containing the field
func (f Field) Host() types.Type {
	return f.HostChain[len(f.HostChain)-1]
}

// Depth returns the nesting depth of the field; fields of T have depth 1
func (f Field) Depth() int {
	return len(f.Path)
}

func (f Field) String() string {
	path := make([]string, len(f.Path))
	for i, p := range f.Path {
		path[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("@%d[%s] %s", f.BitOffset, strings.Join(path, "."), f.Type())
}

// A Table is the layout of one aggregate type
type Table struct {
	// Type is the aggregate type
	Type types.Type

	// SizeBits is the size of the type in bits
	SizeBits int64

	// Leaves are the non-aggregate, non-empty fields of Type, sorted by bit offset. Nested aggregates are flattened.
	Leaves []Field

	// Outer contains one descriptor per field (struct) or replicated element (array) of Type
	Outer []Field

	// Truncated is true when an array had more elements than the replication bound; the elements past the bound
	// are not in the table
	Truncated bool
}

// Layouts computes and memoizes type tables for one data layout
type Layouts struct {
	sizes       types.Sizes
	maxElements int
	tables      typeutil.Map // types.Type -> *tableEntry
}

type tableEntry struct {
	table *Table
	err   error
}

// NewLayouts returns a memoizing layout oracle using sizes. Arrays are replicated up to maxElements elements.
func NewLayouts(sizes types.Sizes, maxElements int) *Layouts {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &Layouts{sizes: sizes, maxElements: maxElements}
}

// ForArch returns the layout oracle of the gc compiler for the architecture arch. Unknown architectures use amd64.
func ForArch(arch string, maxElements int) *Layouts {
	sizes := types.SizesFor("gc", arch)
	if sizes == nil {
		sizes = types.SizesFor("gc", "amd64")
	}
	return NewLayouts(sizes, maxElements)
}

// Sizes returns the data layout used by the oracle
func (l *Layouts) Sizes() types.Sizes {
	return l.sizes
}

// MaxElements returns the number of array elements replicated in tables
func (l *Layouts) MaxElements() int {
	return l.maxElements
}

// SizeBits returns the size of t in bits
func (l *Layouts) SizeBits(t types.Type) int64 {
	return l.sizes.Sizeof(t) * 8
}

// Table returns the layout table of t. If t has no field, it returns an empty table and ErrNoLayout.
func (l *Layouts) Table(t types.Type) (*Table, error) {
	if t == nil {
		return &Table{}, ErrNoLayout
	}
	if e, ok := l.tables.At(t).(*tableEntry); ok {
		return e.table, e.err
	}
	table := l.build(t)
	var err error
	if len(table.Outer) == 0 {
		err = ErrNoLayout
	}
	l.tables.Set(t, &tableEntry{table: table, err: err})
	return table, err
}

func (l *Layouts) build(t types.Type) *Table {
	table := &Table{Type: t}
	switch tt := t.Underlying().(type) {
	case *types.Struct:
		table.SizeBits = l.SizeBits(t)
		if tt.NumFields() == 0 {
			return table
		}
		fields := make([]*types.Var, tt.NumFields())
		for i := range fields {
			fields[i] = tt.Field(i)
		}
		offsets := l.sizes.Offsetsof(fields)
		for i, f := range fields {
			l.addOuter(table, t, i, offsets[i]*8, f.Type())
		}
	case *types.Array:
		table.SizeBits = l.SizeBits(t)
		n := tt.Len()
		if n > int64(l.maxElements) {
			n = int64(l.maxElements)
			table.Truncated = true
		}
		stride := l.sizes.Sizeof(tt.Elem()) * 8
		for i := int64(0); i < n; i++ {
			l.addOuter(table, t, int(i), i*stride, tt.Elem())
		}
	default:
		return table
	}
	sort.SliceStable(table.Leaves, func(i, j int) bool {
		return table.Leaves[i].BitOffset < table.Leaves[j].BitOffset
	})
	return table
}

// addOuter adds the descriptor of the outer field index of t, of type ft at bit offset off, and splices the leaves
// of ft if it is an aggregate.
func (l *Layouts) addOuter(table *Table, t types.Type, index int, off int64, ft types.Type) {
	outer := Field{
		BitOffset: off,
		BitSize:   l.SizeBits(ft),
		Path:      []int{index},
		TypeChain: []types.Type{ft},
		HostChain: []types.Type{t},
	}
	table.Outer = append(table.Outer, outer)
	if !isAggregate(ft) {
		if outer.BitSize > 0 {
			table.Leaves = append(table.Leaves, outer)
		}
		return
	}
	nested, _ := l.Table(ft)
	if nested.Truncated {
		table.Truncated = true
	}
	for _, leaf := range nested.Leaves {
		table.Leaves = append(table.Leaves, Field{
			BitOffset: off + leaf.BitOffset,
			BitSize:   leaf.BitSize,
			Path:      append([]int{index}, leaf.Path...),
			TypeChain: append([]types.Type{ft}, leaf.TypeChain...),
			HostChain: append([]types.Type{t}, leaf.HostChain...),
		})
	}
}

// LocateByIndex returns the descriptor of the outer field i of t
func (l *Layouts) LocateByIndex(t types.Type, i int) (Field, bool) {
	table, err := l.Table(t)
	if err != nil || i < 0 || i >= len(table.Outer) {
		return Field{}, false
	}
	return table.Outer[i], true
}

// LocateByBitOffset returns the leaf descriptor of t starting exactly at bit offset off
func (l *Layouts) LocateByBitOffset(t types.Type, off int64) (Field, bool) {
	table, err := l.Table(t)
	if err != nil {
		return Field{}, false
	}
	i := sort.Search(len(table.Leaves), func(i int) bool { return table.Leaves[i].BitOffset >= off })
	if i < len(table.Leaves) && table.Leaves[i].BitOffset == off {
		return table.Leaves[i], true
	}
	return Field{}, false
}

// LocateContaining returns the leaf descriptor of t whose bits contain the bit offset off
func (l *Layouts) LocateContaining(t types.Type, off int64) (Field, bool) {
	table, err := l.Table(t)
	if err != nil {
		return Field{}, false
	}
	i := sort.Search(len(table.Leaves), func(i int) bool { return table.Leaves[i].BitOffset > off })
	if i == 0 {
		return Field{}, false
	}
	leaf := table.Leaves[i-1]
	if off < leaf.BitOffset+leaf.BitSize {
		return leaf, true
	}
	return Field{}, false
}

// FieldType returns the type of the outer field i of t
func (l *Layouts) FieldType(t types.Type, i int) (types.Type, bool) {
	f, ok := l.LocateByIndex(t, i)
	if !ok {
		return nil, false
	}
	return f.Type(), true
}

// FieldOffset returns the bit offset of the outer field i of t
func (l *Layouts) FieldOffset(t types.Type, i int) (int64, bool) {
	f, ok := l.LocateByIndex(t, i)
	if !ok {
		return 0, false
	}
	return f.BitOffset, true
}

// NumFields returns the number of outer fields of t (replicated elements for arrays)
func (l *Layouts) NumFields(t types.Type) int {
	table, _ := l.Table(t)
	return len(table.Outer)
}

// OuterAt returns the outer field of t whose bits contain the bit offset off
func (l *Layouts) OuterAt(t types.Type, off int64) (Field, bool) {
	table, err := l.Table(t)
	if err != nil {
		return Field{}, false
	}
	for _, f := range table.Outer {
		if f.BitOffset <= off && (off < f.BitOffset+f.BitSize || (f.BitSize == 0 && off == f.BitOffset)) {
			return f, true
		}
	}
	return Field{}, false
}

// PathTo returns the path of indices leading from outer to a field of type inner starting at bit offset off. The
// empty path is returned when off is 0 and outer is identical to inner. When several nested fields of type inner
// start at off, the outermost one is returned.
func (l *Layouts) PathTo(outer types.Type, off int64, inner types.Type) ([]int, bool) {
	if off == 0 && types.Identical(outer, inner) {
		return []int{}, true
	}
	f, ok := l.OuterAt(outer, off)
	if !ok {
		return nil, false
	}
	rest, ok := l.PathTo(f.Type(), off-f.BitOffset, inner)
	if !ok {
		return nil, false
	}
	return append([]int{f.OuterIndex()}, rest...), true
}

// TypeAtPath returns the type reached from t following path
func (l *Layouts) TypeAtPath(t types.Type, path []int) (types.Type, bool) {
	cur := t
	for _, i := range path {
		next, ok := l.FieldType(cur, i)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ElementStride returns the size in bits of the elements of t if t is an array
func (l *Layouts) ElementStride(t types.Type) (int64, bool) {
	if arr, ok := t.Underlying().(*types.Array); ok {
		return l.SizeBits(arr.Elem()), true
	}
	return 0, false
}

// Contains returns true if inner is the type of some (possibly nested) field of outer, or outer itself
func (l *Layouts) Contains(outer types.Type, inner types.Type) bool {
	if types.Identical(outer, inner) {
		return true
	}
	table, err := l.Table(outer)
	if err != nil {
		return false
	}
	for _, f := range table.Outer {
		if l.Contains(f.Type(), inner) {
			return true
		}
	}
	return false
}

func isAggregate(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Struct, *types.Array:
		return true
	default:
		return false
	}
}
