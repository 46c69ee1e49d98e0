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

package lang

import (
	"go/types"
)

// IsNillableType returns true if t is a type that can have the nil value.
func IsNillableType(t types.Type) bool {
	switch t.(type) {
	case *types.Pointer, *types.Interface, *types.Slice, *types.Map, *types.Chan:
		return true
	case *types.Named:
		return IsNillableType(t.Underlying())
	case *types.Signature:
		return true
	case *types.Basic:
		return t.(*types.Basic).Kind() == types.UnsafePointer
	default:
		return false
	}
}

// IsUnsafePointer returns true if t is unsafe.Pointer
func IsUnsafePointer(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.UnsafePointer
}

// IsUintptr returns true if t is uintptr
func IsUintptr(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.Uintptr
}

// IsAggregate returns true if t is a struct or an array type. Values of aggregate types occupy memory that may
// contain several pointers.
func IsAggregate(t types.Type) bool {
	if t == nil {
		return false
	}
	switch t.Underlying().(type) {
	case *types.Struct, *types.Array:
		return true
	default:
		return false
	}
}

// CarriesPointers returns true if a value of type t may hold an address the points-to engine tracks: nillable types,
// uintptr (pointer arithmetic), aggregates containing those, and tuples containing those.
func CarriesPointers(t types.Type) bool {
	return carriesPointers(t, map[types.Type]bool{})
}

func carriesPointers(t types.Type, seen map[types.Type]bool) bool {
	if t == nil || seen[t] {
		return false
	}
	seen[t] = true
	if IsNillableType(t) || IsUintptr(t) {
		return true
	}
	switch tt := t.Underlying().(type) {
	case *types.Struct:
		for i := 0; i < tt.NumFields(); i++ {
			if carriesPointers(tt.Field(i).Type(), seen) {
				return true
			}
		}
	case *types.Array:
		return carriesPointers(tt.Elem(), seen)
	case *types.Tuple:
		for i := 0; i < tt.Len(); i++ {
			if carriesPointers(tt.At(i).Type(), seen) {
				return true
			}
		}
	}
	return false
}

// PointeeType returns the type of the memory a value of type t refers to: the element of a pointer, the element of
// a slice (the backing array element), the map or channel type itself (modeled objects), or nil for types that do not
// refer to memory directly (interfaces, unsafe.Pointer, functions).
func PointeeType(t types.Type) types.Type {
	switch tt := t.Underlying().(type) {
	case *types.Pointer:
		return tt.Elem()
	case *types.Slice:
		return tt.Elem()
	case *types.Map, *types.Chan:
		return t
	default:
		return nil
	}
}

// GetFieldNameFromType returns the name of field i if t is a struct or pointer to a struct
// if it cannot find a proper field name, returns "?"
func GetFieldNameFromType(t types.Type, i int) string {
	switch typ := t.Underlying().(type) {
	case *types.Pointer:
		return GetFieldNameFromType(typ.Elem(), i)
	case *types.Struct:
		if 0 <= i && i < typ.NumFields() {
			return typ.Field(i).Name()
		}
		return "?"
	default:
		return "?"
	}
}

// TupleIndexType returns the type of the ith element of v if v is a tuple, or v itself otherwise
func TupleIndexType(v types.Type, i int) types.Type {
	if tt, ok := v.(*types.Tuple); ok && i < tt.Len() {
		return tt.At(i).Type()
	}
	return v
}
