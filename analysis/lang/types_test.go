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

package lang_test

import (
	"go/types"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/stretchr/testify/assert"
)

const typesSrc = `package main

import "unsafe"

type plain struct {
	a int
	b [4]byte
}

type withPtr struct {
	n    int
	next *withPtr
}

type nested struct {
	x  plain
	ys [2]withPtr
}

type handle unsafe.Pointer

type addr uintptr

func main() {}
`

func TestTypePredicates(t *testing.T) {
	_, pkg := analysistest.LoadSource(t, typesSrc)
	plain := analysistest.NamedType(t, pkg, "plain")
	withPtr := analysistest.NamedType(t, pkg, "withPtr")
	nested := analysistest.NamedType(t, pkg, "nested")
	handle := analysistest.NamedType(t, pkg, "handle")
	addr := analysistest.NamedType(t, pkg, "addr")

	tests := []struct {
		name      string
		t         types.Type
		nillable  bool
		aggregate bool
		pointers  bool
	}{
		{"int", types.Typ[types.Int], false, false, false},
		{"plain", plain, false, true, false},
		{"withPtr", withPtr, false, true, true},
		{"nested", nested, false, true, true},
		{"*plain", types.NewPointer(plain), true, false, true},
		{"[]int", types.NewSlice(types.Typ[types.Int]), true, false, true},
		{"handle", handle, true, false, true},
		{"addr", addr, false, false, true},
		{"[3]*int", types.NewArray(types.NewPointer(types.Typ[types.Int]), 3), false, true, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.nillable, lang.IsNillableType(test.t), "nillable")
			assert.Equal(t, test.aggregate, lang.IsAggregate(test.t), "aggregate")
			assert.Equal(t, test.pointers, lang.CarriesPointers(test.t), "carries pointers")
		})
	}
	assert.True(t, lang.IsUnsafePointer(handle))
	assert.True(t, lang.IsUintptr(addr))
	assert.False(t, lang.IsUintptr(types.Typ[types.Int]))
	assert.False(t, lang.IsAggregate(nil))
}

func TestPointeeType(t *testing.T) {
	_, pkg := analysistest.LoadSource(t, typesSrc)
	plain := analysistest.NamedType(t, pkg, "plain")
	m := types.NewMap(types.Typ[types.String], plain)

	assert.True(t, types.Identical(plain, lang.PointeeType(types.NewPointer(plain))))
	assert.True(t, types.Identical(plain, lang.PointeeType(types.NewSlice(plain))))
	assert.True(t, types.Identical(m, lang.PointeeType(m)))
	assert.Nil(t, lang.PointeeType(types.Typ[types.UnsafePointer]))
	assert.Nil(t, lang.PointeeType(types.NewInterfaceType(nil, nil)))
}

func TestFieldNames(t *testing.T) {
	_, pkg := analysistest.LoadSource(t, typesSrc)
	withPtr := analysistest.NamedType(t, pkg, "withPtr")
	assert.Equal(t, "next", lang.GetFieldNameFromType(withPtr, 1))
	assert.Equal(t, "n", lang.GetFieldNameFromType(types.NewPointer(withPtr), 0))
	assert.Equal(t, "?", lang.GetFieldNameFromType(withPtr, 2))
	assert.Equal(t, "?", lang.GetFieldNameFromType(types.Typ[types.Int], 0))
}

func TestTupleIndexType(t *testing.T) {
	i, s := types.Typ[types.Int], types.Typ[types.String]
	tuple := types.NewTuple(types.NewVar(0, nil, "a", i), types.NewVar(0, nil, "b", s))
	assert.Equal(t, s, lang.TupleIndexType(tuple, 1))
	assert.Equal(t, i, lang.TupleIndexType(i, 3))
}
