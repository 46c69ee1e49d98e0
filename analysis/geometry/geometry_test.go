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

package geometry

import (
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStruct(names []string, typs []types.Type) *types.Struct {
	fields := make([]*types.Var, len(names))
	for i, name := range names {
		fields[i] = types.NewField(0, nil, name, typs[i], false)
	}
	return types.NewStruct(fields, nil)
}

func named(name string, underlying types.Type) *types.Named {
	obj := types.NewTypeName(0, nil, name, nil)
	return types.NewNamed(obj, underlying, nil)
}

// listHead is struct { next, prev *listHead }
func listHead() *types.Named {
	n := named("listHead", nil)
	ptr := types.NewPointer(n)
	n.SetUnderlying(newStruct([]string{"next", "prev"}, []types.Type{ptr, ptr}))
	return n
}

// device is struct { id int32; flags uint8; list listHead; regs [3]uint16; data unsafe.Pointer }
func device() *types.Named {
	return named("device", newStruct(
		[]string{"id", "flags", "list", "regs", "data"},
		[]types.Type{
			types.Typ[types.Int32],
			types.Typ[types.Uint8],
			listHead(),
			types.NewArray(types.Typ[types.Uint16], 3),
			types.Typ[types.UnsafePointer],
		}))
}

func TestTableOffsets(t *testing.T) {
	l := ForArch("amd64", 0)
	dev := device()
	table, err := l.Table(dev)
	require.NoError(t, err)
	require.Len(t, table.Outer, 5)
	// id @0, flags @32, list @64 (8-byte aligned), regs @192, data @256
	offsets := []int64{0, 32, 64, 192, 256}
	for i, off := range offsets {
		assert.Equal(t, off, table.Outer[i].BitOffset, "outer field %d", i)
	}
	// id, flags, list.next, list.prev, regs[0..2], data
	require.Len(t, table.Leaves, 8)
	next := table.Leaves[2]
	assert.Equal(t, []int{2, 0}, next.Path)
	assert.Equal(t, int64(64), next.BitOffset)
	assert.Equal(t, dev.Underlying().(*types.Struct).Field(2).Type(), next.Host())
	assert.Equal(t, dev, next.HostChain[0])
	reg2 := table.Leaves[6]
	assert.Equal(t, []int{3, 2}, reg2.Path)
	assert.Equal(t, int64(192+32), reg2.BitOffset)
	assert.Equal(t, int64(320), table.SizeBits)
}

func TestGeometryRoundTrip(t *testing.T) {
	l := ForArch("amd64", 0)
	for _, typ := range []types.Type{device(), listHead(), types.NewArray(device(), 2)} {
		table, err := l.Table(typ)
		require.NoError(t, err)
		for _, d := range table.Leaves {
			found, ok := l.LocateByBitOffset(typ, d.BitOffset)
			require.True(t, ok, "leaf %v of %v not found by offset", d, typ)
			assert.Equal(t, d, found)
			outer, ok := l.LocateByIndex(typ, d.OuterIndex())
			require.True(t, ok)
			assert.Equal(t, typ, outer.Host(), "host chain of outer field should end with the table type")
		}
	}
}

func TestLocateContaining(t *testing.T) {
	l := ForArch("amd64", 0)
	dev := device()
	f, ok := l.LocateContaining(dev, 16)
	require.True(t, ok)
	assert.Equal(t, []int{0}, f.Path)
	_, ok = l.LocateContaining(dev, 48) // padding between flags and list
	assert.False(t, ok)
	_, ok = l.LocateByBitOffset(dev, 8)
	assert.False(t, ok)
}

func TestPathTo(t *testing.T) {
	l := ForArch("amd64", 0)
	dev := device()
	lh := dev.Underlying().(*types.Struct).Field(2).Type()
	path, ok := l.PathTo(dev, 64, lh)
	require.True(t, ok)
	assert.Equal(t, []int{2}, path)
	path, ok = l.PathTo(dev, 128, types.NewPointer(lh))
	require.True(t, ok)
	assert.Equal(t, []int{2, 1}, path)
	path, ok = l.PathTo(dev, 0, dev)
	require.True(t, ok)
	assert.Empty(t, path)
	_, ok = l.PathTo(dev, 32, lh)
	assert.False(t, ok)
	assert.True(t, l.Contains(dev, lh))
	assert.False(t, l.Contains(lh, dev))
}

func TestOpaqueAndEmpty(t *testing.T) {
	l := ForArch("amd64", 0)
	table, err := l.Table(types.Typ[types.UnsafePointer])
	assert.ErrorIs(t, err, ErrNoLayout)
	assert.Empty(t, table.Leaves)
	table, err = l.Table(types.NewStruct(nil, nil))
	assert.ErrorIs(t, err, ErrNoLayout)
	assert.Empty(t, table.Outer)
	_, err = l.Table(nil)
	assert.ErrorIs(t, err, ErrNoLayout)
	_, ok := l.LocateByIndex(types.Typ[types.Int], 0)
	assert.False(t, ok)
}

func TestArrayTruncation(t *testing.T) {
	l := ForArch("amd64", 4)
	arr := types.NewArray(types.Typ[types.Int64], 10)
	table, err := l.Table(arr)
	require.NoError(t, err)
	assert.True(t, table.Truncated)
	assert.Len(t, table.Outer, 4)
	stride, ok := l.ElementStride(arr)
	require.True(t, ok)
	assert.Equal(t, int64(64), stride)
	assert.Equal(t, int64(640), table.SizeBits)
}

func TestMemoized(t *testing.T) {
	l := ForArch("unknown-arch", 0)
	dev := device()
	t1, _ := l.Table(dev)
	t2, _ := l.Table(dev)
	assert.Same(t, t1, t2)
}
