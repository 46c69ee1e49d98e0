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

package ptstate

import (
	"io"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/internal/analysistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

const sharedSrc = `package main

type priv struct{ n int }

type handle struct{ data *priv }

var sink *priv

func open(h *handle) { sink = h.data }

func read(h *handle) { sink = h.data }

func main() {}
`

func newState(t *testing.T, cfg *config.Config) (*State, *ssa.Package) {
	prog, pkg := analysistest.LoadSource(t, sharedSrc)
	logger := config.NewLogGroup(cfg)
	logger.SetAllOutput(io.Discard)
	return New(cfg, logger, prog), pkg
}

func addr(o int) amo.Address {
	return amo.Address{Obj: amo.ObjectID(o)}
}

func TestSetFactsKeepsHistory(t *testing.T) {
	s, pkg := newState(t, config.NewDefault())
	v := analysistest.Func(t, pkg, "open").Params[0]
	ctx := s.Contexts.Entry(analysistest.Func(t, pkg, "open"))
	s.SetFacts(ctx, Key(v), []Fact{{Addr: addr(1)}, {Addr: addr(2)}})
	s.SetFacts(ctx, Key(v), []Fact{{Addr: addr(2)}, {Addr: addr(3)}})
	assert.ElementsMatch(t, []amo.Address{addr(2), addr(3)}, Addresses(s.Facts(ctx, Key(v))))
	history := s.History(ctx, Key(v))
	require.Len(t, history, 3)
	assert.Equal(t, amo.Inactive, history[0].Status)
	s.AddFacts(ctx, Key(v), []Fact{{Addr: addr(1)}})
	assert.Len(t, s.Facts(ctx, Key(v)), 3)
	assert.Empty(t, s.Facts(loc.PreEntry, Key(v)))
	assert.Equal(t, []loc.ContextID{ctx}, s.ContextsWithFacts())
}

func TestFactsWithTagsAreDistinct(t *testing.T) {
	s, pkg := newState(t, config.NewDefault())
	fn := analysistest.Func(t, pkg, "open")
	v := fn.Params[0]
	site := fn.Blocks[0].Instrs[0]
	f := Fact{Addr: addr(1)}
	s.SetFacts(loc.PreEntry, Key(v), []Fact{f, f.WithTag(Tag{Site: site, Obj: 1, Arm: NoArm})})
	assert.Len(t, s.Facts(loc.PreEntry, Key(v)), 2)
	assert.Empty(t, f.Tags, "WithTag does not modify its receiver")
}

func TestCorrelate(t *testing.T) {
	_, pkg := newState(t, config.NewDefault())
	fn := analysistest.Func(t, pkg, "open")
	site := fn.Blocks[0].Instrs[0]
	r1 := Tag{Site: site, Obj: 1, Arm: NoArm}
	r2 := Tag{Site: site, Obj: 2, Arm: NoArm}
	dst := []Fact{{Addr: addr(10), Tags: []Tag{r1}}, {Addr: addr(11), Tags: []Tag{r2}}}
	src := []Fact{{Addr: addr(20), Tags: []Tag{r2}}, {Addr: addr(21), Tags: []Tag{r1}}}
	pairs, ok := Correlate(dst, src)
	require.True(t, ok)
	assert.Equal(t, [][]int{{1}, {0}}, pairs)

	_, ok = Correlate(dst, append(src, Fact{Addr: addr(22)}))
	assert.False(t, ok, "untagged source fact")
	_, ok = Correlate(dst[:1], src[1:])
	assert.False(t, ok, "a single root")
	_, ok = Correlate(dst, []Fact{{Addr: addr(20), Tags: []Tag{r1}}, {Addr: addr(21), Tags: []Tag{r1, r2}}})
	assert.False(t, ok, "different root sets")
}

func TestSharedCacheCompatibility(t *testing.T) {
	s, pkg := newState(t, config.NewDefault())
	open, read := analysistest.Func(t, pkg, "open"), analysistest.Func(t, pkg, "read")
	typ := analysistest.NamedType(t, pkg, "priv")
	_, ok := s.Shared.Lookup(typ, open)
	assert.False(t, ok)
	s.Shared.Store(typ, open, 7)
	obj, ok := s.Shared.Lookup(typ, read)
	assert.True(t, ok)
	assert.Equal(t, amo.ObjectID(7), obj)
	s.Shared.Store(typ, read, 8)
	obj, _ = s.Shared.Lookup(typ, read)
	assert.Equal(t, amo.ObjectID(8), obj)
	obj, _ = s.Shared.Lookup(typ, open)
	assert.Equal(t, amo.ObjectID(7), obj)
	obj, ok = s.Shared.Lookup(typ, nil)
	assert.True(t, ok, "an unrelated entry falls back to a cached placeholder")
	assert.Equal(t, amo.ObjectID(7), obj)
}

func TestCompatibilityScores(t *testing.T) {
	_, pkg := newState(t, config.NewDefault())
	open, read := analysistest.Func(t, pkg, "open"), analysistest.Func(t, pkg, "read")
	assert.Equal(t, 3, compatibility(open, open))
	assert.Equal(t, 1, compatibility(open, read))
	assert.Equal(t, 0, compatibility(nil, read))
	assert.Equal(t, 0, compatibility(open, nil))
}

func TestSharedPlaceholdersAcrossEntries(t *testing.T) {
	cfg := config.NewDefault()
	cfg.SharedTypes = []config.CodeIdentifier{{Type: "priv"}}
	s, pkg := newState(t, cfg)
	open, read := analysistest.Func(t, pkg, "open"), analysistest.Func(t, pkg, "read")
	handle := analysistest.NamedType(t, pkg, "handle")
	pointee := func(fn *ssa.Function) amo.ObjectID {
		ctx := s.Contexts.Entry(fn)
		h := s.Model.NewObject(amo.KindArgument, handle, fn.Params[0], nil)
		edges := s.Model.Pointees(amo.Address{Obj: h}, loc.At(fn.Blocks[0].Instrs[0], ctx), nil)
		require.Len(t, edges, 1)
		return edges[0].Dst.Obj
	}
	p1, p2 := pointee(open), pointee(read)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, s.Shared.Len())
	assert.True(t, s.IsShared(analysistest.NamedType(t, pkg, "priv")))
	assert.False(t, s.IsShared(handle))
}

func TestModuleTypesAndSummary(t *testing.T) {
	s, pkg := newState(t, config.NewDefault())
	names := map[string]bool{}
	for _, typ := range ModuleTypes(pkg.Prog) {
		names[typ.String()] = true
	}
	assert.True(t, names[pkg.Pkg.Path()+".priv"])
	assert.True(t, names[pkg.Pkg.Path()+".handle"])
	s.RecordVisit(analysistest.Func(t, pkg, "open"))
	sum := s.Summarize()
	assert.Equal(t, 1, sum.Functions)
	assert.Equal(t, 0, sum.Objects)
}
