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

// Package ptstate contains the analysis state of the points-to engine: the memory model, the points-to facts of the
// SSA values in each calling context, and the caches shared by all the entry points of a run.
package ptstate

import (
	"go/types"
	"sort"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/geometry"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/internal/analysisutil"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
)

// A ValueKey identifies the facts of a value. Index selects a component of tuple values. Keys with a nil Value are
// the return slots of the function analyzed in the context.
type ValueKey struct {
	Value ssa.Value
	Index int
}

// Key returns the key of the value v
func Key(v ssa.Value) ValueKey {
	return ValueKey{Value: v}
}

// ReturnKey returns the key of the i-th result of the function of a context
func ReturnKey(i int) ValueKey {
	return ValueKey{Index: i}
}

type factSet struct {
	facts []Fact
	index map[factKey]int
}

// State is the analysis state of one run. It owns the memory model; every other structure refers to objects by id.
type State struct {
	Config   *config.Config
	Logger   *config.LogGroup
	Program  *ssa.Program
	Contexts *loc.Contexts
	Order    *loc.Order
	Layouts  *geometry.Layouts
	Model    *amo.Model
	Shared   *SharedCache
	Failures *amo.FailureCache

	values map[loc.ContextID]map[ValueKey]*factSet
	flags  map[loc.ContextID]map[ValueKey][]amo.FlagID
	allocs map[allocKey]amo.ObjectID
	visits map[*ssa.Function]int
}

type allocKey struct {
	ctx   loc.ContextID
	site  ssa.Instruction
	index int
}

// New returns a fresh state for the analysis of prog. The container search considers the struct types declared in
// the packages of prog.
func New(cfg *config.Config, logger *config.LogGroup, prog *ssa.Program) *State {
	contexts := loc.NewContexts()
	order := loc.NewOrder(contexts)
	layouts := geometry.ForArch(cfg.TargetArch, cfg.MaxArrayFields)
	s := &State{
		Config:   cfg,
		Logger:   logger,
		Program:  prog,
		Contexts: contexts,
		Order:    order,
		Layouts:  layouts,
		Model:    amo.NewModel(layouts, order, logger, cfg.Options),
		Shared:   NewSharedCache(),
		Failures: amo.NewFailureCache(),
		values:   map[loc.ContextID]map[ValueKey]*factSet{},
		flags:    map[loc.ContextID]map[ValueKey][]amo.FlagID{},
		allocs:   map[allocKey]amo.ObjectID{},
		visits:   map[*ssa.Function]int{},
	}
	s.Model.SetFailureCache(s.Failures)
	s.Model.SetPlaceholderFactory(s.sharedPlaceholder)
	if prog != nil {
		s.Model.SetContainerTypes(ModuleTypes(prog))
	}
	return s
}

// ModuleTypes returns the struct types declared in the packages of prog, sorted by name
func ModuleTypes(prog *ssa.Program) []types.Type {
	var ts []types.Type
	for _, pkg := range prog.AllPackages() {
		for _, member := range pkg.Members {
			if t, ok := member.(*ssa.Type); ok {
				if _, isStruct := t.Type().Underlying().(*types.Struct); isStruct {
					ts = append(ts, t.Type())
				}
			}
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].String() < ts[j].String() })
	return ts
}

// IsShared returns true if the placeholders of type t are shared between entry points
func (s *State) IsShared(t types.Type) bool {
	if len(s.Config.SharedTypes) == 0 {
		return false
	}
	cid := analysisutil.TypeIdentifier(t)
	return cid.IsSome() && s.Config.IsSharedType(cid.Value())
}

// sharedPlaceholder is the placeholder factory of the model: the placeholders of shared types are taken from the
// shared cache
func (s *State) sharedPlaceholder(_ amo.Address, t types.Type, l loc.Location) amo.ObjectID {
	if t == nil || !s.IsShared(t) {
		return amo.NoObject
	}
	entry := s.Contexts.EntryFunction(l.Ctx)
	if obj, ok := s.Shared.Lookup(t, entry); ok {
		return obj
	}
	obj := s.Model.NewObject(amo.KindPlaceholder, t, nil, l.Instr)
	s.Shared.Store(t, entry, obj)
	s.Logger.Debugf("shared placeholder %s for entry %v", s.Model.Object(obj), entry)
	return obj
}

func (s *State) set(ctx loc.ContextID, key ValueKey) *factSet {
	m, ok := s.values[ctx]
	if !ok {
		m = map[ValueKey]*factSet{}
		s.values[ctx] = m
	}
	fs, ok := m[key]
	if !ok {
		fs = &factSet{index: map[factKey]int{}}
		m[key] = fs
	}
	return fs
}

// Facts returns the active facts of the value key in ctx
func (s *State) Facts(ctx loc.ContextID, key ValueKey) []Fact {
	fs, ok := s.values[ctx][key]
	if !ok {
		return nil
	}
	var facts []Fact
	for _, f := range fs.facts {
		if f.Status == amo.Active {
			facts = append(facts, f)
		}
	}
	return facts
}

// History returns all the facts the value key has had in ctx, including the inactive ones
func (s *State) History(ctx loc.ContextID, key ValueKey) []Fact {
	fs, ok := s.values[ctx][key]
	if !ok {
		return nil
	}
	return append([]Fact(nil), fs.facts...)
}

// SetFacts replaces the facts of the value key in ctx. The previous facts that are not in facts are deactivated.
func (s *State) SetFacts(ctx loc.ContextID, key ValueKey, facts []Fact) {
	fs := s.set(ctx, key)
	for i := range fs.facts {
		fs.facts[i].Status = amo.Inactive
	}
	s.add(fs, facts)
}

// AddFacts adds facts to the facts of the value key in ctx
func (s *State) AddFacts(ctx loc.ContextID, key ValueKey, facts []Fact) {
	s.add(s.set(ctx, key), facts)
}

func (s *State) add(fs *factSet, facts []Fact) {
	for _, f := range facts {
		f.Status = amo.Active
		k := f.key()
		if i, ok := fs.index[k]; ok {
			fs.facts[i] = f
			continue
		}
		fs.index[k] = len(fs.facts)
		fs.facts = append(fs.facts, f)
	}
}

// Flags returns the taint flags carried by the value key in ctx
func (s *State) Flags(ctx loc.ContextID, key ValueKey) []amo.FlagID {
	return s.flags[ctx][key]
}

// AddFlags adds taint flags to the value key in ctx
func (s *State) AddFlags(ctx loc.ContextID, key ValueKey, flags []amo.FlagID) {
	if len(flags) == 0 {
		return
	}
	m, ok := s.flags[ctx]
	if !ok {
		m = map[ValueKey][]amo.FlagID{}
		s.flags[ctx] = m
	}
	for _, f := range flags {
		if !slices.Contains(m[key], f) {
			m[key] = append(m[key], f)
		}
	}
}

// Allocate returns the object allocated at site in ctx, creating it with kind k, type t and value v on the first
// visit of the site. Loops and repeated calls reuse the object.
func (s *State) Allocate(ctx loc.ContextID, site ssa.Instruction, k amo.Kind, t types.Type, v ssa.Value) amo.ObjectID {
	return s.AllocateIndexed(ctx, site, 0, k, t, v)
}

// AllocateIndexed is Allocate for sites that allocate several objects, distinguished by index
func (s *State) AllocateIndexed(ctx loc.ContextID, site ssa.Instruction, index int, k amo.Kind, t types.Type,
	v ssa.Value) amo.ObjectID {
	key := allocKey{ctx: ctx, site: site, index: index}
	if o, ok := s.allocs[key]; ok {
		return o
	}
	o := s.Model.NewObject(k, t, v, site)
	s.allocs[key] = o
	return o
}

// Values returns the keys of the values that have facts in ctx
func (s *State) Values(ctx loc.ContextID) []ValueKey {
	keys := make([]ValueKey, 0, len(s.values[ctx]))
	for k := range s.values[ctx] {
		keys = append(keys, k)
	}
	return keys
}

// ContextsWithFacts returns the contexts that have value facts, in creation order
func (s *State) ContextsWithFacts() []loc.ContextID {
	ctxs := make([]loc.ContextID, 0, len(s.values))
	for c := range s.values {
		ctxs = append(ctxs, c)
	}
	sort.Slice(ctxs, func(i, j int) bool { return ctxs[i] < ctxs[j] })
	return ctxs
}

// RecordVisit records that fn is analyzed in a new context
func (s *State) RecordVisit(fn *ssa.Function) {
	s.visits[fn]++
}

// Visits returns the number of contexts fn was analyzed in
func (s *State) Visits(fn *ssa.Function) int {
	return s.visits[fn]
}

// Summary contains the size of the state
type Summary struct {
	Contexts    int
	Functions   int
	Objects     int
	Edges       int
	ActiveEdges int
	Failures    int
	Shared      int
}

// Summarize returns the sizes of the state
func (s *State) Summarize() Summary {
	sum := Summary{
		Contexts:  s.Contexts.Len() - 1,
		Functions: len(s.visits),
		Objects:   s.Model.NumObjects(),
		Edges:     s.Model.NumEdges(),
		Failures:  s.Failures.Len(),
		Shared:    s.Shared.Len(),
	}
	for i := 1; i <= s.Model.NumEdges(); i++ {
		if s.Model.Edge(amo.EdgeID(i)).IsActive() {
			sum.ActiveEdges++
		}
	}
	return sum
}
