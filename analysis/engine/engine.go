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

// Package engine implements the points-to propagation engine. An Engine is bound to one function in one calling
// context; it applies the effect of each instruction it is given on the analysis state: the points-to facts of the
// SSA values of the function, and the objects and field edges of the memory model.
//
// The engine does not decide the order in which instructions are visited. A driver visits the blocks of the
// function, and for each call site asks the engine for the callees (Callees) and for an engine bound to each callee
// in a new context (Call). After the driver has visited the body of the callee, the results are copied back into the
// caller with Stitch. See the driver package for the reference driver.
package engine

import (
	"errors"
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/internal/analysisutil"
	"golang.org/x/tools/go/ssa"
)

var (
	// ErrMaxDepth is returned by Call when entering the callee would exceed the maximum call depth
	ErrMaxDepth = errors.New("maximum call depth reached")
	// ErrRecursive is returned by Call when the callee is already being analyzed in the calling context
	ErrRecursive = errors.New("recursive call")
	// ErrExcluded is returned by Call when the callee is excluded from the analysis
	ErrExcluded = errors.New("excluded function")
)

// A Resolver returns the possible callees of a call site whose callee cannot be determined from the points-to facts
type Resolver func(site ssa.CallInstruction) []*ssa.Function

// Options are the options of an engine, inherited by the engines of its callees
type Options struct {
	// Resolver resolves the dynamic calls that the facts do not resolve. May be nil.
	Resolver Resolver

	// Exclude returns true for the functions that must not be analyzed. May be nil.
	Exclude func(*ssa.Function) bool
}

// Engine propagates points-to facts through the instructions of one function in one calling context
type Engine struct {
	state   *ptstate.State
	model   *amo.Model
	logger  *config.LogGroup
	options Options

	fn  *ssa.Function
	ctx loc.ContextID

	// parent is the engine of the caller, and site the call instruction in the caller
	parent *Engine
	site   ssa.CallInstruction

	// cur is the instruction being visited
	cur ssa.Instruction
}

// New returns the engine of the entry point fn, in a fresh entry context. The parameters and free variables of fn
// point to synthesized argument objects.
func New(state *ptstate.State, fn *ssa.Function, options Options) *Engine {
	ctx := state.Contexts.Entry(fn)
	e := &Engine{
		state:   state,
		model:   state.Model,
		logger:  state.Logger,
		options: options,
		fn:      fn,
		ctx:     ctx,
	}
	state.RecordVisit(fn)
	for _, p := range fn.Params {
		e.bindArgument(p)
	}
	for _, fv := range fn.FreeVars {
		e.bindArgument(fv)
	}
	return e
}

// bindArgument makes the value v of the entry function point to an argument object. Values of aggregate types are
// represented by an argument object of their type.
func (e *Engine) bindArgument(v ssa.Value) {
	t := v.Type()
	if !lang.CarriesPointers(t) || lang.IsUintptr(t) {
		return
	}
	if _, isFunc := t.Underlying().(*types.Signature); isFunc {
		return
	}
	var pt types.Type
	if lang.IsAggregate(t) {
		pt = t
	} else {
		// interfaces and unsafe pointers get an untyped object, typed by its first use
		pt = lang.PointeeType(t)
	}
	o := e.model.NewObject(amo.KindArgument, pt, v, nil)
	entry := loc.EntryOf(e.fn, e.ctx)
	e.state.SetFacts(e.ctx, ptstate.Key(v), []ptstate.Fact{{Addr: amo.Address{Obj: o}, Loc: entry}})
	e.logger.Tracef("argument %s of %s points to %s", v.Name(), e.fn.Name(), e.model.Object(o))
}

// Function returns the function the engine analyzes
func (e *Engine) Function() *ssa.Function {
	return e.fn
}

// Context returns the calling context of the engine
func (e *Engine) Context() loc.ContextID {
	return e.ctx
}

// Parent returns the engine of the caller and the call site, or nil for the engine of an entry point
func (e *Engine) Parent() (*Engine, ssa.CallInstruction) {
	return e.parent, e.site
}

// State returns the analysis state the engine updates
func (e *Engine) State() *ptstate.State {
	return e.state
}

// Depth returns the number of call sites in the context of the engine
func (e *Engine) Depth() int {
	return e.state.Contexts.Depth(e.ctx)
}

// Visit applies the effect of instr on the analysis state. Calls to builtins are handled by Visit; other calls are
// handled through Callees, Call and Stitch.
func (e *Engine) Visit(instr ssa.Instruction) {
	e.cur = instr
	lang.InstrSwitch(e, instr)
}

// PointsTo returns the active facts of the value v in the context of the engine
func (e *Engine) PointsTo(v ssa.Value) []ptstate.Fact {
	return e.facts(v)
}

// TaintFlags returns the taint flags carried by the value v in the context of the engine
func (e *Engine) TaintFlags(v ssa.Value) []amo.FlagID {
	return e.flags(v)
}

// here is the location of the instruction being visited
func (e *Engine) here() loc.Location {
	if e.cur == nil {
		return loc.EntryOf(e.fn, e.ctx)
	}
	return loc.At(e.cur, e.ctx)
}

func (e *Engine) tracker() amo.TaintTracker {
	return e.model.TaintTracker()
}

// facts returns the facts of v. Globals and functions point to their object from before any entry point.
func (e *Engine) facts(v ssa.Value) []ptstate.Fact {
	switch x := v.(type) {
	case *ssa.Global:
		return []ptstate.Fact{{Addr: amo.Address{Obj: e.model.Global(x)}, Loc: loc.PreEntryLocation}}
	case *ssa.Function:
		return []ptstate.Fact{{Addr: amo.Address{Obj: e.model.FunctionObject(x)}, Loc: loc.PreEntryLocation}}
	case *ssa.Const, *ssa.Builtin, nil:
		return nil
	}
	return e.state.Facts(e.ctx, ptstate.Key(v))
}

func (e *Engine) tupleFacts(v ssa.Value, i int) []ptstate.Fact {
	return e.state.Facts(e.ctx, ptstate.ValueKey{Value: v, Index: i})
}

func (e *Engine) setFacts(v ssa.Value, facts []ptstate.Fact) {
	e.state.SetFacts(e.ctx, ptstate.Key(v), facts)
}

func (e *Engine) setTupleFacts(v ssa.Value, i int, facts []ptstate.Fact) {
	e.state.SetFacts(e.ctx, ptstate.ValueKey{Value: v, Index: i}, facts)
}

func (e *Engine) flags(v ssa.Value) []amo.FlagID {
	if v == nil {
		return nil
	}
	return e.state.Flags(e.ctx, ptstate.Key(v))
}

// flow adds the taint flags of the values srcs to the value dst
func (e *Engine) flow(dst ssa.Value, srcs ...ssa.Value) {
	for _, src := range srcs {
		e.state.AddFlags(e.ctx, ptstate.Key(dst), e.flags(src))
	}
}

// fact returns a fact for a, produced at the current instruction, with the provenance of from
func (e *Engine) fact(from ptstate.Fact, a amo.Address) ptstate.Fact {
	from.Addr = a
	from.Loc = e.here()
	from.Delta = 0
	from.HasDelta = false
	return from
}

// relocate returns f produced at the current instruction
func (e *Engine) relocate(f ptstate.Fact) ptstate.Fact {
	f.Loc = e.here()
	return f
}

// newFact returns a fact for a without provenance, produced at the current instruction
func (e *Engine) newFact(a amo.Address) ptstate.Fact {
	return ptstate.Fact{Addr: a, Loc: e.here()}
}

// address returns the address the fact f refers to, viewed as a value of type t (any type if t is nil). Displaced
// facts are resolved against the layout of their object, or by a container search. The search site is derived from
// base, the value carrying the fact. The second result is false when the address cannot be resolved.
func (e *Engine) address(f ptstate.Fact, t types.Type, base ssa.Value) (amo.Address, bool) {
	if f.HasDelta && f.Delta != 0 {
		site := amo.SearchSite{Base: base, Fn: e.fn}
		if base != nil {
			site.FieldName = analysisutil.AccessedFieldName(base)
		}
		a, err := e.model.Displace(f.Addr, f.Delta, t, site)
		if err != nil {
			e.logger.Debugf("%s: cannot displace %s by %d bits: %v", e.position(), f.Addr, f.Delta, err)
			return amo.Address{}, false
		}
		return a, true
	}
	if t == nil {
		return f.Addr, true
	}
	a, err := e.model.Retype(f.Addr, t)
	if err != nil {
		e.logger.Debugf("%s: cannot view %s as %s: %v", e.position(), f.Addr, t, err)
		return amo.Address{}, false
	}
	return a, true
}

// addresses resolves the facts with address and returns the resolved facts. The addresses of the elements of a
// slice are summaries.
func (e *Engine) addresses(facts []ptstate.Fact, t types.Type, base ssa.Value) []ptstate.Fact {
	var res []ptstate.Fact
	elements := base != nil && isSlice(base.Type())
	for _, f := range facts {
		if a, ok := e.address(f, t, base); ok {
			nf := e.fact(f, a)
			nf.Summary = nf.Summary || elements
			res = append(res, nf)
		}
	}
	return res
}

func isSlice(t types.Type) bool {
	_, ok := t.Underlying().(*types.Slice)
	return ok
}

// elementOf returns the fact of element i of the array at f. When the index is not tracked, or the array is
// collapsed, element 0 stands for every element and the fact is a summary.
func (e *Engine) elementOf(f ptstate.Fact, i int, tracked bool, elem types.Type) (ptstate.Fact, bool) {
	if e.model.Collapsed(f.Addr.Obj) {
		i, tracked = 0, false
	}
	a, ok := e.fieldOf(f.Addr, i, elem)
	if !ok {
		return ptstate.Fact{}, false
	}
	nf := e.fact(f, a)
	nf.Summary = nf.Summary || !tracked
	return nf, true
}

// fieldOf returns the address of field i of the aggregate at a. Aggregate fields are embedded objects.
func (e *Engine) fieldOf(a amo.Address, i int, ft types.Type) (amo.Address, bool) {
	if lang.IsAggregate(ft) {
		c, ok := e.model.Child(a.Obj, i)
		if !ok {
			return amo.Address{}, false
		}
		return amo.Address{Obj: c}, true
	}
	return amo.Address{Obj: a.Obj, Field: i}, true
}

// load returns the facts of the values of type t stored at the addresses of the facts, and their taint flags.
// Values of aggregate types are represented by the address of their storage.
func (e *Engine) load(addrs []ptstate.Fact, t types.Type) ([]ptstate.Fact, []amo.FlagID) {
	var (
		res   []ptstate.Fact
		flags []amo.FlagID
	)
	here := e.here()
	for _, f := range addrs {
		flags = append(flags, e.tracker().LiveFlags(f.Addr, here)...)
		if lang.IsAggregate(t) {
			res = append(res, f)
			continue
		}
		if !lang.IsNillableType(t) {
			continue
		}
		res = append(res, e.follow(f, lang.PointeeType(t))...)
	}
	return res, flags
}

// follow returns the facts of the pointees of the field at f.Addr, synthesizing a placeholder of type hint when
// needed. Each fact is tagged with the current instruction and its object.
func (e *Engine) follow(f ptstate.Fact, hint types.Type) []ptstate.Fact {
	var res []ptstate.Fact
	for _, edge := range e.model.Pointees(f.Addr, e.here(), hint) {
		nf := f.WithTag(ptstate.Tag{Site: e.cur, Obj: edge.Dst.Obj, Arm: ptstate.NoArm})
		nf.Summary = false
		res = append(res, e.fact(nf, edge.Dst))
	}
	return res
}

// elementHint returns the type hint of the placeholders synthesized for a container field holding values of type t
func elementHint(t types.Type) types.Type {
	if lang.IsAggregate(t) {
		return t
	}
	return lang.PointeeType(t)
}

// followAll follows the field of the container objects of the facts. Values of type t are stored in that field by
// reference when t is an aggregate.
func (e *Engine) followAll(containers []ptstate.Fact, field int, t types.Type) ([]ptstate.Fact, []amo.FlagID) {
	var (
		res   []ptstate.Fact
		flags []amo.FlagID
	)
	if !lang.CarriesPointers(t) && !lang.IsAggregate(t) {
		for _, c := range containers {
			flags = append(flags, e.tracker().LiveFlags(amo.Address{Obj: c.Addr.Obj, Field: field}, e.here())...)
		}
		return nil, flags
	}
	for _, c := range containers {
		a := amo.Address{Obj: c.Addr.Obj, Field: field}
		flags = append(flags, e.tracker().LiveFlags(a, e.here())...)
		res = append(res, e.follow(e.fact(c, a), elementHint(t))...)
	}
	return res, flags
}

// storeAll stores the values of srcs in a field of the container objects, with weak updates
func (e *Engine) storeAll(containers []ptstate.Fact, field int, srcs []ptstate.Fact, srcFlags []amo.FlagID) {
	here := e.here()
	for _, c := range containers {
		a := amo.Address{Obj: c.Addr.Obj, Field: field}
		for _, s := range srcs {
			e.model.AddEdge(a, s.Addr, here, amo.Weak)
		}
		for _, flag := range srcFlags {
			e.tracker().CopyFlag(flag, a, here)
		}
	}
}

func (e *Engine) position() string {
	if e.cur != nil && e.fn.Prog != nil && e.fn.Prog.Fset != nil {
		return e.fn.Prog.Fset.Position(e.cur.Pos()).String()
	}
	return e.fn.String()
}

// updateStrength returns the strength of a store to the addresses of dsts: strong only for a single address that
// does not summarize several locations
func updateStrength(dsts []ptstate.Fact) amo.Strength {
	if distinct(dsts) != 1 {
		return amo.Weak
	}
	for _, d := range dsts {
		if d.Summary {
			return amo.Weak
		}
	}
	return amo.Strong
}

// distinct returns the number of distinct addresses of the facts
func distinct(facts []ptstate.Fact) int {
	return len(ptstate.Addresses(facts))
}

var _ lang.InstrOp = (*Engine)(nil)
