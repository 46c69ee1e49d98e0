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

package engine

import (
	"go/constant"
	"go/token"
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"golang.org/x/tools/go/ssa"
)

// This file contains all the instruction operations implemented by the engine.

func (e *Engine) DoDebugRef(*ssa.DebugRef) {
	// Do nothing, we ignore debug refs in SSA
}

func (e *Engine) DoUnOp(x *ssa.UnOp) {
	switch x.Op {
	case token.MUL:
		addrs := e.addresses(e.facts(x.X), x.Type(), x.X)
		facts, flags := e.load(addrs, x.Type())
		e.setFacts(x, facts)
		e.state.AddFlags(e.ctx, ptstate.Key(x), flags)
	case token.ARROW:
		elem := x.X.Type().Underlying().(*types.Chan).Elem()
		facts, flags := e.followAll(e.facts(x.X), 0, elem)
		e.setFacts(x, facts)
		e.state.AddFlags(e.ctx, ptstate.Key(x), flags)
	default:
		e.flow(x, x.X)
	}
}

func (e *Engine) DoBinOp(x *ssa.BinOp) {
	e.flow(x, x.X, x.Y)
	if !lang.IsUintptr(x.Type()) || (x.Op != token.ADD && x.Op != token.SUB) {
		return
	}
	// pointer arithmetic on an address converted to an integer
	base, off := x.X, x.Y
	if _, isConst := base.(*ssa.Const); isConst && x.Op == token.ADD {
		base, off = off, base
	}
	c, isConst := off.(*ssa.Const)
	if !isConst || c.Value == nil || c.Value.Kind() != constant.Int {
		if len(e.facts(base)) > 0 {
			e.logger.Debugf("%s: non-constant pointer arithmetic is not modeled", e.position())
		}
		return
	}
	delta, _ := constant.Int64Val(c.Value)
	if x.Op == token.SUB {
		delta = -delta
	}
	var res []ptstate.Fact
	for _, f := range e.facts(base) {
		f.HasDelta = true
		f.Delta += delta * 8
		res = append(res, f)
	}
	e.setFacts(x, res)
}

func (e *Engine) DoCall(x *ssa.Call) {
	e.resetResults(x)
	if b, ok := x.Call.Value.(*ssa.Builtin); ok {
		e.callBuiltin(x, b)
	}
}

func (e *Engine) DoChangeInterface(x *ssa.ChangeInterface) {
	e.setFacts(x, e.facts(x.X))
	e.flow(x, x.X)
}

func (e *Engine) DoChangeType(x *ssa.ChangeType) {
	e.setFacts(x, e.facts(x.X))
	e.flow(x, x.X)
}

func (e *Engine) DoConvert(x *ssa.Convert) {
	e.flow(x, x.X)
	from, to := x.X.Type(), x.Type()
	switch {
	case lang.IsUintptr(to) && lang.IsUnsafePointer(from):
		// start of pointer arithmetic
		var res []ptstate.Fact
		for _, f := range e.facts(x.X) {
			f.HasDelta = true
			res = append(res, f)
		}
		e.setFacts(x, res)
	case lang.IsUnsafePointer(to):
		// keeps the displacement of integers, resolved when the pointer is converted to a typed pointer
		e.setFacts(x, e.facts(x.X))
	case lang.IsUnsafePointer(from):
		if _, ok := to.Underlying().(*types.Pointer); ok {
			e.setFacts(x, e.addresses(e.facts(x.X), lang.PointeeType(to), x.X))
		}
	}
}

func (e *Engine) DoSliceArrayToPointer(x *ssa.SliceToArrayPointer) {
	e.setFacts(x, e.addresses(e.facts(x.X), lang.PointeeType(x.Type()), x.X))
	e.flow(x, x.X)
}

func (e *Engine) DoMakeInterface(x *ssa.MakeInterface) {
	e.flow(x, x.X)
	t := x.X.Type()
	if lang.IsNillableType(t) {
		e.setFacts(x, e.facts(x.X))
		return
	}
	// other values are boxed
	box := e.state.Allocate(e.ctx, x, amo.KindHeap, t, x)
	here := e.here()
	if lang.IsAggregate(t) {
		for _, f := range e.addresses(e.facts(x.X), t, x.X) {
			if err := e.model.Merge(box, f.Addr.Obj, here, amo.Weak); err != nil {
				e.logger.Debugf("%s: boxing %s: %v", e.position(), x.X.Name(), err)
			}
		}
	}
	for _, flag := range e.flags(x.X) {
		e.tracker().CopyFlag(flag, amo.Address{Obj: box}, here)
	}
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: box})})
}

func (e *Engine) DoExtract(x *ssa.Extract) {
	e.setFacts(x, e.tupleFacts(x.Tuple, x.Index))
	e.state.AddFlags(e.ctx, ptstate.Key(x), e.state.Flags(e.ctx, ptstate.ValueKey{Value: x.Tuple, Index: x.Index}))
}

func (e *Engine) DoSlice(x *ssa.Slice) {
	e.flow(x, x.X)
	switch t := x.X.Type().Underlying().(type) {
	case *types.Slice:
		e.setFacts(x, e.facts(x.X))
	case *types.Pointer:
		// slicing an array: the elements become reachable through indexes unknown to the array, so the array is
		// collapsed and the slice refers to its element 0
		at, ok := t.Elem().Underlying().(*types.Array)
		if !ok {
			return
		}
		var res []ptstate.Fact
		for _, f := range e.addresses(e.facts(x.X), t.Elem(), x.X) {
			e.model.Collapse(f.Addr.Obj, e.here())
			if nf, ok := e.elementOf(f, 0, false, at.Elem()); ok {
				res = append(res, nf)
			}
		}
		e.setFacts(x, res)
	}
}

func (e *Engine) DoReturn(x *ssa.Return) {
	for i, r := range x.Results {
		var facts []ptstate.Fact
		for _, f := range e.facts(r) {
			facts = append(facts, e.relocate(f))
		}
		e.state.AddFacts(e.ctx, ptstate.ReturnKey(i), facts)
		e.state.AddFlags(e.ctx, ptstate.ReturnKey(i), e.flags(r))
	}
}

func (e *Engine) DoRunDefers(*ssa.RunDefers) {
	// Deferred calls are analyzed at the defer instruction
}

func (e *Engine) DoPanic(*ssa.Panic) {
	// Do nothing
}

func (e *Engine) DoSend(x *ssa.Send) {
	e.storeAll(e.facts(x.Chan), 0, e.facts(x.X), e.flags(x.X))
}

func (e *Engine) DoStore(x *ssa.Store) {
	vt := x.Val.Type()
	dsts := e.addresses(e.facts(x.Addr), vt, x.Addr)
	if len(dsts) == 0 {
		return
	}
	here := e.here()
	strength := updateStrength(dsts)
	if lang.IsAggregate(vt) {
		srcs := e.addresses(e.facts(x.Val), vt, x.Val)
		for _, d := range dsts {
			for _, s := range srcs {
				if err := e.model.Merge(d.Addr.Obj, s.Addr.Obj, here, strength); err != nil {
					e.logger.Debugf("%s: %v", e.position(), err)
				}
			}
		}
		return
	}
	for _, d := range dsts {
		for _, flag := range e.flags(x.Val) {
			e.tracker().CopyFlag(flag, d.Addr, here)
		}
	}
	if !lang.IsNillableType(vt) {
		return
	}
	srcs := e.addresses(e.facts(x.Val), nil, x.Val)
	pairs, correlated := ptstate.Correlate(dsts, srcs)
	for i, d := range dsts {
		chosen := srcs
		if correlated {
			chosen = make([]ptstate.Fact, len(pairs[i]))
			for j, k := range pairs[i] {
				chosen[j] = srcs[k]
			}
		}
		if len(chosen) == 0 {
			if strength == amo.Strong {
				e.model.Overwrite(d.Addr, here)
			}
			continue
		}
		for _, s := range chosen {
			e.model.AddEdge(d.Addr, s.Addr, here, strength)
		}
	}
}

func (e *Engine) DoIf(*ssa.If) {
	// Do nothing
}

func (e *Engine) DoJump(*ssa.Jump) {
	// Do nothing
}

func (e *Engine) DoDefer(x *ssa.Defer) {
	if b, ok := x.Call.Value.(*ssa.Builtin); ok {
		e.callBuiltin(x, b)
	}
}

func (e *Engine) DoGo(x *ssa.Go) {
	if b, ok := x.Call.Value.(*ssa.Builtin); ok {
		e.callBuiltin(x, b)
	}
}

func (e *Engine) DoMakeChan(x *ssa.MakeChan) {
	o := e.state.Allocate(e.ctx, x, amo.KindHeap, x.Type(), x)
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: o})})
}

func (e *Engine) DoAlloc(x *ssa.Alloc) {
	k := amo.KindLocal
	if x.Heap {
		k = amo.KindHeap
	}
	o := e.state.Allocate(e.ctx, x, k, lang.PointeeType(x.Type()), x)
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: o})})
}

func (e *Engine) DoMakeSlice(x *ssa.MakeSlice) {
	// the elements of a slice are collapsed in one object of the element type
	o := e.state.Allocate(e.ctx, x, amo.KindHeap, lang.PointeeType(x.Type()), x)
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: o})})
}

func (e *Engine) DoMakeMap(x *ssa.MakeMap) {
	o := e.state.Allocate(e.ctx, x, amo.KindHeap, x.Type(), x)
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: o})})
}

func (e *Engine) DoRange(x *ssa.Range) {
	e.setFacts(x, e.facts(x.X))
	e.flow(x, x.X)
}

func (e *Engine) DoNext(x *ssa.Next) {
	if x.IsString {
		e.state.AddFlags(e.ctx, ptstate.ValueKey{Value: x, Index: 2}, e.flags(x.Iter))
		return
	}
	tuple := x.Type().(*types.Tuple)
	maps := e.facts(x.Iter)
	for i, field := range []int{amo.MapKeys, amo.MapValues} {
		facts, flags := e.followAll(maps, field, tuple.At(i+1).Type())
		e.setTupleFacts(x, i+1, facts)
		e.state.AddFlags(e.ctx, ptstate.ValueKey{Value: x, Index: i + 1}, flags)
	}
}

func (e *Engine) DoFieldAddr(x *ssa.FieldAddr) {
	st := lang.PointeeType(x.X.Type())
	ft := st.Underlying().(*types.Struct).Field(x.Field).Type()
	var res []ptstate.Fact
	for _, f := range e.addresses(e.facts(x.X), st, x.X) {
		if a, ok := e.fieldOf(f.Addr, x.Field, ft); ok {
			res = append(res, e.fact(f, a))
		}
	}
	e.setFacts(x, res)
	e.flow(x, x.X)
}

func (e *Engine) DoField(x *ssa.Field) {
	e.flow(x, x.X)
	st := x.X.Type()
	ft := x.Type()
	var fields []ptstate.Fact
	for _, f := range e.addresses(e.facts(x.X), st, x.X) {
		if a, ok := e.fieldOf(f.Addr, x.Field, ft); ok {
			fields = append(fields, e.fact(f, a))
		}
	}
	facts, flags := e.load(fields, ft)
	e.setFacts(x, facts)
	e.state.AddFlags(e.ctx, ptstate.Key(x), flags)
}

func (e *Engine) DoIndexAddr(x *ssa.IndexAddr) {
	e.flow(x, x.X, x.Index)
	switch t := x.X.Type().Underlying().(type) {
	case *types.Slice:
		e.setFacts(x, e.addresses(e.facts(x.X), t.Elem(), x.X))
	case *types.Pointer:
		at := t.Elem()
		elem := at.Underlying().(*types.Array).Elem()
		i, tracked := e.arrayIndex(x.Index)
		var res []ptstate.Fact
		for _, f := range e.addresses(e.facts(x.X), at, x.X) {
			if nf, ok := e.elementOf(f, i, tracked, elem); ok {
				res = append(res, nf)
			}
		}
		e.setFacts(x, res)
	}
}

func (e *Engine) DoIndex(x *ssa.Index) {
	e.flow(x, x.X, x.Index)
	at, ok := x.X.Type().Underlying().(*types.Array)
	if !ok {
		// indexing a string
		return
	}
	i, tracked := e.arrayIndex(x.Index)
	var elems []ptstate.Fact
	for _, f := range e.addresses(e.facts(x.X), x.X.Type(), x.X) {
		if nf, ok := e.elementOf(f, i, tracked, at.Elem()); ok {
			elems = append(elems, nf)
		}
	}
	facts, flags := e.load(elems, at.Elem())
	e.setFacts(x, facts)
	e.state.AddFlags(e.ctx, ptstate.Key(x), flags)
}

// arrayIndex returns the field of the array element at index v: constant indexes below the maximum number of
// tracked elements have their own field, the others are collapsed in the first element. The second result is false
// for collapsed indexes.
func (e *Engine) arrayIndex(v ssa.Value) (int, bool) {
	c, ok := v.(*ssa.Const)
	if !ok || c.Value == nil || c.Value.Kind() != constant.Int {
		return 0, false
	}
	i, exact := constant.Int64Val(c.Value)
	if !exact || i < 0 || i >= int64(e.state.Config.MaxArrayFields) {
		return 0, false
	}
	return int(i), true
}

func (e *Engine) DoLookup(x *ssa.Lookup) {
	e.flow(x, x.X, x.Index)
	mt, ok := x.X.Type().Underlying().(*types.Map)
	if !ok {
		return
	}
	facts, flags := e.followAll(e.facts(x.X), amo.MapValues, mt.Elem())
	e.setFacts(x, facts)
	e.state.AddFlags(e.ctx, ptstate.Key(x), flags)
}

func (e *Engine) DoMapUpdate(x *ssa.MapUpdate) {
	maps := e.facts(x.Map)
	e.storeAll(maps, amo.MapKeys, e.facts(x.Key), e.flags(x.Key))
	e.storeAll(maps, amo.MapValues, e.facts(x.Value), e.flags(x.Value))
}

func (e *Engine) DoTypeAssert(x *ssa.TypeAssert) {
	e.flow(x, x.X)
	t := x.AssertedType
	if _, isInterface := t.Underlying().(*types.Interface); isInterface {
		e.setFacts(x, e.facts(x.X))
		return
	}
	switch {
	case lang.IsAggregate(t):
		e.setFacts(x, e.addresses(e.facts(x.X), t, x.X))
	case lang.PointeeType(t) != nil:
		if _, isPtr := t.Underlying().(*types.Pointer); isPtr {
			e.setFacts(x, e.addresses(e.facts(x.X), lang.PointeeType(t), x.X))
		} else {
			e.setFacts(x, e.facts(x.X))
		}
	case lang.IsNillableType(t):
		e.setFacts(x, e.facts(x.X))
	default:
		// a boxed scalar: the flags of the box flow to the value
		for _, f := range e.facts(x.X) {
			e.state.AddFlags(e.ctx, ptstate.Key(x), e.tracker().LiveFlags(f.Addr, e.here()))
		}
	}
}

func (e *Engine) DoMakeClosure(x *ssa.MakeClosure) {
	fn := x.Fn.(*ssa.Function)
	o := e.state.Allocate(e.ctx, x, amo.KindFunction, fn.Signature, x)
	here := e.here()
	for i, b := range x.Bindings {
		a := amo.Address{Obj: o, Field: i}
		for _, f := range e.facts(b) {
			e.model.AddEdge(a, f.Addr, here, amo.Strong)
		}
		for _, flag := range e.flags(b) {
			e.tracker().CopyFlag(flag, a, here)
		}
	}
	e.setFacts(x, []ptstate.Fact{e.newFact(amo.Address{Obj: o})})
}

func (e *Engine) DoPhi(x *ssa.Phi) {
	var res []ptstate.Fact
	for i, edge := range x.Edges {
		for _, f := range e.facts(edge) {
			res = append(res, e.relocate(f.WithTag(ptstate.Tag{Site: x, Arm: i})))
		}
		e.flow(x, edge)
	}
	e.setFacts(x, res)
}

func (e *Engine) DoSelect(x *ssa.Select) {
	recv := 0
	for i, st := range x.States {
		switch st.Dir {
		case types.RecvOnly:
			elem := st.Chan.Type().Underlying().(*types.Chan).Elem()
			facts, flags := e.followAll(e.facts(st.Chan), 0, elem)
			for j := range facts {
				facts[j] = facts[j].WithTag(ptstate.Tag{Site: x, Arm: i})
			}
			// the received values follow the index and the recvOk flag in the tuple
			e.setTupleFacts(x, recv+2, facts)
			e.state.AddFlags(e.ctx, ptstate.ValueKey{Value: x, Index: recv + 2}, flags)
			recv++
		case types.SendOnly:
			e.storeAll(e.facts(st.Chan), 0, e.facts(st.Send), e.flags(st.Send))
		}
	}
}
