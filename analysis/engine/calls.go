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
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/internal/analysisutil"
	"golang.org/x/tools/go/ssa"
)

// Callees returns the functions the call site may call in the context of the engine. Function values are resolved
// from the facts of the called value and interface methods from the types of the receiver's objects. The resolver
// of the engine resolves the calls that the facts do not.
func (e *Engine) Callees(instr ssa.CallInstruction) []*ssa.Function {
	common := instr.Common()
	if fn := common.StaticCallee(); fn != nil {
		return []*ssa.Function{fn}
	}
	if _, ok := common.Value.(*ssa.Builtin); ok {
		return nil
	}
	var res []*ssa.Function
	seen := map[*ssa.Function]bool{}
	add := func(fn *ssa.Function) {
		if fn != nil && !seen[fn] {
			seen[fn] = true
			res = append(res, fn)
		}
	}
	for _, f := range e.facts(common.Value) {
		obj := e.model.Object(f.Addr.Obj)
		if common.IsInvoke() {
			add(e.methodOf(obj.Type, common.Method))
			continue
		}
		switch v := obj.Value.(type) {
		case *ssa.Function:
			add(v)
		case *ssa.MakeClosure:
			add(v.Fn.(*ssa.Function))
		}
	}
	if len(res) == 0 && e.options.Resolver != nil {
		for _, fn := range e.options.Resolver(instr) {
			add(fn)
		}
	}
	return res
}

// methodOf returns the implementation of method for a receiver object of type t. The object may be the value
// itself or the pointee of the receiver.
func (e *Engine) methodOf(t types.Type, method *types.Func) *ssa.Function {
	prog := e.state.Program
	if t == nil || prog == nil || types.IsInterface(t) {
		return nil
	}
	for _, rt := range []types.Type{t, types.NewPointer(t)} {
		if sel := prog.MethodSets.MethodSet(rt).Lookup(method.Pkg(), method.Name()); sel != nil {
			return prog.MethodValue(sel)
		}
	}
	return nil
}

// Call handles the call of callee at instr. When the callee has a body, Call returns an engine bound to the callee
// in a new context, whose parameters are bound to the arguments of the call; the driver must visit the body of the
// callee with it, and then call Stitch. Otherwise the call is handled in place and Call returns a nil engine: the
// callee has no body and is handled by its function model, or it is excluded, or entering it would recurse or
// exceed the maximum depth. The error explains why a callee with a body was not entered.
func (e *Engine) Call(instr ssa.CallInstruction, callee *ssa.Function) (*Engine, error) {
	e.cur = instr
	switch {
	case lang.IsExternal(callee):
		e.callExternal(instr, callee)
		return nil, nil
	case e.options.Exclude != nil && e.options.Exclude(callee):
		e.callExternal(instr, callee)
		return nil, ErrExcluded
	case e.state.Contexts.OnStack(e.ctx, callee):
		e.opaqueCall(instr, callee)
		return nil, ErrRecursive
	case e.state.Config.ExceedsMaxDepth(e.Depth() + 1):
		e.opaqueCall(instr, callee)
		return nil, ErrMaxDepth
	}
	ctx := e.state.Contexts.Push(e.ctx, instr, callee)
	child := &Engine{
		state:   e.state,
		model:   e.model,
		logger:  e.logger,
		options: e.options,
		fn:      callee,
		ctx:     ctx,
		parent:  e,
		site:    instr,
	}
	e.state.RecordVisit(callee)
	args := lang.GetArgs(instr)
	for i, p := range callee.Params {
		if i >= len(args) {
			break
		}
		child.setFacts(p, e.facts(args[i]))
		child.state.AddFlags(ctx, ptstate.Key(p), e.flags(args[i]))
	}
	if len(callee.FreeVars) > 0 {
		e.bindFreeVars(instr, child)
	}
	return child, nil
}

// bindFreeVars binds the free variables of the closure called at instr to the bindings recorded in the closure
// objects.
func (e *Engine) bindFreeVars(instr ssa.CallInstruction, child *Engine) {
	here := e.here()
	bound := make([][]ptstate.Fact, len(child.fn.FreeVars))
	for _, f := range e.facts(instr.Common().Value) {
		obj := e.model.Object(f.Addr.Obj)
		mc, ok := obj.Value.(*ssa.MakeClosure)
		if !ok || mc.Fn != child.fn {
			continue
		}
		for i, fv := range child.fn.FreeVars {
			a := amo.Address{Obj: obj.ID, Field: i}
			for _, edge := range e.model.LiveEdges(a, here) {
				bound[i] = append(bound[i], e.newFact(edge.Dst))
			}
			child.state.AddFlags(child.ctx, ptstate.Key(fv), e.tracker().LiveFlags(a, here))
		}
	}
	for i, fv := range child.fn.FreeVars {
		child.setFacts(fv, bound[i])
	}
}

// Stitch copies the results of the callee analyzed by child back to the value of the call instruction
func (e *Engine) Stitch(instr ssa.CallInstruction, child *Engine) {
	e.cur = instr
	call, ok := instr.(*ssa.Call)
	if !ok {
		return
	}
	for i := 0; i < child.fn.Signature.Results().Len(); i++ {
		key := ptstate.ValueKey{Value: call, Index: i}
		var facts []ptstate.Fact
		for _, f := range child.state.Facts(child.ctx, ptstate.ReturnKey(i)) {
			facts = append(facts, e.relocate(f))
		}
		e.state.AddFacts(e.ctx, key, facts)
		e.state.AddFlags(e.ctx, key, child.state.Flags(child.ctx, ptstate.ReturnKey(i)))
	}
}

// resetResults removes the facts of the results of the call from a previous visit
func (e *Engine) resetResults(call *ssa.Call) {
	n := 1
	if tuple, ok := call.Type().(*types.Tuple); ok {
		n = tuple.Len()
	}
	for i := 0; i < n; i++ {
		e.setTupleFacts(call, i, nil)
	}
}

// resultType returns the type of the i-th result of the call
func resultType(call *ssa.Call, i int) types.Type {
	return lang.TupleIndexType(call.Type(), i)
}

// setResult sets the facts of the i-th result of the call
func (e *Engine) setResult(call *ssa.Call, i int, facts []ptstate.Fact, flags []amo.FlagID) {
	key := ptstate.ValueKey{Value: call, Index: i}
	e.state.AddFacts(e.ctx, key, facts)
	e.state.AddFlags(e.ctx, key, flags)
}

// callExternal handles the call of a function whose body is not analyzed, according to the function model of the
// config that matches it
func (e *Engine) callExternal(instr ssa.CallInstruction, callee *ssa.Function) {
	model, ok := e.state.Config.ModelOf(analysisutil.FunctionIdentifier(callee))
	if !ok {
		e.opaqueCall(instr, callee)
		return
	}
	e.logger.Tracef("%s: %s model for %s", e.position(), model.Kind, callee)
	call, _ := instr.(*ssa.Call)
	args := lang.GetArgs(instr)
	role := func(name string) ssa.Value {
		if i, ok := model.Role(name); ok && i >= 0 && i < len(args) {
			return args[i]
		}
		return nil
	}
	switch model.Kind {
	case config.ModelAllocator:
		if call != nil {
			o := e.state.Allocate(e.ctx, instr, amo.KindHeap, lang.PointeeType(resultType(call, 0)), call)
			e.setResult(call, 0, []ptstate.Fact{e.newFact(amo.Address{Obj: o})}, nil)
		}
	case config.ModelBulkCopy:
		e.bulkCopy(role(config.RoleDst), role(config.RoleSrc), false)
	case config.ModelUserCopy:
		e.bulkCopy(role(config.RoleDst), role(config.RoleSrc), true)
	case config.ModelDuplicate:
		if src := role(config.RoleSrc); call != nil && src != nil {
			var res []ptstate.Fact
			for _, f := range e.addresses(e.facts(src), lang.PointeeType(src.Type()), src) {
				d := e.model.Duplicate(f.Addr.Obj, amo.KindHeap, e.here())
				res = append(res, e.newFact(amo.Address{Obj: d}))
			}
			e.setResult(call, 0, res, e.flags(src))
		}
	case config.ModelHandleCreator:
		if call != nil {
			// one handle per creation site, shared by all the entry points
			o := e.state.Allocate(loc.PreEntry, instr, amo.KindHandle, lang.PointeeType(resultType(call, 0)), call)
			e.setResult(call, 0, []ptstate.Fact{e.newFact(amo.Address{Obj: o})}, nil)
		}
	case config.ModelSource:
		if call != nil {
			e.sourceResult(call)
		}
	case config.ModelNoop:
	}
	if model.TaintResult && call != nil {
		for _, f := range e.tupleFacts(call, 0) {
			e.model.MarkTaintSource(f.Addr.Obj, amo.LocalTaint, e.here())
		}
	}
}

// sourceResult makes the result of a call to a source function point to a fresh tainted object. A result that is
// not a pointer carries the flags of the object.
func (e *Engine) sourceResult(call *ssa.Call) {
	t := resultType(call, 0)
	pt := lang.PointeeType(t)
	pointer := lang.IsNillableType(t)
	if !pointer {
		pt = t
	}
	o := e.state.Allocate(e.ctx, call, amo.KindPlaceholder, pt, call)
	e.model.MarkTaintSource(o, amo.LocalTaint, e.here())
	a := amo.Address{Obj: o}
	if pointer {
		e.setResult(call, 0, []ptstate.Fact{e.newFact(a)}, nil)
	} else {
		e.setResult(call, 0, nil, e.tracker().LiveFlags(a, e.here()))
	}
}

// opaqueCall handles a call whose effect is unknown: the pointer results point to placeholders, and the taint of
// the arguments flows to the results.
func (e *Engine) opaqueCall(instr ssa.CallInstruction, callee *ssa.Function) {
	call, ok := instr.(*ssa.Call)
	if !ok {
		return
	}
	e.logger.Debugf("%s: call to %s is not analyzed", e.position(), callee)
	var flags []amo.FlagID
	for _, arg := range lang.GetArgs(instr) {
		flags = append(flags, e.flags(arg)...)
	}
	results := callee.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		t := results.At(i).Type()
		var facts []ptstate.Fact
		if lang.IsNillableType(t) {
			if _, isFunc := t.Underlying().(*types.Signature); !isFunc {
				o := e.state.AllocateIndexed(e.ctx, instr, i, amo.KindPlaceholder, lang.PointeeType(t), call)
				facts = append(facts, e.newFact(amo.Address{Obj: o}))
			}
		}
		e.setResult(call, i, facts, flags)
	}
}

// bulkCopy copies the memory pointed to by src into the memory pointed to by dst. The transferred type is inferred
// from both ends. When the copy is external input, the destination objects become taint sources.
func (e *Engine) bulkCopy(dst ssa.Value, src ssa.Value, external bool) {
	if dst == nil {
		return
	}
	dsts := e.facts(dst)
	var srcs []ptstate.Fact
	if src != nil {
		srcs = e.facts(src)
	}
	t := e.transferType(dst, src, dsts, srcs)
	here := e.here()
	dstAddrs := e.addresses(dsts, t, dst)
	strength := updateStrength(dstAddrs)
	srcAddrs := e.addresses(srcs, t, src)
	for _, d := range dstAddrs {
		for _, s := range srcAddrs {
			if d.Addr.Field == 0 && s.Addr.Field == 0 {
				if err := e.model.Merge(d.Addr.Obj, s.Addr.Obj, here, strength); err != nil {
					e.logger.Debugf("%s: bulk copy: %v", e.position(), err)
				}
				continue
			}
			for _, edge := range e.model.LiveEdges(s.Addr, here) {
				e.model.AddEdge(d.Addr, edge.Dst, here, strength)
			}
		}
		if external {
			e.model.MarkTaintSource(d.Addr.Obj, amo.LocalTaint, here)
		}
	}
}

// transferType returns the type of the memory transferred by a copy from src to dst: the static pointee type of
// one of the arguments, or else the type of one of the objects involved. It returns nil when nothing is known.
func (e *Engine) transferType(dst, src ssa.Value, dsts, srcs []ptstate.Fact) types.Type {
	for _, v := range []ssa.Value{dst, src} {
		if v == nil {
			continue
		}
		if t := lang.PointeeType(v.Type()); t != nil && !isByte(t) {
			return t
		}
	}
	for _, facts := range [][]ptstate.Fact{dsts, srcs} {
		for _, f := range facts {
			if t := e.model.Object(f.Addr.Obj).Type; t != nil && f.Addr.Field == 0 {
				return t
			}
		}
	}
	return nil
}

func isByte(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.Byte
}

// callBuiltin handles the builtins that move pointers
func (e *Engine) callBuiltin(instr ssa.CallInstruction, b *ssa.Builtin) {
	args := instr.Common().Args
	call, _ := instr.(*ssa.Call)
	switch b.Name() {
	case "append":
		if call == nil || len(args) == 0 {
			return
		}
		elem := lang.PointeeType(call.Type())
		res := e.facts(args[0])
		if len(res) == 0 {
			o := e.state.Allocate(e.ctx, instr, amo.KindHeap, elem, call)
			res = []ptstate.Fact{e.newFact(amo.Address{Obj: o})}
		}
		if len(args) > 1 {
			e.copyElements(res, e.facts(args[1]), elem, e.flags(args[1]))
		}
		e.setResult(call, 0, res, e.flags(args[0]))
	case "copy":
		if len(args) == 2 {
			if elem := lang.PointeeType(args[0].Type()); elem != nil {
				e.copyElements(e.facts(args[0]), e.facts(args[1]), elem, e.flags(args[1]))
			}
		}
	case "ssa:wrapnilchk", "SliceData":
		if call != nil && len(args) > 0 {
			e.setResult(call, 0, e.facts(args[0]), e.flags(args[0]))
		}
	case "Add":
		// unsafe.Add(ptr, len)
		if call == nil || len(args) != 2 {
			return
		}
		c, ok := args[1].(*ssa.Const)
		if !ok || c.Value == nil || c.Value.Kind() != constant.Int {
			e.logger.Debugf("%s: non-constant unsafe.Add is not modeled", e.position())
			return
		}
		delta, _ := constant.Int64Val(c.Value)
		var res []ptstate.Fact
		for _, f := range e.facts(args[0]) {
			f.HasDelta = true
			f.Delta += delta * 8
			res = append(res, e.relocate(f))
		}
		e.setResult(call, 0, res, e.flags(args[0]))
	case "Slice":
		// unsafe.Slice(ptr, len): the elements are the pointee of ptr
		if call != nil && len(args) > 0 {
			e.setResult(call, 0, e.addresses(e.facts(args[0]), lang.PointeeType(call.Type()), args[0]),
				e.flags(args[0]))
		}
	}
}

// copyElements copies the elements of the slices srcs into the elements of the slices dsts, with weak updates
func (e *Engine) copyElements(dsts []ptstate.Fact, srcs []ptstate.Fact, elem types.Type, flags []amo.FlagID) {
	here := e.here()
	dstElems := e.addresses(dsts, elem, nil)
	srcElems := e.addresses(srcs, elem, nil)
	for _, d := range dstElems {
		for _, s := range srcElems {
			switch {
			case lang.IsAggregate(elem):
				if err := e.model.Merge(d.Addr.Obj, s.Addr.Obj, here, amo.Weak); err != nil {
					e.logger.Debugf("%s: copying elements: %v", e.position(), err)
				}
			case lang.IsNillableType(elem):
				for _, edge := range e.model.LiveEdges(s.Addr, here) {
					e.model.AddEdge(d.Addr, edge.Dst, here, amo.Weak)
				}
			}
			for _, flag := range e.tracker().LiveFlags(s.Addr, here) {
				e.tracker().CopyFlag(flag, d.Addr, here)
			}
		}
		for _, flag := range flags {
			e.tracker().CopyFlag(flag, d.Addr, here)
		}
	}
}
