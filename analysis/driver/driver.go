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

// Package driver implements the reference driver of the points-to engine: it selects the entry points of the
// program, visits the blocks of each function in the order of their strongly connected components, visits loops a
// fixed number of times and follows calls synchronously, up to the maximum call depth.
package driver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/engine"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/analysis/taint"
	"github.com/awslabs/ar-go-pta/internal/analysisutil"
	"github.com/awslabs/ar-go-pta/internal/funcutil"
	"github.com/awslabs/ar-go-pta/internal/graphutil"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Stats counts the work of the driver
type Stats struct {
	Entries       int
	Bodies        int
	Instructions  int
	Calls         int
	External      int
	Unresolved    int
	DepthCuts     int
	RecursionCuts int
	Excluded      int
}

// Driver visits the functions reachable from the entry points with the engine
type Driver struct {
	State   *ptstate.State
	Tracker *taint.Tracker
	Stats   Stats

	logger    *config.LogGroup
	callgraph *callgraph.Graph
	recursive map[*ssa.Function]bool
	exclude   []string
	orders    map[*ssa.Function][][]*ssa.BasicBlock
}

// New returns a driver for the program of state. The dynamic calls that the points-to facts do not resolve are
// resolved with the call graph computed with mode. The driver installs a taint tracker in the memory model.
func New(state *ptstate.State, mode analysis.CallgraphAnalysisMode) (*Driver, error) {
	if state.Program == nil {
		return nil, fmt.Errorf("no program to analyze")
	}
	cg, err := mode.ComputeCallgraph(state.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to compute call graph: %w", err)
	}
	tracker := taint.NewTracker(state.Order, state.Logger, state.Config.MaxTaintPaths)
	state.Model.SetTaintTracker(tracker)
	d := &Driver{
		State:     state,
		Tracker:   tracker,
		logger:    state.Logger,
		callgraph: cg,
		recursive: graphutil.RecursiveFunctions(cg),
		exclude:   analysisutil.MakeAbsolute(state.Config.Exclude),
		orders:    map[*ssa.Function][][]*ssa.BasicBlock{},
	}
	d.logger.Debugf("%d functions are recursive", len(d.recursive))
	return d, nil
}

// EntryPoints returns the entry points of prog according to cfg, sorted by name
func EntryPoints(cfg *config.Config, prog *ssa.Program) []*ssa.Function {
	var entries []*ssa.Function
	for f := range ssautil.AllFunctions(prog) {
		if analysisutil.IsEntryPoint(cfg, f) {
			entries = append(entries, f)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].String() < entries[j].String() })
	return entries
}

// Run analyzes each entry point in its own entry context, in order
func (d *Driver) Run(entries []*ssa.Function) {
	for _, entry := range entries {
		d.logger.Infof("Analyzing entry point %s", entry)
		d.Stats.Entries++
		d.visit(engine.New(d.State, entry, d.engineOptions()))
	}
}

func (d *Driver) engineOptions() engine.Options {
	opts := engine.Options{
		Resolver: func(site ssa.CallInstruction) []*ssa.Function {
			return analysis.CalleesOf(d.callgraph, site)
		},
	}
	if len(d.exclude) > 0 {
		opts.Exclude = func(f *ssa.Function) bool {
			return analysisutil.IsExcluded(d.State.Program, f, d.exclude)
		}
	}
	return opts
}

// visit visits the body of the function of e
func (d *Driver) visit(e *engine.Engine) {
	fn := e.Function()
	d.Stats.Bodies++
	d.logger.Tracef("visiting %s in %s", fn, d.State.Contexts.String(e.Context()))
	for _, component := range d.blockOrder(fn) {
		iterations := 1
		if isLoop(component) && d.State.Config.MaxLoopIterations > 1 {
			iterations = d.State.Config.MaxLoopIterations
		}
		for i := 0; i < iterations; i++ {
			for _, block := range component {
				for _, instr := range block.Instrs {
					d.visitInstruction(e, instr)
				}
			}
		}
	}
}

func (d *Driver) visitInstruction(e *engine.Engine, instr ssa.Instruction) {
	d.Stats.Instructions++
	e.Visit(instr)
	call, ok := instr.(ssa.CallInstruction)
	if !ok {
		return
	}
	if _, isBuiltin := call.Common().Value.(*ssa.Builtin); isBuiltin {
		return
	}
	callees := e.Callees(call)
	if len(callees) == 0 {
		d.Stats.Unresolved++
		d.logger.Debugf("no callee for %s in %s", call, e.Function())
		return
	}
	for _, callee := range callees {
		d.Stats.Calls++
		child, err := e.Call(call, callee)
		switch {
		case errors.Is(err, engine.ErrMaxDepth):
			d.Stats.DepthCuts++
		case errors.Is(err, engine.ErrRecursive):
			d.Stats.RecursionCuts++
			if !d.recursive[callee] {
				d.logger.Warnf("%s is on the call stack but not recursive in the call graph", callee)
			}
		case errors.Is(err, engine.ErrExcluded):
			d.Stats.Excluded++
		}
		if child == nil {
			if err == nil {
				d.Stats.External++
			}
			continue
		}
		d.visit(child)
		e.Stitch(call, child)
	}
}

// blockOrder returns the strongly connected components of the control flow graph of fn, in topological order. The
// blocks of a component are sorted by index.
func (d *Driver) blockOrder(fn *ssa.Function) [][]*ssa.BasicBlock {
	if order, ok := d.orders[fn]; ok {
		return order
	}
	sccs := graphutil.StronglyConnectedComponents(fn.Blocks, func(b *ssa.BasicBlock) []*ssa.BasicBlock {
		return b.Succs
	})
	// successors come first
	funcutil.Reverse(sccs)
	for _, scc := range sccs {
		sort.Slice(scc, func(i, j int) bool { return scc[i].Index < scc[j].Index })
	}
	d.orders[fn] = sccs
	return sccs
}

func isLoop(component []*ssa.BasicBlock) bool {
	if len(component) > 1 {
		return true
	}
	for _, s := range component[0].Succs {
		if s == component[0] {
			return true
		}
	}
	return false
}

// Recursive returns true if the function f belongs to a cycle of the call graph
func (d *Driver) Recursive(f *ssa.Function) bool {
	return d.recursive[f]
}

// Cycles returns the elementary cycles of the call graph between recursive functions that were analyzed
func (d *Driver) Cycles() [][]*ssa.Function {
	it := graphutil.NewCallgraphIterator(d.callgraph)
	var include []int64
	for _, id := range it.Keys {
		f := it.Function(id)
		if f != nil && d.recursive[f] && d.State.Visits(f) > 0 {
			include = append(include, id)
		}
	}
	var cycles [][]*ssa.Function
	for _, cycle := range graphutil.FindAllElementaryCycles(graphutil.Subgraph(it, include)) {
		cycles = append(cycles, funcutil.Map(cycle, it.Function))
	}
	return cycles
}

// Summary is the result summary of a run
type Summary struct {
	Stats
	ptstate.Summary
	Recursive    int
	TaintFlags   int
	TaintedAddrs int
}

// Summarize returns the summary of the run
func (d *Driver) Summarize() Summary {
	return Summary{
		Stats:        d.Stats,
		Summary:      d.State.Summarize(),
		Recursive:    len(d.recursive),
		TaintFlags:   d.Tracker.NumFlags(),
		TaintedAddrs: len(d.Tracker.TaintedFields()),
	}
}

// Tainted returns the fields reached by the data of each source instruction
func (d *Driver) Tainted() map[ssa.Instruction][]amo.Address {
	flows := d.Tracker.Flows()
	res := make(map[ssa.Instruction][]amo.Address, len(flows.Reached))
	for source := range flows.Reached {
		res[source] = flows.Destinations(source)
	}
	return res
}
