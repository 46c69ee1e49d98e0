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

// Package pointsto implements the frontend of the points-to engine: it loads a program, runs the reference driver
// from its entry points and reports the facts, the taint flows and the size of the memory model.
package pointsto

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/driver"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/cmd/argot-pta/tools"
	"github.com/awslabs/ar-go-pta/internal/formatutil"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Usage is the usage of the pointsto command
const Usage = ` Run the points-to engine from the entry points of your program.
Usage:
  argot-pta pointsto [options] <package path(s)>
Examples:
  % argot-pta pointsto -config config.yaml -callgraph vta package...
  % argot-pta pointsto -facts -dot model.dot main.go
`

// Flags represents the parsed flags of the pointsto command.
type Flags struct {
	tools.CommonFlags
	callgraph string
	dotFile   string
	cycles    bool
	facts     bool
}

// NewFlags returns the parsed flags of the pointsto command with args.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("pointsto")
	callgraph := flags.FlagSet.String("callgraph", "cha", "call graph resolving the dynamic calls (static, cha, vta)")
	dotFile := flags.FlagSet.String("dot", "", "write the memory model in the dot format to this file")
	cycles := flags.FlagSet.Bool("cycles", false, "print the call cycles between analyzed functions")
	facts := flags.FlagSet.Bool("facts", false, "print the points-to facts of every value")
	tools.SetUsage(flags.FlagSet, Usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{
		CommonFlags: common,
		callgraph:   *callgraph,
		dotFile:     *dotFile,
		cycles:      *cycles,
		facts:       *facts,
	}, nil
}

// Run runs the points-to engine with flags.
func Run(flags Flags) error {
	cfg, err := tools.LoadConfig(flags.CommonFlags)
	if err != nil {
		return err
	}
	mode, err := tools.CallgraphMode(flags.callgraph)
	if err != nil {
		return err
	}
	logger := config.NewLogGroup(cfg)
	logger.Infof(formatutil.Faint("argot-pta pointsto - " + analysis.Version))
	logger.Infof(formatutil.Faint("Reading sources"))

	program, err := analysis.LoadProgram(nil, "", ssa.InstantiateGenerics, flags.FlagSet.Args())
	if err != nil {
		return fmt.Errorf("could not load program: %v", err)
	}
	stats := analysis.ComputeSSAStatistics(ssautil.AllFunctions(program))
	logger.Infof("Program: %d functions (%d with bodies), %d instructions, %d allocation sites",
		stats.NumberOfFunctions, stats.NumberOfNonemptyFunctions, stats.NumberOfInstructions, stats.AllocationSites)
	logger.Debugf("Unsafe conversions: %d, pointer arithmetic: %d, closures: %d",
		stats.UnsafeConversions, stats.PointerArithmetic, stats.Closures)

	state := ptstate.New(cfg, logger, program)
	d, err := driver.New(state, mode)
	if err != nil {
		return fmt.Errorf("points-to analysis failed: %v", err)
	}
	entries := driver.EntryPoints(cfg, program)
	if len(entries) == 0 {
		return fmt.Errorf("points-to analysis failed: no entry point in the program")
	}

	start := time.Now()
	d.Run(entries)
	duration := time.Since(start)
	logger.Infof("")
	logger.Infof(strings.Repeat("*", 80))
	logger.Infof("Analysis took %3.4f s", duration.Seconds())
	logger.Infof("")

	for _, err := range state.Model.CheckInvariants() {
		logger.Errorf("invariant violation: %v", err)
	}
	Report(os.Stdout, d, flags.facts)
	if flags.cycles {
		ReportCycles(os.Stdout, d)
	}
	if flags.dotFile != "" {
		f, err := os.Create(flags.dotFile)
		if err != nil {
			return fmt.Errorf("could not create dot file: %v", err)
		}
		defer f.Close()
		if err := state.Model.Graphviz(f); err != nil {
			return fmt.Errorf("could not write dot file: %v", err)
		}
	}
	return nil
}

// Report writes the summary of the run of d to w, followed by the taint flows. If facts is true, the points-to
// facts of the values of each context are written too.
func Report(w io.Writer, d *driver.Driver, facts bool) {
	s := d.Summarize()
	fmt.Fprintln(w, formatutil.Bold("Summary"))
	rows := []struct {
		name  string
		value int
	}{
		{"entry points", s.Entries},
		{"functions analyzed", s.Functions},
		{"function bodies visited", s.Bodies},
		{"instructions visited", s.Instructions},
		{"calls", s.Calls},
		{"modeled or opaque calls", s.External},
		{"unresolved calls", s.Unresolved},
		{"calls cut by depth", s.DepthCuts},
		{"calls cut by recursion", s.RecursionCuts},
		{"excluded calls", s.Excluded},
		{"recursive functions", s.Recursive},
		{"contexts", s.Contexts},
		{"objects", s.Objects},
		{"edges", s.Edges},
		{"active edges", s.ActiveEdges},
		{"failed container searches", s.Failures},
		{"shared placeholders", s.Shared},
		{"taint flags", s.TaintFlags},
		{"tainted fields", s.TaintedAddrs},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %-28s %d\n", row.name, row.value)
	}
	reportTaint(w, d)
	if facts {
		reportFacts(w, d.State)
	}
}

func reportTaint(w io.Writer, d *driver.Driver) {
	tainted := d.Tainted()
	if len(tainted) == 0 {
		return
	}
	prog := d.State.Program
	sources := make([]ssa.Instruction, 0, len(tainted))
	for source := range tainted {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return position(prog, sources[i]) < position(prog, sources[j]) })
	fmt.Fprintln(w, formatutil.Bold("Taint flows"))
	for _, source := range sources {
		fmt.Fprintf(w, "  %s %s\n", formatutil.Red("source"), position(prog, source))
		for _, a := range tainted[source] {
			fmt.Fprintf(w, "    -> %s in %s\n", a, d.State.Model.Object(a.Obj))
		}
	}
}

func reportFacts(w io.Writer, state *ptstate.State) {
	fmt.Fprintln(w, formatutil.Bold("Facts"))
	for _, ctx := range state.ContextsWithFacts() {
		fmt.Fprintf(w, "  %s\n", formatutil.Cyan(state.Contexts.String(ctx)))
		keys := state.Values(ctx)
		sort.Slice(keys, func(i, j int) bool { return keyName(keys[i]) < keyName(keys[j]) })
		for _, k := range keys {
			facts := state.Facts(ctx, k)
			if len(facts) == 0 {
				continue
			}
			names := make([]string, len(facts))
			for i, f := range facts {
				names[i] = f.String()
			}
			fmt.Fprintf(w, "    %-16s %s\n", keyName(k), strings.Join(names, ", "))
		}
	}
}

// ReportCycles writes the call cycles between the analyzed recursive functions to w
func ReportCycles(w io.Writer, d *driver.Driver) {
	cycles := d.Cycles()
	fmt.Fprintf(w, "%s (%d)\n", formatutil.Bold("Call cycles"), len(cycles))
	for _, cycle := range cycles {
		names := make([]string, len(cycle))
		for i, f := range cycle {
			names[i] = f.String()
		}
		fmt.Fprintf(w, "  %s\n", strings.Join(names, " -> "))
	}
}

func keyName(k ptstate.ValueKey) string {
	if k.Value == nil {
		return fmt.Sprintf("return#%d", k.Index)
	}
	if k.Index > 0 {
		return fmt.Sprintf("%s#%d", k.Value.Name(), k.Index)
	}
	return k.Value.Name()
}

func position(prog *ssa.Program, instr ssa.Instruction) string {
	if prog != nil && prog.Fset != nil && instr.Pos().IsValid() {
		return prog.Fset.Position(instr.Pos()).String()
	}
	return formatutil.SanitizeRepr(instr)
}
