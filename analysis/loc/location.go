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

package loc

import (
	"fmt"

	"github.com/awslabs/ar-go-pta/analysis/lang"
	"golang.org/x/tools/go/ssa"
)

// A Location is a program point in a calling context. Three shapes exist:
//   - an instruction location, where Instr is set and Fn is Instr.Parent();
//   - a function entry location, where Instr is nil and Fn is set, which is positioned before the first instruction;
//   - the pre-entry location, with neither Instr nor Fn, which precedes every other location.
//
// Locations are comparable and can be used as map keys.
type Location struct {
	Instr ssa.Instruction
	Fn    *ssa.Function
	Ctx   ContextID
}

// PreEntryLocation is the location of the facts established before the analysis of any entry point
var PreEntryLocation = Location{Ctx: PreEntry}

// At returns the location of instr in ctx
func At(instr ssa.Instruction, ctx ContextID) Location {
	return Location{Instr: instr, Fn: instr.Parent(), Ctx: ctx}
}

// EntryOf returns the entry location of fn in ctx
func EntryOf(fn *ssa.Function, ctx ContextID) Location {
	return Location{Fn: fn, Ctx: ctx}
}

// IsPreEntry returns true if l is the pre-entry location
func (l Location) IsPreEntry() bool {
	return l.Instr == nil && l.Fn == nil
}

// IsEntry returns true if l is the entry location of a function
func (l Location) IsEntry() bool {
	return l.Instr == nil && l.Fn != nil
}

func (l Location) String() string {
	switch {
	case l.IsPreEntry():
		return "<pre-entry>"
	case l.IsEntry():
		return fmt.Sprintf("%s:entry#%d", l.Fn.Name(), l.Ctx)
	default:
		return fmt.Sprintf("%s:%d.%d#%d", l.Fn.Name(), l.Instr.Block().Index, lang.InstrIndex(l.Instr), l.Ctx)
	}
}

// position is a location projected in a single function body. The function entry is at block 0, index -1.
type position struct {
	block int
	index int
	// deeper is set when the location is in a callee and the position is the call site leading to it
	deeper bool
}

func (p position) samePoint(q position) bool {
	return p.block == q.block && p.index == q.index
}

func entryPosition() position {
	return position{block: 0, index: -1}
}

func instrPosition(instr ssa.Instruction) position {
	return position{block: instr.Block().Index, index: lang.InstrIndex(instr)}
}
