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

package analysis

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// SSAStatistics counts the functions and instructions of a set of functions, and the instructions the points-to
// engine gives a special treatment to
type SSAStatistics struct {
	NumberOfFunctions         uint
	NumberOfNonemptyFunctions uint
	NumberOfBlocks            uint
	NumberOfInstructions      uint
	AllocationSites           uint
	Closures                  uint
	GoAndDefers               uint
	UnsafeConversions         uint
	PointerArithmetic         uint
}

// ComputeSSAStatistics returns the statistics of the functions
func ComputeSSAStatistics(functions map[*ssa.Function]bool) SSAStatistics {
	var result SSAStatistics
	for f := range functions {
		result.NumberOfFunctions++
		if len(f.Blocks) == 0 {
			continue
		}
		result.NumberOfNonemptyFunctions++
		for _, b := range f.Blocks {
			result.NumberOfBlocks++
			result.NumberOfInstructions += uint(len(b.Instrs))
			for _, i := range b.Instrs {
				result.count(i)
			}
		}
	}
	return result
}

func (s *SSAStatistics) count(instr ssa.Instruction) {
	switch x := instr.(type) {
	case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan:
		s.AllocationSites++
	case *ssa.MakeClosure:
		s.Closures++
	case *ssa.Go, *ssa.Defer:
		s.GoAndDefers++
	case *ssa.Convert:
		if isUnsafe(x.X.Type()) || isUnsafe(x.Type()) {
			s.UnsafeConversions++
		}
	case *ssa.BinOp:
		if (x.Op == token.ADD || x.Op == token.SUB) && isUintptr(x.Type()) {
			s.PointerArithmetic++
		}
	case *ssa.Call:
		if b, ok := x.Call.Value.(*ssa.Builtin); ok && b.Name() == "Add" {
			s.PointerArithmetic++
		}
	}
}

func isUnsafe(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.UnsafePointer
}

func isUintptr(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.Uintptr
}
