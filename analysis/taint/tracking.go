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

package taint

import (
	"sort"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"golang.org/x/tools/go/ssa"
)

// Flows stores information about where the data coming from specific source instructions flows to.
type Flows struct {
	// Reached maps the source instructions to the fields their data has been copied to.
	// More precisely, Reached[source][addr] <== data from source flows to addr
	Reached map[ssa.Instruction]map[amo.Address]bool
}

// NewFlows returns a new object to track the flows from sources
func NewFlows() *Flows {
	return &Flows{Reached: map[ssa.Instruction]map[amo.Address]bool{}}
}

// add records that the data of source reaches addr. It returns true if the flow is new.
func (f *Flows) add(source ssa.Instruction, addr amo.Address) bool {
	if _, ok := f.Reached[source]; !ok {
		f.Reached[source] = map[amo.Address]bool{}
	}
	if f.Reached[source][addr] {
		return false
	}
	f.Reached[source][addr] = true
	return true
}

// Destinations returns the fields reached by the data of source, sorted
func (f *Flows) Destinations(source ssa.Instruction) []amo.Address {
	var addrs []amo.Address
	for a := range f.Reached[source] {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Obj != addrs[j].Obj {
			return addrs[i].Obj < addrs[j].Obj
		}
		return addrs[i].Field < addrs[j].Field
	})
	return addrs
}

// NumFlows returns the number of (source, field) pairs recorded
func (f *Flows) NumFlows() int {
	n := 0
	for _, dests := range f.Reached {
		n += len(dests)
	}
	return n
}
