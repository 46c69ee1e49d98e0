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
	"fmt"
	"strings"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"golang.org/x/tools/go/ssa"
)

// NoArm is the arm of the tags that are not produced by a merge
const NoArm = -1

// A Tag records one step of the provenance of a fact: the load at Site that produced the object Obj, or the arm Arm of
// the merge at Site.
type Tag struct {
	Site ssa.Instruction
	Obj  amo.ObjectID
	Arm  int
}

func (t Tag) String() string {
	if t.Arm != NoArm {
		return fmt.Sprintf("%p#%d", t.Site, t.Arm)
	}
	return fmt.Sprintf("%p@o%d", t.Site, t.Obj)
}

// A Fact is a top-level points-to fact: the value it is attached to may point to Addr.
type Fact struct {
	Addr amo.Address

	// Tags is the provenance chain of the fact, oldest first
	Tags []Tag

	// Loc is the location where the fact is produced
	Loc loc.Location

	Status amo.Status

	// Delta is the displacement in bits from Addr, for integer values computed from addresses
	Delta    int64
	HasDelta bool

	// Summary is set when Addr stands for several memory locations, such as the elements of a slice. Stores to a
	// summary address are weak updates.
	Summary bool
}

// WithTag returns a copy of f whose chain is extended with t
func (f Fact) WithTag(t Tag) Fact {
	tags := make([]Tag, len(f.Tags), len(f.Tags)+1)
	copy(tags, f.Tags)
	f.Tags = append(tags, t)
	return f
}

// Root returns the oldest tag of the chain of f
func (f Fact) Root() (Tag, bool) {
	if len(f.Tags) == 0 {
		return Tag{}, false
	}
	return f.Tags[0], true
}

func (f Fact) String() string {
	var b strings.Builder
	b.WriteString(f.Addr.String())
	if f.HasDelta {
		fmt.Fprintf(&b, "%+d", f.Delta)
	}
	if len(f.Tags) > 0 {
		tags := make([]string, len(f.Tags))
		for i, t := range f.Tags {
			tags[i] = t.String()
		}
		fmt.Fprintf(&b, "[%s]", strings.Join(tags, ","))
	}
	return b.String()
}

type factKey struct {
	addr     amo.Address
	delta    int64
	hasDelta bool
	tags     string
}

func (f Fact) key() factKey {
	k := factKey{addr: f.Addr, delta: f.Delta, hasDelta: f.HasDelta}
	if len(f.Tags) > 0 {
		tags := make([]string, len(f.Tags))
		for i, t := range f.Tags {
			tags[i] = t.String()
		}
		k.tags = strings.Join(tags, ",")
	}
	return k
}

// Correlate pairs the destination facts with the source facts of a store when their provenance lines up: every fact
// has a chain, both sides have the same set of root tags, and there is more than one root. It returns, for each
// destination fact, the indexes of the source facts with the same root. The second result is false when the facts
// are not correlated, in which case all the pairs must be considered.
func Correlate(dst []Fact, src []Fact) ([][]int, bool) {
	dstRoots := map[Tag]bool{}
	srcRoots := map[Tag][]int{}
	for _, f := range dst {
		r, ok := f.Root()
		if !ok {
			return nil, false
		}
		dstRoots[r] = true
	}
	for i, f := range src {
		r, ok := f.Root()
		if !ok {
			return nil, false
		}
		srcRoots[r] = append(srcRoots[r], i)
	}
	if len(dstRoots) < 2 || len(dstRoots) != len(srcRoots) {
		return nil, false
	}
	for r := range dstRoots {
		if _, ok := srcRoots[r]; !ok {
			return nil, false
		}
	}
	pairs := make([][]int, len(dst))
	for i, f := range dst {
		r, _ := f.Root()
		pairs[i] = srcRoots[r]
	}
	return pairs, true
}

// Addresses returns the distinct addresses of the facts
func Addresses(facts []Fact) []amo.Address {
	seen := map[amo.Address]bool{}
	var addrs []amo.Address
	for _, f := range facts {
		if !seen[f.Addr] {
			seen[f.Addr] = true
			addrs = append(addrs, f.Addr)
		}
	}
	return addrs
}
