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
	"fmt"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/lang"
	"github.com/awslabs/ar-go-pta/analysis/loc"
	"golang.org/x/tools/go/ssa"
)

// A Flag is the fact "the field Addr holds data from the source Source", established at Loc
type Flag struct {
	ID     amo.FlagID
	Mark   amo.TaintMark
	Source ssa.Instruction
	Addr   amo.Address
	Loc    loc.Location

	// Parent is the flag this flag was copied from, 0 for the flags of a source
	Parent amo.FlagID
}

func (f *Flag) String() string {
	src := "<preset>"
	if f.Source != nil {
		src = lang.FmtInstr(f.Source)
	}
	return fmt.Sprintf("flag%d(%s from %s @%s)", f.ID, f.Addr, src, f.Loc)
}

// Tracker stores the taint flags of a run and implements the taint collaborator of the memory model
type Tracker struct {
	order  *loc.Order
	logger *config.LogGroup
	max    int

	flags     []*Flag
	byAddr    map[amo.Address][]amo.FlagID
	flows     *Flows
	truncated int
}

// NewTracker returns an empty tracker. At most maxPerField flags are kept for a field; a non-positive bound disables
// the limit.
func NewTracker(order *loc.Order, logger *config.LogGroup, maxPerField int) *Tracker {
	return &Tracker{
		order:  order,
		logger: logger,
		max:    maxPerField,
		flags:  []*Flag{nil},
		byAddr: map[amo.Address][]amo.FlagID{},
		flows:  NewFlows(),
	}
}

// Flag returns the flag with id
func (t *Tracker) Flag(id amo.FlagID) *Flag {
	return t.flags[id]
}

// NumFlags returns the number of flags created
func (t *Tracker) NumFlags() int {
	return len(t.flags) - 1
}

// Truncated returns the number of flags dropped because a field had too many flags
func (t *Tracker) Truncated() int {
	return t.truncated
}

// Flows returns the flows from the sources recorded by the tracker
func (t *Tracker) Flows() *Flows {
	return t.flows
}

// MarkSource records that the field at a holds data from the source at l
func (t *Tracker) MarkSource(a amo.Address, mark amo.TaintMark, l loc.Location) {
	for _, id := range t.byAddr[a] {
		f := t.flags[id]
		if f.Parent == 0 && f.Source == l.Instr {
			if mark > f.Mark {
				f.Mark = mark
			}
			return
		}
	}
	t.add(&Flag{Mark: mark, Source: l.Instr, Addr: a, Loc: l})
}

// LiveFlags returns the flags of the field at a whose location reaches l. Flags with a global mark are live
// everywhere.
func (t *Tracker) LiveFlags(a amo.Address, l loc.Location) []amo.FlagID {
	var live []amo.FlagID
	for _, id := range t.byAddr[a] {
		f := t.flags[id]
		if f.Mark == amo.GlobalTaint || t.order.Reaches(f.Loc, l, nil) {
			live = append(live, id)
		}
	}
	return live
}

// CopyFlag copies the flag to the field at a, at l. A field gets at most one copy of the flags of a source.
func (t *Tracker) CopyFlag(flag amo.FlagID, a amo.Address, l loc.Location) {
	from := t.flags[flag]
	for _, id := range t.byAddr[a] {
		if t.flags[id].Source == from.Source {
			return
		}
	}
	t.add(&Flag{Mark: from.Mark, Source: from.Source, Addr: a, Loc: l, Parent: flag})
}

func (t *Tracker) add(f *Flag) {
	if t.max > 0 && len(t.byAddr[f.Addr]) >= t.max {
		t.truncated++
		t.logger.Debugf("too many taint flags at %s, dropping %s", f.Addr, f)
		return
	}
	f.ID = amo.FlagID(len(t.flags))
	t.flags = append(t.flags, f)
	t.byAddr[f.Addr] = append(t.byAddr[f.Addr], f.ID)
	if f.Source != nil {
		t.flows.add(f.Source, f.Addr)
	}
	t.logger.Tracef("new taint %s", f)
}

// IsTainted returns true if some flag of the field at a is live at l
func (t *Tracker) IsTainted(a amo.Address, l loc.Location) bool {
	return len(t.LiveFlags(a, l)) > 0
}

// Sources returns the distinct source instructions of the flags of the field at a that are live at l
func (t *Tracker) Sources(a amo.Address, l loc.Location) []ssa.Instruction {
	seen := map[ssa.Instruction]bool{}
	var sources []ssa.Instruction
	for _, id := range t.LiveFlags(a, l) {
		s := t.flags[id].Source
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return sources
}

// Path returns the flags leading from a source flag to the flag id, source first
func (t *Tracker) Path(id amo.FlagID) []*Flag {
	var path []*Flag
	for cur := id; cur != 0; cur = t.flags[cur].Parent {
		path = append([]*Flag{t.flags[cur]}, path...)
	}
	return path
}

// TaintedFields returns the fields that have at least one flag
func (t *Tracker) TaintedFields() []amo.Address {
	addrs := make([]amo.Address, 0, len(t.byAddr))
	for a := range t.byAddr {
		addrs = append(addrs, a)
	}
	return addrs
}

var _ amo.TaintTracker = (*Tracker)(nil)
