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

package amo

import (
	"fmt"
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/loc"
	"golang.org/x/tools/go/ssa"
)

// An ObjectID identifies an object in a Model. The zero ObjectID is never a valid object.
type ObjectID int

// NoObject is the invalid object id
const NoObject ObjectID = 0

// An Address is a field of an object. Field 0 is also the address of the object itself.
type Address struct {
	Obj   ObjectID
	Field int
}

func (a Address) String() string {
	return fmt.Sprintf("o%d.%d", a.Obj, a.Field)
}

// Kind is the kind of memory region an object represents
type Kind uint8

const (
	// KindHeap is a modeled heap allocation (new, make, escaping composite literals)
	KindHeap Kind = iota
	// KindLocal is a stack allocation
	KindLocal
	// KindArgument is the pointee of a parameter of an entry point
	KindArgument
	// KindGlobal is a package-level variable
	KindGlobal
	// KindPlaceholder is the synthesized pointee of a pointer with no known pointee
	KindPlaceholder
	// KindHost is a synthesized object containing another object
	KindHost
	// KindEmbedded is an aggregate field of another object
	KindEmbedded
	// KindFunction is a function or a closure
	KindFunction
	// KindHandle is an object returned by an external handle creator
	KindHandle
)

// capabilities of each object kind. The graph algorithms only use those predicates.
type capabilities struct {
	name string
	// autoGenerated objects are synthesized, not modeled allocations
	autoGenerated bool
	// zeroed objects start with no pointee in any field
	zeroed bool
	// hasValue objects are represented by an SSA value
	hasValue bool
}

var kindCapabilities = [...]capabilities{
	KindHeap:        {name: "heap", zeroed: true, hasValue: true},
	KindLocal:       {name: "local", zeroed: true, hasValue: true},
	KindArgument:    {name: "arg", autoGenerated: true, hasValue: true},
	KindGlobal:      {name: "global", hasValue: true},
	KindPlaceholder: {name: "auto", autoGenerated: true},
	KindHost:        {name: "host", autoGenerated: true},
	KindEmbedded:    {name: "embed"},
	KindFunction:    {name: "func", zeroed: true, hasValue: true},
	KindHandle:      {name: "handle", autoGenerated: true, hasValue: true},
}

func (k Kind) String() string {
	if int(k) < len(kindCapabilities) {
		return kindCapabilities[k].name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// AutoGenerated returns true for kinds of synthesized objects
func (k Kind) AutoGenerated() bool {
	return kindCapabilities[k].autoGenerated
}

// Zeroed returns true for kinds of objects whose fields hold no pointer when they are created
func (k Kind) Zeroed() bool {
	return kindCapabilities[k].zeroed
}

// HasValue returns true for kinds of objects that are represented by an SSA value
func (k Kind) HasValue() bool {
	return kindCapabilities[k].hasValue
}

// TaintMark marks an object as a source of tainted data
type TaintMark uint8

const (
	// NoTaint is the mark of objects that are not sources
	NoTaint TaintMark = iota
	// LocalTaint marks sources whose data is only reachable in the current entry point
	LocalTaint
	// GlobalTaint marks sources shared by every entry point
	GlobalTaint
)

func (t TaintMark) String() string {
	switch t {
	case LocalTaint:
		return "local"
	case GlobalTaint:
		return "global"
	default:
		return "none"
	}
}

// An Object is an abstract memory region
type Object struct {
	ID   ObjectID
	Kind Kind

	// Type is the type of the region. A nil Type is an untyped object, typed by its first use.
	Type types.Type

	// Value is the SSA value the object is created for, if its kind has one
	Value ssa.Value

	// Site is the instruction that created the object, nil for objects created before any entry point
	Site ssa.Instruction

	// Const is true for read-only regions
	Const bool

	// Initialized is set by the first store into the object, whose location is recorded in InitSites
	Initialized bool
	InitSites   []loc.Location

	// Taint is the source mark of the object
	Taint TaintMark

	parent      ObjectID
	parentField int
	embeds      map[int]ObjectID
	fields      map[int]*fieldState
	pointsFrom  []EdgeID

	// collapsed arrays represent all their elements with element 0
	collapsed bool
}

type fieldState struct {
	edges []EdgeID
	// entry context of the last touch, for the reset protocol
	lastEntry loc.ContextID
	touched   bool

	// placeholder synthesized for the field
	placeholder ObjectID
}

// AutoGenerated returns true if the object was synthesized
func (o *Object) AutoGenerated() bool {
	return o.Kind.AutoGenerated()
}

// Parent returns the host of the object and the field it is embedded at
func (o *Object) Parent() (ObjectID, int, bool) {
	return o.parent, o.parentField, o.parent != NoObject
}

// Embedded returns the object embedded at field i
func (o *Object) Embedded(i int) (ObjectID, bool) {
	c, ok := o.embeds[i]
	return c, ok
}

// Fields returns the fields of the object that have edges, in no particular order
func (o *Object) Fields() []int {
	fields := make([]int, 0, len(o.fields))
	for f, fs := range o.fields {
		if len(fs.edges) > 0 {
			fields = append(fields, f)
		}
	}
	return fields
}

func (o *Object) String() string {
	t := "?"
	if o.Type != nil {
		t = o.Type.String()
	}
	if o.Value != nil {
		return fmt.Sprintf("o%d<%s %s %s>", o.ID, o.Kind, o.Value.Name(), t)
	}
	return fmt.Sprintf("o%d<%s %s>", o.ID, o.Kind, t)
}
