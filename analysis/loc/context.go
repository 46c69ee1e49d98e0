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

// Package loc defines the program locations the points-to facts are stamped with: an instruction in a calling
// context. It also implements the program-order queries on locations (dominance and reachability with a list of
// blocking locations) that the points-to engine delegates to the control-flow graph.
package loc

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-go-pta/internal/graphutil"
	"golang.org/x/tools/go/ssa"
)

// A ContextID identifies a calling context in a Contexts table
type ContextID int

// PreEntry is the context of the facts established before any entry point is analyzed (globals, presets)
const PreEntry ContextID = 0

// A Frame is one level of a calling context: the function analyzed and the call site it was called from. The
// outermost frame of a context has no call site; its function is the entry point.
type Frame struct {
	ID     ContextID
	Site   ssa.CallInstruction
	Callee *ssa.Function
}

type frameKey struct {
	parent ContextID
	site   ssa.CallInstruction
	callee *ssa.Function
}

// Contexts interns calling contexts. Contexts form a tree rooted at PreEntry whose children are the contexts of the
// entry points; the other contexts are created lazily when a call is analyzed.
type Contexts struct {
	nodes []*graphutil.Tree[Frame]
	index map[frameKey]ContextID
}

// NewContexts returns a table containing only the PreEntry context
func NewContexts() *Contexts {
	root := graphutil.NewTree(Frame{ID: PreEntry})
	return &Contexts{
		nodes: []*graphutil.Tree[Frame]{root},
		index: map[frameKey]ContextID{},
	}
}

// Entry returns the context of the entry point fn
func (c *Contexts) Entry(fn *ssa.Function) ContextID {
	return c.Push(PreEntry, nil, fn)
}

// Push returns the context of a call to callee at site, from the context parent
func (c *Contexts) Push(parent ContextID, site ssa.CallInstruction, callee *ssa.Function) ContextID {
	key := frameKey{parent: parent, site: site, callee: callee}
	if id, ok := c.index[key]; ok {
		return id
	}
	id := ContextID(len(c.nodes))
	c.nodes = append(c.nodes, c.nodes[parent].AddChild(Frame{ID: id, Site: site, Callee: callee}))
	c.index[key] = id
	return id
}

// Len returns the number of contexts, including PreEntry
func (c *Contexts) Len() int {
	return len(c.nodes)
}

// Frame returns the innermost frame of the context
func (c *Contexts) Frame(id ContextID) Frame {
	return c.nodes[id].Label
}

// Parent returns the context of the caller, or PreEntry for entry contexts
func (c *Contexts) Parent(id ContextID) ContextID {
	p := c.nodes[id].Parent
	if p == nil {
		return PreEntry
	}
	return p.Label.ID
}

// Function returns the function analyzed in the context
func (c *Contexts) Function(id ContextID) *ssa.Function {
	return c.nodes[id].Label.Callee
}

// Chain returns the contexts from the entry context (excluded PreEntry) to id, outermost first
func (c *Contexts) Chain(id ContextID) []ContextID {
	var chain []ContextID
	for _, t := range c.nodes[id].Ancestors(-1) {
		if t.Label.ID != PreEntry {
			chain = append(chain, t.Label.ID)
		}
	}
	return chain
}

// Depth returns the number of call sites in the context; entry contexts have depth 0 and PreEntry has depth -1
func (c *Contexts) Depth(id ContextID) int {
	return len(c.Chain(id)) - 1
}

// EntryContext returns the entry context id belongs to, or PreEntry for PreEntry
func (c *Contexts) EntryContext(id ContextID) ContextID {
	chain := c.Chain(id)
	if len(chain) == 0 {
		return PreEntry
	}
	return chain[0]
}

// EntryFunction returns the entry point of the context: the function of its outermost frame
func (c *Contexts) EntryFunction(id ContextID) *ssa.Function {
	return c.Function(c.EntryContext(id))
}

// Sites returns the call sites of the context, outermost first
func (c *Contexts) Sites(id ContextID) []ssa.CallInstruction {
	var sites []ssa.CallInstruction
	for _, ctx := range c.Chain(id) {
		if s := c.nodes[ctx].Label.Site; s != nil {
			sites = append(sites, s)
		}
	}
	return sites
}

// IsAncestor returns true if anc is id or one of its callers
func (c *Contexts) IsAncestor(anc ContextID, id ContextID) bool {
	for cur := c.nodes[id]; cur != nil; cur = cur.Parent {
		if cur.Label.ID == anc {
			return true
		}
	}
	return false
}

// OnStack returns true if fn is analyzed in id or one of its callers
func (c *Contexts) OnStack(id ContextID, fn *ssa.Function) bool {
	for cur := c.nodes[id]; cur != nil; cur = cur.Parent {
		if cur.Label.Callee == fn {
			return true
		}
	}
	return false
}

// Common returns the deepest context that is an ancestor of both a and b
func (c *Contexts) Common(a ContextID, b ContextID) ContextID {
	ca, cb := c.Chain(a), c.Chain(b)
	common := PreEntry
	for i := 0; i < len(ca) && i < len(cb) && ca[i] == cb[i]; i++ {
		common = ca[i]
	}
	return common
}

// ChildToward returns the context on the chain of id that is a direct child of anc. It returns false if anc is not a
// strict ancestor of id.
func (c *Contexts) ChildToward(anc ContextID, id ContextID) (ContextID, bool) {
	for cur := c.nodes[id]; cur.Parent != nil; cur = cur.Parent {
		if cur.Parent.Label.ID == anc {
			return cur.Label.ID, true
		}
	}
	return PreEntry, false
}

// String returns a readable representation of the context
func (c *Contexts) String(id ContextID) string {
	if id == PreEntry {
		return "<pre-entry>"
	}
	var parts []string
	for _, ctx := range c.Chain(id) {
		f := c.nodes[ctx].Label
		if f.Site == nil {
			parts = append(parts, f.Callee.String())
		} else {
			parts = append(parts, fmt.Sprintf("%s@%s", f.Callee.Name(), f.Site.Parent().Name()))
		}
	}
	return "[" + strings.Join(parts, " > ") + "]"
}
