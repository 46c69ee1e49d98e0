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
	"io"
	"strings"
)

// Debug returns a textual dump of the model: every object with its embedded objects and its edges
func (m *Model) Debug() string {
	var b strings.Builder
	for _, o := range m.objects[1:] {
		fmt.Fprintf(&b, "%s", o)
		if o.parent != NoObject {
			fmt.Fprintf(&b, " in o%d.%d", o.parent, o.parentField)
		}
		if o.Taint != NoTaint {
			fmt.Fprintf(&b, " taint:%s", o.Taint)
		}
		b.WriteString("\n")
		for _, f := range m.sortedFields(o) {
			if c, ok := o.embeds[f]; ok {
				fmt.Fprintf(&b, "  .%d embeds o%d\n", f, c)
			}
			for _, e := range m.Edges(Address{Obj: o.ID, Field: f}) {
				fmt.Fprintf(&b, "  %s\n", e)
			}
		}
	}
	return b.String()
}

// Graphviz writes the model in the dot format. Inactive edges are dashed, embeddings are bold.
func (m *Model) Graphviz(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph amo {\n  node [shape=box];"); err != nil {
		return err
	}
	for _, o := range m.objects[1:] {
		label := strings.ReplaceAll(o.String(), "\"", "'")
		if _, err := fmt.Fprintf(w, "  o%d [label=\"%s\"];\n", o.ID, label); err != nil {
			return err
		}
	}
	for _, o := range m.objects[1:] {
		for _, f := range m.sortedFields(o) {
			if c, ok := o.embeds[f]; ok {
				fmt.Fprintf(w, "  o%d -> o%d [style=bold, label=\"%d\"];\n", o.ID, c, f)
			}
			for _, e := range m.Edges(Address{Obj: o.ID, Field: f}) {
				style := "solid"
				if !e.IsActive() {
					style = "dashed"
				}
				fmt.Fprintf(w, "  o%d -> o%d [style=%s, label=\"%d->%d %s\"];\n",
					e.Src.Obj, e.Dst.Obj, style, e.Src.Field, e.Dst.Field, e.Strength)
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

// CheckInvariants returns the violations of the model invariants:
//   - no two active edges of a field have the same destination and strength;
//   - every edge of a field is in the points-from list of its destination, and conversely;
//   - every embedded object is the child of its host at its field.
func (m *Model) CheckInvariants() []error {
	var errs []error
	for _, o := range m.objects[1:] {
		for f, fs := range o.fields {
			seen := map[edgeKey]bool{}
			for _, id := range fs.edges {
				e := m.edges[id]
				if e.Src != (Address{Obj: o.ID, Field: f}) {
					errs = append(errs, fmt.Errorf("edge %s indexed at o%d.%d", e, o.ID, f))
				}
				key := edgeKey{src: e.Src, dst: e.Dst, strength: e.Strength}
				if e.IsActive() {
					if seen[key] {
						errs = append(errs, fmt.Errorf("duplicate active edge %s", e))
					}
					seen[key] = true
				}
				if !containsEdge(m.Object(e.Dst.Obj).pointsFrom, id) {
					errs = append(errs, fmt.Errorf("edge %s missing from points-from of o%d", e, e.Dst.Obj))
				}
			}
		}
		for _, id := range o.pointsFrom {
			e := m.edges[id]
			if e.Dst.Obj != o.ID {
				errs = append(errs, fmt.Errorf("edge %s in points-from of o%d", e, o.ID))
				continue
			}
			src := m.Object(e.Src.Obj)
			if fs, ok := src.fields[e.Src.Field]; !ok || !containsEdge(fs.edges, id) {
				errs = append(errs, fmt.Errorf("points-from edge %s missing from its source", e))
			}
		}
		if o.parent != NoObject {
			if c, ok := m.Object(o.parent).embeds[o.parentField]; !ok || c != o.ID {
				errs = append(errs, fmt.Errorf("o%d has parent o%d.%d which does not embed it", o.ID, o.parent,
					o.parentField))
			}
		}
		for f, c := range o.embeds {
			child := m.Object(c)
			if child.parent != o.ID || child.parentField != f {
				errs = append(errs, fmt.Errorf("o%d embeds o%d at %d, which has parent o%d.%d", o.ID, c, f,
					child.parent, child.parentField))
			}
		}
	}
	return errs
}

func containsEdge(ids []EdgeID, id EdgeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
