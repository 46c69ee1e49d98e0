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

	"github.com/awslabs/ar-go-pta/analysis/loc"
)

// An EdgeID identifies an edge in a Model
type EdgeID int

// Strength of an update
type Strength uint8

const (
	// Weak edges add a possible pointee to the field
	Weak Strength = iota
	// Strong edges replace the pointees of the field
	Strong
)

func (s Strength) String() string {
	if s == Strong {
		return "strong"
	}
	return "weak"
}

// Status of an edge. Edges are never removed, only deactivated.
type Status uint8

const (
	// Active edges are facts
	Active Status = iota
	// Inactive edges are kept for the history of the analysis
	Inactive
)

// An Edge is the fact "field Src may point to Dst", produced at Loc.
// The same edge is indexed by its source field and in the points-from list of its destination, so that activating
// or deactivating it updates both views at once.
type Edge struct {
	ID       EdgeID
	Src      Address
	Dst      Address
	Loc      loc.Location
	Strength Strength
	Status   Status
}

// IsActive returns true if the edge is active
func (e *Edge) IsActive() bool {
	return e.Status == Active
}

func (e *Edge) String() string {
	status := ""
	if e.Status == Inactive {
		status = " (inactive)"
	}
	return fmt.Sprintf("%s -%s-> %s @%s%s", e.Src, e.Strength, e.Dst, e.Loc, status)
}

type edgeKey struct {
	src      Address
	dst      Address
	strength Strength
}
