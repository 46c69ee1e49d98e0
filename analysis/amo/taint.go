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

import "github.com/awslabs/ar-go-pta/analysis/loc"

// A FlagID identifies a taint flag. Flags are owned by the TaintTracker; the model only moves their ids around.
type FlagID int

// A TaintTracker owns the taint facts attached to the fields of the objects. The model calls it to mark the sources
// and to copy the facts alongside the points-to facts.
type TaintTracker interface {
	// MarkSource records that the field at a holds data from a source from the location l
	MarkSource(a Address, mark TaintMark, l loc.Location)

	// LiveFlags returns the flags of the field at a that are live at l
	LiveFlags(a Address, l loc.Location) []FlagID

	// CopyFlag copies the flag to the field at a, at l
	CopyFlag(flag FlagID, a Address, l loc.Location)
}

type noTracker struct{}

func (noTracker) MarkSource(Address, TaintMark, loc.Location) {}
func (noTracker) LiveFlags(Address, loc.Location) []FlagID { return nil }
func (noTracker) CopyFlag(FlagID, Address, loc.Location) {}
