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
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/amo"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"
)

type sharedEntry struct {
	entry *ssa.Function
	obj   amo.ObjectID
}

// SharedCache holds the placeholders shared between entry points, by pointee type. The placeholder chosen for an
// entry point is the cached one with the best compatibility score: the one of the same entry point, then one of an
// entry point of the same receiver type, then one of the same package, then any other: the cache only holds
// placeholders of types configured as shared, whose state outlives a single entry point.
type SharedCache struct {
	entries typeutil.Map // types.Type -> []sharedEntry
}

// NewSharedCache returns an empty cache
func NewSharedCache() *SharedCache {
	return &SharedCache{}
}

// Lookup returns the placeholder of type t to use in the entry point entry
func (c *SharedCache) Lookup(t types.Type, entry *ssa.Function) (amo.ObjectID, bool) {
	entries, _ := c.entries.At(t).([]sharedEntry)
	best, bestScore := amo.NoObject, -1
	for _, e := range entries {
		if s := compatibility(e.entry, entry); s > bestScore {
			best, bestScore = e.obj, s
		}
	}
	return best, best != amo.NoObject
}

// Store records the placeholder obj of type t synthesized in entry
func (c *SharedCache) Store(t types.Type, entry *ssa.Function, obj amo.ObjectID) {
	entries, _ := c.entries.At(t).([]sharedEntry)
	c.entries.Set(t, append(entries, sharedEntry{entry: entry, obj: obj}))
}

// Len returns the number of types in the cache
func (c *SharedCache) Len() int {
	return c.entries.Len()
}

func compatibility(cached *ssa.Function, entry *ssa.Function) int {
	switch {
	case cached == entry:
		return 3
	case cached == nil || entry == nil:
		return 0
	case cached.Signature.Recv() != nil && entry.Signature.Recv() != nil &&
		types.Identical(cached.Signature.Recv().Type(), entry.Signature.Recv().Type()):
		return 2
	case cached.Pkg != nil && cached.Pkg == entry.Pkg:
		return 1
	default:
		return 0
	}
}
