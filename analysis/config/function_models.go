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

package config

// ModelKind is the behavior of a function without a body, as seen by the points-to engine
type ModelKind string

const (
	// ModelAllocator functions return a pointer to a freshly allocated object
	ModelAllocator ModelKind = "allocator"
	// ModelBulkCopy functions copy the memory pointed to by the "src" argument into the memory pointed to by "dst"
	ModelBulkCopy ModelKind = "bulk-copy"
	// ModelUserCopy functions are bulk copies whose source is external input; the destination becomes a taint source
	ModelUserCopy ModelKind = "user-copy"
	// ModelDuplicate functions return a new object that is a copy of the object pointed to by "src"
	ModelDuplicate ModelKind = "duplicate"
	// ModelHandleCreator functions return a handle whose pointees are shared between entry points
	ModelHandleCreator ModelKind = "handle-creator"
	// ModelSource functions return external input; the objects pointed to by their result become taint sources
	ModelSource ModelKind = "source"
	// ModelNoop functions have no effect on memory
	ModelNoop ModelKind = "noop"
)

var modelKinds = map[ModelKind]bool{
	ModelAllocator:     true,
	ModelBulkCopy:      true,
	ModelUserCopy:      true,
	ModelDuplicate:     true,
	ModelHandleCreator: true,
	ModelSource:        true,
	ModelNoop:          true,
}

// Argument roles used by the function models
const (
	RoleDst  = "dst"
	RoleSrc  = "src"
	RoleSize = "size"
)

// A FunctionModel classifies the functions matched by Function. It is only consulted for functions without a body.
//
// Example:
//
//	function-models:
//	  - function:
//	      package: "^bytes$"
//	      method: "Clone"
//	    kind: duplicate
//	    roles:
//	      src: 0
type FunctionModel struct {
	Function CodeIdentifier `yaml:"function"`

	Kind ModelKind `yaml:"kind"`

	// Roles maps a role (dst, src, size) to an argument index. The receiver of a method is argument 0.
	Roles map[string]int `yaml:"roles"`

	// TaintResult marks the objects returned by the function as taint sources
	TaintResult bool `yaml:"taint-result"`
}

// Role returns the index of the argument playing the role, if the model defines it
func (m FunctionModel) Role(role string) (int, bool) {
	if m.Roles == nil {
		return -1, false
	}
	i, ok := m.Roles[role]
	return i, ok
}

// ModelOf returns the model of the function identified by cid, if some function model matches it.
// The first matching model wins.
func (c Config) ModelOf(cid CodeIdentifier) (FunctionModel, bool) {
	for _, m := range c.FunctionModels {
		if cid.equalOnNonEmptyFields(m.Function) {
			return m, true
		}
	}
	return FunctionModel{}, false
}
