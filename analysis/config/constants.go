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

const (
	// DefaultMaxCallDepth is the default maximum number of call sites in a calling context
	DefaultMaxCallDepth = 8
	// DefaultMaxLoopIterations is the default number of times the blocks of a loop are visited
	DefaultMaxLoopIterations = 2
	// DefaultMaxArrayFields is the default number of array elements tracked separately
	DefaultMaxArrayFields = 64
	// DefaultMaxContainerCandidates is the default bound on the candidates of one container search
	DefaultMaxContainerCandidates = 256
	// DefaultMaxTaintPaths is the default bound on the number of taint flags of an (object, field) pair
	DefaultMaxTaintPaths = 32
	// DefaultTargetArch is the architecture used for type layouts when none is specified
	DefaultTargetArch = "amd64"
)
