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
	"errors"
	"fmt"
)

var (
	// ErrNoContainer is returned when no containing type accommodates an out-of-bounds field address
	ErrNoContainer = errors.New("no container type found")

	// ErrTypeMismatch is returned when an object cannot be viewed as the requested type at the requested offset
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrParentConflict is returned when a host is requested for an object that is already embedded elsewhere
	ErrParentConflict = errors.New("object already embedded in a different host")
)

// A ConsistencyError reports that the object graph became incoherent. It is raised with panic: any further fact
// computed on the graph would be unsound.
type ConsistencyError struct {
	Object ObjectID
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent memory model at object %d: %s", e.Object, e.Reason)
}

func inconsistent(o ObjectID, format string, args ...any) {
	panic(&ConsistencyError{Object: o, Reason: fmt.Sprintf(format, args...)})
}
