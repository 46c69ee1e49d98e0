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

/*
Package taint implements the taint flags of the points-to engine. A [Tracker] owns every flag: the memory model marks
the fields of source objects through [Tracker.MarkSource], asks for the flags live at a location with
[Tracker.LiveFlags], and copies flags alongside the points-to facts with [Tracker.CopyFlag].

Each flag remembers the flag it was copied from, so that the path from a source to any tainted field can be
reconstructed with [Tracker.Path]. The number of flags of a single field is bounded by the max-taint-paths option;
flags past the bound are dropped and counted.
*/
package taint
