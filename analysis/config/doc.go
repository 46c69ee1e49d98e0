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
Package config provides a simple way to manage configuration files.

Use [Load](filename) to load a configuration from a specific filename.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file should be in yaml format. The top-level fields can be any of the fields defined in the Config
struct type. The other fields  are defined by the types of the fields of [Config] and nested struct types.
For example, a valid config file is as follows:

	options:
	  log-level: 4
	  max-depth: 6
	  container-ranking:
	    usage-weight: 4
	    name-weight: 2
	    size-weight: 1
	entry-points:
	  - package: "^example.com/driver$"
	    method: "^Handle"
	function-models:
	  - function:
	      package: "^example.com/driver/uapi$"
	      method: "CopyFromUser"
	    kind: user-copy
	    roles:
	      dst: 0
	      src: 1
	shared-types:
	  - type: "PrivateData$"

# Identifying code elements

The config uses [CodeIdentifier] to identify specific code entities. For example, entry points and modeled functions
are CodeIdentifiers which identifies specific functions in specific packages, or types, etc..
An important feature of the code identifiers is that the string specifications are seen as regexes if they can be
compiled to regexes, otherwise they are strings.

# Function models

Functions without a body are classified by [FunctionModel]: the kind of the model tells the points-to engine whether
the function allocates, copies memory, copies external input, duplicates an object or creates a handle. Functions
without a body and without a model return placeholder objects.
*/
package config
