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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/cmd/argot-pta/layout"
	"github.com/awslabs/ar-go-pta/cmd/argot-pta/pointsto"
	"github.com/awslabs/ar-go-pta/cmd/argot-pta/tools"
)

const usage = `argot-pta: context- and field-sensitive points-to analysis for Go
Usage:
  argot-pta [tool] [options] <Go file path(s)>
Tools:
  - pointsto: runs the points-to engine from the entry points and reports the facts, taint flows and model size
  - layout: prints the field layout of the struct types of the program
Examples:
  Run the engine: argot-pta pointsto --config=config.yaml main.go
  Print a layout: argot-pta layout -type 'Conn$' main.go`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "error: expected subcommand\n%s\n", usage)
		os.Exit(2)
	}

	// hardcode help flag
	if snd := os.Args[1]; snd == "-help" || snd == "--help" {
		fmt.Println(usage)
		return
	}

	// hardcode version flag
	if snd := os.Args[1]; snd == "-version" || snd == "--version" {
		fmt.Println(analysis.Version)
		return
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "pointsto":
		flags, err := pointsto.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := pointsto.Run(flags); err != nil {
			errExit(err)
		}
	case "layout":
		flags, err := layout.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := layout.Run(flags); err != nil {
			errExit(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unexpected command: %v\n", cmd)
		fmt.Fprintf(os.Stderr, "usage:\n%s\n", usage)
		os.Exit(2)
	}
}

func errExit(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	hint := tools.HintForErrorMessage(err.Error())
	if hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	os.Exit(2)
}
