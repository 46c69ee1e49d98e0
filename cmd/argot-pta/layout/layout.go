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

// Package layout implements the frontend printing the field geometry of the struct types of a program, as the
// points-to engine sees it on the target architecture.
package layout

import (
	"fmt"
	"go/types"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/geometry"
	"github.com/awslabs/ar-go-pta/analysis/ptstate"
	"github.com/awslabs/ar-go-pta/cmd/argot-pta/tools"
	"github.com/awslabs/ar-go-pta/internal/formatutil"
	"golang.org/x/tools/go/ssa"
)

// Usage is the usage of the layout command
const Usage = ` Print the field layout of the struct types of your program.
Usage:
  argot-pta layout [options] <package path(s)>
Examples:
  % argot-pta layout -type 'mypkg\.Conn$' -arch arm64 package...
`

// Flags represents the parsed flags of the layout command.
type Flags struct {
	tools.CommonFlags
	typeRegex string
	arch      string
	leaves    bool
}

// NewFlags returns the parsed flags of the layout command with args.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("layout")
	typeRegex := flags.FlagSet.String("type", ".*", "regex selecting the types to print")
	arch := flags.FlagSet.String("arch", "", "target architecture (defaults to the target-arch of the config)")
	leaves := flags.FlagSet.Bool("leaves", false, "print the flattened leaf fields instead of the outer fields")
	tools.SetUsage(flags.FlagSet, Usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, typeRegex: *typeRegex, arch: *arch, leaves: *leaves}, nil
}

// Run prints the layouts of the types selected by flags.
func Run(flags Flags) error {
	cfg, err := tools.LoadConfig(flags.CommonFlags)
	if err != nil {
		return err
	}
	re, err := regexp.Compile(flags.typeRegex)
	if err != nil {
		return fmt.Errorf("invalid type regex: %v", err)
	}
	program, err := analysis.LoadProgram(nil, "", ssa.InstantiateGenerics, flags.FlagSet.Args())
	if err != nil {
		return fmt.Errorf("could not load program: %v", err)
	}
	arch := flags.arch
	if arch == "" {
		arch = cfg.TargetArch
	}
	layouts := geometry.ForArch(arch, cfg.MaxArrayFields)
	for _, t := range ptstate.ModuleTypes(program) {
		if re.MatchString(t.String()) {
			PrintLayout(os.Stdout, layouts, t, flags.leaves)
		}
	}
	return nil
}

// PrintLayout writes the table of t to w: one line per outer field, or per leaf field if leaves is true
func PrintLayout(w io.Writer, layouts *geometry.Layouts, t types.Type, leaves bool) {
	table, err := layouts.Table(t)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", formatutil.Bold(t.String()), err)
		return
	}
	fmt.Fprintf(w, "%s (%d bits)\n", formatutil.Bold(t.String()), table.SizeBits)
	fields := table.Outer
	if leaves {
		fields = table.Leaves
	}
	for _, f := range fields {
		path := make([]string, len(f.Path))
		for i, p := range f.Path {
			path[i] = fmt.Sprintf("%d", p)
		}
		fmt.Fprintf(w, "  %6d %5d  %-10s %s\n", f.BitOffset, f.BitSize, strings.Join(path, "."), f.Type())
	}
	if table.Truncated {
		fmt.Fprintf(w, "  %s\n", formatutil.Faint("... elements past the bound are collapsed"))
	}
}
