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

// Package analysistest contains the helpers the analysis tests use to build SSA programs, either from a source
// string or from a directory in testdata holding a main.go and a config.yaml.
package analysistest

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"testing"

	"github.com/awslabs/ar-go-pta/analysis"
	"github.com/awslabs/ar-go-pta/analysis/config"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadTest loads the program in the directory dir, looking for a main.go and a config.yaml. If additional files
// are specified as extraFiles, the program will be loaded using those files too.
func LoadTest(t *testing.T, dir string, extraFiles []string) (*ssa.Program, *config.Config) {
	var err error
	configFile := filepath.Join(dir, "config.yaml")
	config.SetGlobalConfig(configFile)
	files := []string{filepath.Join(dir, "./main.go")}
	for _, extraFile := range extraFiles {
		files = append(files, filepath.Join(dir, extraFile))
	}

	program, err := analysis.LoadProgram(nil, "", ssa.BuilderMode(0), files)
	if err != nil {
		t.Fatalf("error loading packages: %v", err)
	}
	cfg, err := config.LoadGlobal()
	if err != nil {
		t.Fatalf("error loading global config: %v", err)
	}
	return program, cfg
}

// LoadSource type-checks the single-file package in src and builds its SSA form. The only import the package can
// use without export data is "unsafe".
func LoadSource(t *testing.T, src string) (*ssa.Program, *ssa.Package) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "main.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("failed to parse test source: %v", err)
	}
	pkg := types.NewPackage("example.com/"+f.Name.Name, f.Name.Name)
	tc := &types.Config{Importer: importer.Default()}
	ssaPkg, _, err := ssautil.BuildPackage(tc, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		t.Fatalf("failed to build SSA for test source: %v", err)
	}
	return ssaPkg.Prog, ssaPkg
}

// Func returns the function or method named name in pkg, failing the test if it does not exist.
// Methods are named "T.m" where T is the (non-pointer) receiver type name.
func Func(t *testing.T, pkg *ssa.Package, name string) *ssa.Function {
	if f := pkg.Func(name); f != nil {
		return f
	}
	for _, m := range pkg.Members {
		typ, ok := m.(*ssa.Type)
		if !ok {
			continue
		}
		for _, recv := range []types.Type{typ.Type(), types.NewPointer(typ.Type())} {
			mset := pkg.Prog.MethodSets.MethodSet(recv)
			for i := 0; i < mset.Len(); i++ {
				sel := mset.At(i)
				if typ.Name()+"."+sel.Obj().Name() == name {
					return pkg.Prog.MethodValue(sel)
				}
			}
		}
	}
	t.Fatalf("function %s not found in package %s", name, pkg.Pkg.Path())
	return nil
}

// NamedType returns the type declared as name in pkg, failing the test if it does not exist.
func NamedType(t *testing.T, pkg *ssa.Package, name string) types.Type {
	obj := pkg.Pkg.Scope().Lookup(name)
	if obj == nil {
		t.Fatalf("type %s not found in package %s", name, pkg.Pkg.Path())
	}
	return obj.Type()
}

// FindInstr returns the first instruction of f satisfying pred, failing the test if there is none.
func FindInstr(t *testing.T, f *ssa.Function, pred func(ssa.Instruction) bool) ssa.Instruction {
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if pred(instr) {
				return instr
			}
		}
	}
	t.Fatalf("no matching instruction in %s", f.Name())
	return nil
}

// FindInstrs returns all the instructions of f satisfying pred, in block order.
func FindInstrs(f *ssa.Function, pred func(ssa.Instruction) bool) []ssa.Instruction {
	var res []ssa.Instruction
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if pred(instr) {
				res = append(res, instr)
			}
		}
	}
	return res
}
