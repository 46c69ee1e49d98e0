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

// Package analysisutil contains utility functions for the analyses in argot-pta.
// These functions are in an internal package because they are not important
// enough to be included in the main library.
package analysisutil

import (
	"fmt"
	"go/types"

	"github.com/awslabs/ar-go-pta/analysis/config"
	"github.com/awslabs/ar-go-pta/analysis/lang"
	. "github.com/awslabs/ar-go-pta/internal/funcutil"

	"golang.org/x/tools/go/ssa"
)

// FindTypePackage finds the package declaring t or returns an error
// Returns a package path and the name of the type declared in that package
func FindTypePackage(t types.Type) (string, string, error) {
	switch typ := t.(type) {
	case *types.Pointer:
		return FindTypePackage(typ.Elem()) // recursive call
	case *types.Named:
		// Return package path, type name
		obj := typ.Obj()
		if obj == nil {
			return "", "", fmt.Errorf("could not get name")
		}
		if pkg := obj.Pkg(); pkg != nil {
			return pkg.Path(), obj.Name(), nil
		}
		// obj is in Universe
		return "", obj.Name(), nil
	case *types.Array:
		return FindTypePackage(typ.Elem()) // recursive call
	case *types.Slice:
		return FindTypePackage(typ.Elem()) // recursive call
	case *types.Basic, *types.Tuple, *types.Interface, *types.Signature, *types.Map, *types.Chan:
		return "", "", fmt.Errorf("%s: not a type with a package and name", typ)
	case *types.Struct:
		// Anonymous structs
		return "", "", fmt.Errorf("%s: not a type with a package and name", typ)
	default:
		return "", "", fmt.Errorf("unexpected type %T %v", typ, typ)
	}
}

// TypeIdentifier returns the code identifier of a named type, to be matched against the shared types of the config
func TypeIdentifier(t types.Type) Optional[config.CodeIdentifier] {
	if _, ok := t.(*types.Named); !ok {
		return None[config.CodeIdentifier]()
	}
	pkg, name, err := FindTypePackage(t)
	if err != nil {
		return None[config.CodeIdentifier]()
	}
	return Some(config.CodeIdentifier{Package: pkg, Type: name})
}

// FunctionIdentifier returns the code identifier of the function, to be matched against the entry points and the
// function models of the config
func FunctionIdentifier(f *ssa.Function) config.CodeIdentifier {
	pkg, receiver, name := lang.FunctionIdentity(f)
	return config.CodeIdentifier{Package: pkg, Method: name, Receiver: receiver}
}

// FieldAddrFieldName finds the name of a field access in ssa.FieldAddr
// if it cannot find a proper field name, returns "?"
func FieldAddrFieldName(fieldAddr *ssa.FieldAddr) string {
	return lang.GetFieldNameFromType(fieldAddr.X.Type().Underlying(), fieldAddr.Field)
}

// FieldFieldName finds the name of a field access in ssa.Field
// if it cannot find a proper field name, returns "?"
func FieldFieldName(field *ssa.Field) string {
	return lang.GetFieldNameFromType(field.X.Type().Underlying(), field.Field)
}

// AccessedFieldName follows v back through conversions and pointer arithmetic to the field address it is computed
// from, and returns the name of that field. It returns "" when v is not derived from a field address.
func AccessedFieldName(v ssa.Value) string {
	seen := map[ssa.Value]bool{}
	for v != nil && !seen[v] {
		seen[v] = true
		switch x := v.(type) {
		case *ssa.FieldAddr:
			return FieldAddrFieldName(x)
		case *ssa.Field:
			return FieldFieldName(x)
		case *ssa.Convert:
			v = x.X
		case *ssa.ChangeType:
			v = x.X
		case *ssa.BinOp:
			v = x.X
		case *ssa.Call:
			// unsafe.Add(ptr, len)
			if b, ok := x.Call.Value.(*ssa.Builtin); ok && b.Name() == "Add" && len(x.Call.Args) > 0 {
				v = x.Call.Args[0]
			} else {
				return ""
			}
		default:
			return ""
		}
	}
	return ""
}

// IsEntryPoint returns true if the function f is an entry point of the analysis according to cfg. When the config
// does not list entry points, the main and init functions of the main packages are the entry points.
func IsEntryPoint(cfg *config.Config, f *ssa.Function) bool {
	if f == nil || lang.IsExternal(f) {
		return false
	}
	if len(cfg.EntryPoints) > 0 {
		return cfg.IsEntryPoint(FunctionIdentifier(f))
	}
	if f.Pkg == nil || f.Pkg.Pkg.Name() != "main" || f.Signature.Recv() != nil || f.Parent() != nil {
		return false
	}
	return f.Name() == "main" || f.Name() == "init"
}
