// Package main implements an import layering linter for the ledger packages.
//
// The kernel sits at the bottom: it may not import the memory subsystem, the
// capability layer or any outer surface. The memory subsystem may not import
// the HTTP or archive layers. Test files are not checked.
//
// Usage:
//
//	go run ./tools/layercheck [-root <module-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "github.com/francescomaiomascio/yai/"

// rules maps a package directory (relative to the module root) to the import
// path fragments it must not contain.
var rules = map[string][]string{
	"pkg/canonicalize": {modulePath},
	"pkg/ids":          {modulePath},
	"pkg/kernel": {
		modulePath + "pkg/memory",
		modulePath + "pkg/capabilities",
		modulePath + "pkg/api",
		modulePath + "pkg/archive",
		modulePath + "pkg/observability",
		modulePath + "pkg/config",
	},
	"pkg/capabilities": {
		modulePath + "pkg/kernel",
		modulePath + "pkg/memory",
		modulePath + "pkg/api",
	},
	"pkg/memory": {
		modulePath + "pkg/api",
		modulePath + "pkg/archive",
		modulePath + "pkg/observability",
	},
	"pkg": {modulePath + "cmd/"},
}

// violation is one forbidden import.
type violation struct {
	File     string
	Line     int
	Import   string
	Fragment string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Fragment)
}

func main() {
	root := flag.String("root", ".", "Module root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root, rules)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	fmt.Fprintln(stdout, "layer check passed")
	return 0
}

// check walks every rule directory under root and reports forbidden imports,
// sorted by file and line.
func check(root string, rules map[string][]string) ([]violation, error) {
	fset := token.NewFileSet()
	var out []violation
	for dir, fragments := range rules {
		base := filepath.Join(root, filepath.FromSlash(dir))
		if _, err := os.Stat(base); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" || info.Name() == "vendor" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range fragments {
					if !strings.Contains(importPath, frag) || selfImport(dir, importPath) {
						continue
					}
					rel, _ := filepath.Rel(root, path)
					out = append(out, violation{
						File:     filepath.ToSlash(rel),
						Line:     fset.Position(imp.Pos()).Line,
						Import:   importPath,
						Fragment: frag,
					})
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out, nil
}

// selfImport reports whether importPath is the checked package itself.
func selfImport(dir, importPath string) bool {
	return importPath == modulePath+dir
}
