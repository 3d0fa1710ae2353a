package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"path"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// candidatePkg is the package name every candidate is evaluated under, so a
// "package main" source never has its main function executed.
const candidatePkg = "candidate"

// load interprets code in a fresh interpreter and returns the named
// top-level function.
func (r *Runner) load(ctx context.Context, code, functionName string) (reflect.Value, *ExecError) {
	src, file, err := normalizeSource(code)
	if err != nil {
		return reflect.Value{}, &ExecError{Kind: KindLoadError, Message: err.Error()}
	}
	if err := r.checkImports(file); err != nil {
		return reflect.Value{}, &ExecError{Kind: KindLoadError, Message: err.Error()}
	}
	if !declaresFunc(file, functionName) {
		return reflect.Value{}, &ExecError{
			Kind:    KindMissingFunction,
			Message: fmt.Sprintf("function %q is not defined", functionName),
		}
	}

	i := interp.New(interp.Options{Stdout: io.Discard, Stderr: io.Discard})
	if err := i.Use(r.exports()); err != nil {
		return reflect.Value{}, &ExecError{Kind: KindLoadError, Message: err.Error()}
	}
	lctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()
	if err := evalSafely(lctx, i, src); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return reflect.Value{}, &ExecError{
				Kind:    KindLoadError,
				Message: fmt.Sprintf("timeout: initialization did not finish within %s", r.loadTimeout),
			}
		}
		return reflect.Value{}, &ExecError{Kind: KindLoadError, Message: err.Error()}
	}
	fn, err := lookup(i, candidatePkg+"."+functionName)
	if err != nil {
		return reflect.Value{}, &ExecError{Kind: KindMissingFunction, Message: err.Error()}
	}
	return fn, nil
}

// normalizeSource parses code, prepending a package clause when it is
// missing, and renames the package to candidatePkg.
func normalizeSource(code string) (string, *ast.File, error) {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "", code, parser.PackageClauseOnly); err != nil {
		code = "package " + candidatePkg + "\n\n" + code
	}
	file, err := parser.ParseFile(fset, "candidate.go", code, parser.SkipObjectResolution)
	if err != nil {
		return "", nil, fmt.Errorf("parse: %w", err)
	}
	start := fset.Position(file.Name.Pos()).Offset
	end := fset.Position(file.Name.End()).Offset
	return code[:start] + candidatePkg + code[end:], file, nil
}

func (r *Runner) checkImports(file *ast.File) error {
	allowed := make(map[string]bool, len(r.packages))
	for _, p := range r.packages {
		allowed[p] = true
	}
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("import %s: %w", imp.Path.Value, err)
		}
		if !allowed[p] {
			return fmt.Errorf("import %q is not allowed", p)
		}
	}
	return nil
}

func declaresFunc(file *ast.File, name string) bool {
	for _, d := range file.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if ok && fd.Recv == nil && fd.Name.Name == name {
			return true
		}
	}
	return false
}

// exports restricts the interpreter's symbol table to the allowed packages.
func (r *Runner) exports() interp.Exports {
	out := make(interp.Exports, len(r.packages))
	for _, p := range r.packages {
		key := p + "/" + path.Base(p)
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	return out
}

// evalSafely interprets src until it finishes or ctx is done. Initializers
// that never return are abandoned on their goroutine.
func evalSafely(ctx context.Context, i *interp.Interpreter, src string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("interpreter panic: %v", rec)
		}
	}()
	_, err = i.EvalWithContext(ctx, src)
	return err
}

func lookup(i *interp.Interpreter, name string) (fn reflect.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lookup %s: %v", name, rec)
		}
	}()
	v, err := i.Eval(name)
	if err != nil {
		return reflect.Value{}, err
	}
	if v.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("%s is a %s, not a function", strings.TrimPrefix(name, candidatePkg+"."), v.Kind())
	}
	return v, nil
}
