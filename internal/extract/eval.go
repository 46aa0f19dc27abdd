package extract

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/types"
)

// evaluate runs the compiled file in an instrumented JavaScript sandbox.
// Each configured suite/test identifier is bound to a host function that
// records the declaration; suite callbacks are invoked to discover
// nested declarations, test bodies are never invoked. A callback that
// throws is captured onto its declaration and evaluation continues with
// the next sibling.
func (e *Extractor) evaluate(ctx context.Context, path string, content []byte, sym Symbols) []*types.DeclNode {
	rec := &evalRecorder{content: content, used: make(map[int]bool)}

	vm := goja.New()
	for id := range sym.Suites {
		vm.Set(id, rec.suiteFunc(vm, id))
	}
	for id := range sym.Tests {
		vm.Set(id, rec.testFunc(vm, id))
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	if _, err := vm.RunScript(path, string(content)); err != nil {
		// A failure outside any suite callback aborts the remainder of
		// the script. Whatever was declared before the failure is kept;
		// the failure itself becomes a synthetic top-level node.
		debug.LogExtract("%s: evaluation stopped: %v\n", path, err)
		rec.top = append(rec.top, &types.DeclNode{
			Name: filepath.Base(path),
			Kind: types.DeclSuite,
			Err:  err.Error(),
		})
	}

	return rec.top
}

// evalRecorder accumulates declarations as intercepted calls arrive.
// The stack tracks the currently-open suite callbacks.
type evalRecorder struct {
	content []byte
	top     []*types.DeclNode
	stack   []*types.DeclNode
	// used marks byte offsets already attributed to a declaration so
	// repeated names resolve to successive occurrences.
	used map[int]bool
}

func (r *evalRecorder) add(node *types.DeclNode) {
	if n := len(r.stack); n > 0 {
		parent := r.stack[n-1]
		parent.Children = append(parent.Children, node)
		return
	}
	r.top = append(r.top, node)
}

func (r *evalRecorder) suiteFunc(vm *goja.Runtime, ident string) goja.Value {
	return markerVariants(vm, func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("%s: missing suite name", ident))
		}

		node := r.record(call.Argument(0), types.DeclSuite)

		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			r.stack = append(r.stack, node)
			r.invoke(fn, node)
			r.stack = r.stack[:len(r.stack)-1]
		}
		return goja.Undefined()
	})
}

func (r *evalRecorder) testFunc(vm *goja.Runtime, ident string) goja.Value {
	return markerVariants(vm, func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("%s: missing test name", ident))
		}
		r.record(call.Argument(0), types.DeclTest)
		return goja.Undefined()
	})
}

// markerVariants exposes `ident.only`, `ident.skip` and `ident.todo` as
// the same recorder as the bare identifier, so marked declarations in a
// bundle record instead of throwing a TypeError.
func markerVariants(vm *goja.Runtime, fn func(goja.FunctionCall) goja.Value) goja.Value {
	val := vm.ToValue(fn)
	obj := val.ToObject(vm)
	for _, marker := range []string{"only", "skip", "todo"} {
		_ = obj.Set(marker, vm.ToValue(fn))
	}
	return val
}

// record registers a declaration for the given name argument and returns it.
func (r *evalRecorder) record(nameArg goja.Value, kind types.DeclKind) *types.DeclNode {
	name := nameArg.String()

	pos := r.position(name)
	node := &types.DeclNode{
		Name:  name,
		Kind:  kind,
		Start: pos,
		End:   pos,
	}
	r.add(node)
	return node
}

// invoke runs a suite callback. Errors thrown inside are attached to the
// suite node instead of aborting extraction of the remaining siblings.
func (r *evalRecorder) invoke(fn goja.Callable, node *types.DeclNode) {
	if _, err := fn(goja.Undefined()); err != nil {
		node.Err = err.Error()
	}
}

// position locates a declaration by the first unclaimed occurrence of its
// quoted name in the source. Evaluation has no call-site information, so
// this is the best anchor available; unmatched names fall back to 0:0.
func (r *evalRecorder) position(name string) types.Position {
	for _, quote := range []string{`"`, `'`, "`"} {
		needle := []byte(quote + name + quote)
		from := 0
		for {
			idx := bytes.Index(r.content[from:], needle)
			if idx < 0 {
				break
			}
			off := from + idx
			if !r.used[off] {
				r.used[off] = true
				return offsetToPosition(r.content, off)
			}
			from = off + 1
		}
	}
	return types.Position{}
}

func offsetToPosition(content []byte, offset int) types.Position {
	line, col := 0, 0
	for _, b := range content[:offset] {
		if b == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return types.Position{Line: line, Column: col}
}
