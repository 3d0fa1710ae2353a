package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"promptloop/internal/util/jsonutil"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type outcome struct {
	value any
	err   *CaseError
}

// invoke calls fn with inputs converted to its parameter types. The call runs
// on its own goroutine so a runaway candidate is cut off by the case timeout;
// the goroutine itself cannot be stopped and is abandoned.
func (r *Runner) invoke(ctx context.Context, fn reflect.Value, inputs []any) (any, *CaseError) {
	args, err := convertArgs(fn.Type(), inputs)
	if err != nil {
		return nil, &CaseError{Kind: KindInvalidArguments, Message: err.Error()}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: &CaseError{Kind: KindPanic, Message: fmt.Sprint(rec)}}
			}
		}()
		done <- collect(fn.Type(), fn.Call(args))
	}()

	timer := time.NewTimer(r.caseTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return nil, &CaseError{Kind: KindTimeout, Message: fmt.Sprintf("no result after %s", r.caseTimeout)}
	case <-ctx.Done():
		return nil, &CaseError{Kind: KindCanceled, Message: ctx.Err().Error()}
	}
}

func convertArgs(ft reflect.Type, inputs []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(inputs) < n-1 {
			return nil, fmt.Errorf("want at least %d arguments, got %d", n-1, len(inputs))
		}
	} else if len(inputs) != n {
		return nil, fmt.Errorf("want %d arguments, got %d", n, len(inputs))
	}
	args := make([]reflect.Value, len(inputs))
	for i, in := range inputs {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := convert(in, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func convert(in any, t reflect.Type) (reflect.Value, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(b, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s", b, t)
	}
	return ptr.Elem(), nil
}

// collect maps return values to a result. A trailing error return that is
// non-nil is the raised error; the first non-error return is the value.
func collect(ft reflect.Type, outs []reflect.Value) outcome {
	if len(outs) == 0 {
		return outcome{}
	}
	last := len(outs) - 1
	if ft.Out(last).Implements(errorType) {
		if e, ok := outs[last].Interface().(error); ok && e != nil {
			return outcome{err: classify(e.Error())}
		}
		outs = outs[:last]
	}
	if len(outs) == 0 {
		return outcome{}
	}
	v, err := jsonutil.Normalize(outs[0].Interface())
	if err != nil {
		return outcome{err: &CaseError{Kind: KindError, Message: "unencodable result: " + err.Error()}}
	}
	return outcome{value: v}
}

// classify splits "Kind: message" into its parts when the prefix is a single
// word; other messages get the generic kind.
func classify(msg string) *CaseError {
	if i := strings.Index(msg, ":"); i > 0 {
		head := strings.TrimSpace(msg[:i])
		if isWord(head) {
			return &CaseError{Kind: head, Message: strings.TrimSpace(msg[i+1:])}
		}
	}
	return &CaseError{Kind: KindError, Message: msg}
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
