package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"sort"
	"sync"
)

// Handler serves one exposed method. args holds the caller's arguments in order, as decoded
// by the codec (JSON numbers arrive as float64, objects as map[string]any). The returned
// value must be encodable by the codec; a non-nil error is sent back as its message.
type Handler func(ctx context.Context, args []any) (any, error)

// MethodRegistry maps method names to handlers. Registering a name twice replaces the
// earlier handler. It is safe for concurrent use and may be shared by several endpoints.
type MethodRegistry struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewMethodRegistry returns a registry holding only the built-in "ping" method.
func NewMethodRegistry() *MethodRegistry {
	r := &MethodRegistry{methods: make(map[string]Handler)}
	r.registerBuiltins()
	return r
}

func (r *MethodRegistry) registerBuiltins() {
	r.methods[PingMethod] = func(context.Context, []any) (any, error) { return PongResult, nil }
}

func (r *MethodRegistry) Register(name string, h Handler) error {
	if name == "" {
		return ErrEmptyMethod
	}
	if h == nil {
		return fmt.Errorf("endpoint: nil handler for %q", name)
	}
	r.mu.Lock()
	r.methods[name] = h
	r.mu.Unlock()
	return nil
}

func (r *MethodRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

func (r *MethodRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.methods[name]
	r.mu.RUnlock()
	return h, ok
}

// Names returns the registered method names, sorted.
func (r *MethodRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Clear removes every method, built-ins included.
func (r *MethodRegistry) Clear() {
	r.mu.Lock()
	r.methods = make(map[string]Handler)
	r.mu.Unlock()
}

// RegisterFunc exposes an ordinary Go function. Supported shapes:
//
//	func(a A, b B, ...) R
//	func(a A, b B, ...) (R, error)
//	func(a A, b B, ...) error
//	func(a A, b B, ...)
//
// optionally with a leading context.Context and a trailing variadic parameter. Arguments
// are converted to the parameter types; missing arguments take their zero value and extra
// arguments are ignored, matching how a script callee treats them.
func (r *MethodRegistry) RegisterFunc(name string, fn any) error {
	h, err := HandlerOf(fn)
	if err != nil {
		return fmt.Errorf("endpoint: %s: %w", name, err)
	}
	return r.Register(name, h)
}

// RegisterReceiver publishes the suitable methods of rcvr under "Type.Method", where Type is
// the receiver's concrete type name. Besides the shapes RegisterFunc accepts, a method of the
// net/rpc form
//
//	func (t *T) Name(args *A, reply *R) error
//
// is served with a single argument and answers with the filled-in reply. It returns the
// names it registered.
func (r *MethodRegistry) RegisterReceiver(rcvr any) ([]string, error) {
	v := reflect.ValueOf(rcvr)
	typ := v.Type()
	sname := reflect.Indirect(v).Type().Name()
	if sname == "" {
		return nil, errors.New("endpoint: no service name for type " + typ.String())
	}
	if !token.IsExported(sname) {
		return nil, errors.New("endpoint: type " + sname + " is not exported")
	}

	var names []string
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		if !method.IsExported() {
			continue
		}
		fn := v.Method(m)
		h, ok := replyHandler(fn)
		if !ok {
			var err error
			if h, err = HandlerOf(fn.Interface()); err != nil {
				continue
			}
		}
		name := sname + "." + method.Name
		if err := r.Register(name, h); err != nil {
			return names, err
		}
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, errors.New("endpoint: type " + sname + " has no exported methods of suitable type")
	}
	return names, nil
}

var (
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// HandlerOf adapts a Go function to a Handler; see RegisterFunc.
func HandlerOf(fn any) (Handler, error) {
	if h, ok := fn.(Handler); ok {
		return h, nil
	}
	if h, ok := fn.(func(context.Context, []any) (any, error)); ok {
		return h, nil
	}

	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, fmt.Errorf("expected a function, got %T", fn)
	}
	ft := fv.Type()

	withCtx := ft.NumIn() > 0 && ft.In(0) == typeOfContext
	first := 0
	if withCtx {
		first = 1
	}

	var hasResult, hasErr bool
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == typeOfError {
			hasErr = true
		} else {
			hasResult = true
		}
	case 2:
		if ft.Out(1) != typeOfError {
			return nil, errors.New("second return value must be error")
		}
		hasResult, hasErr = true, true
	default:
		return nil, errors.New("too many return values")
	}

	return func(ctx context.Context, args []any) (any, error) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}

		for i := first; i < ft.NumIn(); i++ {
			argIdx := i - first
			pt := ft.In(i)

			if ft.IsVariadic() && i == ft.NumIn()-1 {
				elem := pt.Elem()
				for ; argIdx < len(args); argIdx++ {
					v, err := convertArg(args[argIdx], elem)
					if err != nil {
						return nil, fmt.Errorf("argument %d: %w", argIdx, err)
					}
					in = append(in, v)
				}
				break
			}

			if argIdx >= len(args) {
				in = append(in, reflect.Zero(pt))
				continue
			}
			v, err := convertArg(args[argIdx], pt)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", argIdx, err)
			}
			in = append(in, v)
		}

		out := fv.Call(in)

		var (
			result any
			err    error
		)
		if hasResult {
			result = out[0].Interface()
		}
		if hasErr {
			if e := out[len(out)-1].Interface(); e != nil {
				err = e.(error)
			}
		}
		return result, err
	}, nil
}

// replyHandler serves a func(args A, reply *R) error.
func replyHandler(fv reflect.Value) (Handler, bool) {
	ft := fv.Type()
	if ft.NumIn() != 2 || ft.In(1).Kind() != reflect.Pointer || ft.In(0) == typeOfContext {
		return nil, false
	}
	if ft.NumOut() != 1 || ft.Out(0) != typeOfError {
		return nil, false
	}
	argType, replyType := ft.In(0), ft.In(1).Elem()

	return func(_ context.Context, args []any) (any, error) {
		var arg any
		if len(args) > 0 {
			arg = args[0]
		}
		argv, err := convertArg(arg, argType)
		if err != nil {
			return nil, fmt.Errorf("argument 0: %w", err)
		}
		if argv.Kind() == reflect.Pointer && argv.IsNil() {
			argv = reflect.New(argType.Elem())
		}
		replyv := reflect.New(replyType)

		out := fv.Call([]reflect.Value{argv, replyv})
		if e := out[0].Interface(); e != nil {
			return nil, e.(error)
		}
		return replyv.Interface(), nil
	}, true
}

// convertArg turns a decoded argument into a value of type t, going through JSON when the
// dynamic type does not fit directly (float64 into int, map into struct, ...).
func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(t) {
		v := reflect.New(t).Elem()
		v.Set(av)
		return v, nil
	}

	data, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
