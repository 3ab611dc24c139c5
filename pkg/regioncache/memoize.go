package regioncache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ShouldCache reports whether memoized results of group are stored: caching
// must be enabled for the region and not switched off for the group.
// Unknown groups cache.
func (r *Region) ShouldCache(group string) bool {
	if !r.config.Enabled {
		return false
	}
	g, ok := r.config.Groups[group]
	return !ok || g.Caching
}

// GroupExpiration returns the lifetime of memoized results of group: its
// CacheTime when set, the region's ExpirationTime otherwise
func (r *Region) GroupExpiration(group string) time.Duration {
	if g, ok := r.config.Groups[group]; ok && g.CacheTime > 0 {
		return g.CacheTime
	}
	return r.config.ExpirationTime
}

type memoizeOptions struct {
	expirationGroup string
	keyNamespace    string
	keyFunc         KeyGenFunc
}

// MemoizeOption configures Memoize
type MemoizeOption func(*memoizeOptions)

// WithExpirationGroup reads the cache time from another group
func WithExpirationGroup(group string) MemoizeOption {
	return func(o *memoizeOptions) {
		o.expirationGroup = group
	}
}

// WithKeyNamespace prefixes the function keys of the memoized function
func WithKeyNamespace(namespace string) MemoizeOption {
	return func(o *memoizeOptions) {
		o.keyNamespace = namespace
	}
}

// WithKeyFunc overrides how arguments are rendered into the key
func WithKeyFunc(fn KeyGenFunc) MemoizeOption {
	return func(o *memoizeOptions) {
		o.keyFunc = fn
	}
}

// creatorError marks an error returned by the memoized function itself
type creatorError struct {
	err error
}

func (e *creatorError) Error() string { return e.err.Error() }
func (e *creatorError) Unwrap() error { return e.err }

// ValidateMemoizable reports why fn cannot be memoized, or nil.
// fn must return T or (T, error) and must not be variadic.
func ValidateMemoizable(fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("not a function: %T", fn)
	}
	if t.IsVariadic() {
		return errors.New("variadic functions cannot be memoized")
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0) == errorType {
			return errors.New("functions returning only an error cannot be memoized")
		}
	case 2:
		if t.Out(1) != errorType {
			return errors.New("the second return value must be error")
		}
	default:
		return fmt.Errorf("functions must return T or (T, error), got %d results", t.NumOut())
	}
	return nil
}

// Memoize wraps fn so calls are served through GetOrCreate. The key is
// FunctionKey over the function and its arguments; a leading
// context.Context argument is passed through and left out of the key.
// Whether results are stored and for how long follows group (see
// ShouldCache and GroupExpiration). If the region itself fails, fn is
// called directly. Memoize panics if fn fails ValidateMemoizable.
func Memoize[F any](r *Region, group string, fn F, opts ...MemoizeOption) F {
	if err := ValidateMemoizable(fn); err != nil {
		panic("regioncache.Memoize: " + err.Error())
	}

	o := memoizeOptions{expirationGroup: group, keyFunc: r.config.KeyGenFunc}
	for _, opt := range opts {
		opt(&o)
	}

	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()
	outType := fnType.Out(0)
	hasErr := fnType.NumOut() == 2

	wrapper := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		ctx, keyArgs := splitContext(fnType, args)
		key := FunctionKey(o.keyNamespace, fn, o.keyFunc, keyArgs...)

		creator := func(context.Context) (any, error) {
			results := fnValue.Call(args)
			if hasErr && !results[1].IsNil() {
				return nil, &creatorError{err: results[1].Interface().(error)}
			}
			return results[0].Interface(), nil
		}

		dst := reflect.New(outType)
		err := r.getOrCreate(ctx, key, dst.Interface(), creator, createOptions{
			ttl:         r.GroupExpiration(o.expirationGroup),
			shouldCache: func(any) bool { return r.ShouldCache(group) },
		})

		var ce *creatorError
		var pe *PanicError
		switch {
		case err == nil:
			return returnValues(fnType, dst.Elem(), nil)
		case errors.As(err, &ce):
			return returnValues(fnType, reflect.Zero(outType), ce.err)
		case errors.As(err, &pe):
			panic(pe.Value)
		case hasErr && ctx.Err() != nil:
			return returnValues(fnType, reflect.Zero(outType), err)
		default:
			r.log.Warn("regioncache: memoized call bypassing cache",
				logging.F("function", functionName(fn)), logging.Err(err))
			return fnValue.Call(args)
		}
	})

	return wrapper.Interface().(F)
}

// splitContext returns the call's context and the arguments that make up its key
func splitContext(fnType reflect.Type, args []reflect.Value) (context.Context, []any) {
	ctx := context.Background()
	start := 0
	if fnType.NumIn() > 0 && fnType.In(0) == contextType {
		if c, ok := args[0].Interface().(context.Context); ok && c != nil {
			ctx = c
		}
		start = 1
	}

	keyArgs := make([]any, 0, len(args)-start)
	for _, arg := range args[start:] {
		keyArgs = append(keyArgs, arg.Interface())
	}
	return ctx, keyArgs
}

func returnValues(fnType reflect.Type, value reflect.Value, err error) []reflect.Value {
	if fnType.NumOut() == 1 {
		return []reflect.Value{value}
	}

	errValue := reflect.Zero(errorType)
	if err != nil {
		errValue = reflect.ValueOf(&err).Elem()
	}
	return []reflect.Value{value, errValue}
}
