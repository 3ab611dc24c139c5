package regioncache

import (
	"crypto/sha1" //nolint:gosec // key mangling, not security
	"encoding/hex"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// KeyMangler rewrites a namespaced key before it reaches the backend
type KeyMangler func(key string) string

// SHA1Mangler hashes keys to a fixed 40-character hex string so arbitrary
// keys fit backend key limits
func SHA1Mangler(key string) string {
	sum := sha1.Sum([]byte(key)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// KeyGenFunc renders memoized function arguments into the argument part of a key
type KeyGenFunc func(args []any) string

// DefaultKeyFunc joins the default formatting of each argument with spaces
func DefaultKeyFunc(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}

// TypedKeyFunc encodes the kind of each argument along with its value, so
// 1 and "1" produce different keys. Map keys are sorted.
func TypedKeyFunc(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = argToKey(reflect.ValueOf(arg))
	}
	return strings.Join(parts, " ")
}

func argToKey(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}

	switch v.Kind() {
	case reflect.String:
		return "s:" + strconv.Quote(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "i:" + strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "u:" + strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return "f:" + strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		return "b:" + strconv.FormatBool(v.Bool())
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return "nil"
		}
		return argToKey(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return "nil"
		}
		elems := make([]string, v.Len())
		for i := range elems {
			elems[i] = argToKey(v.Index(i))
		}
		return "[" + strings.Join(elems, ",") + "]"
	case reflect.Map:
		if v.IsNil() {
			return "nil"
		}
		pairs := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			pairs = append(pairs, argToKey(iter.Key())+"="+argToKey(iter.Value()))
		}
		sort.Strings(pairs)
		return "{" + strings.Join(pairs, ",") + "}"
	case reflect.Struct:
		t := v.Type()
		fields := make([]string, 0, v.NumField())
		for i := range v.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			fields = append(fields, t.Field(i).Name+":"+argToKey(v.Field(i)))
		}
		return t.Name() + "{" + strings.Join(fields, ",") + "}"
	default:
		return fmt.Sprintf("%s:%v", v.Type(), v)
	}
}

// FunctionKey builds the memoization key for calling fn with args:
// "namespace:pkg.Func|rendered args". An empty namespace drops the prefix.
func FunctionKey(namespace string, fn any, keyFunc KeyGenFunc, args ...any) string {
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc
	}

	var b strings.Builder
	if namespace != "" {
		b.WriteString(namespace)
		b.WriteByte(':')
	}
	b.WriteString(functionName(fn))
	b.WriteByte('|')
	b.WriteString(keyFunc(args))
	return b.String()
}

// functionName returns the package-qualified name of fn without its import path
func functionName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", fn)
	}

	name := runtime.FuncForPC(v.Pointer()).Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
