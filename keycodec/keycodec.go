// Package keycodec turns a structured cache key into a stable identity string.
//
// Two keys produce the same identity iff they are deep-equal after recursively
// sorting map keys and treating slices/arrays positionally. Map entries whose
// value is nil are dropped, so {"a": 1, "b": nil} and {"a": 1} collapse to the
// same coordinate. Non-serializable values (funcs, channels, cycles) are a
// caller contract violation; the codec renders them by type+pointer rather
// than failing, which keeps Identity total but unstable for such inputs.
package keycodec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is an ordered sequence of values forming one cache coordinate.
type Key []any

// Identity returns the canonical string form of key. Deterministic across
// runs and independent of map insertion order.
func Identity(key Key) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, seg := range key {
		if i > 0 {
			b.WriteByte(',')
		}
		writeValue(&b, seg)
	}
	b.WriteByte(']')
	return b.String()
}

// Hash returns a fixed-width hex digest of the identity, for hosts that index
// by short keys.
func Hash(key Key) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(Identity(key)))
}

func writeValue(b *strings.Builder, v any) {
	if v == nil {
		b.WriteString("null")
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return
		}
		writeValue(b, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("null")
			return
		}
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, rv.Index(i).Interface())
		}
		b.WriteByte(']')
	case reflect.Map:
		writeMap(b, rv)
	case reflect.Struct:
		writeStruct(b, rv)
	case reflect.String:
		b.WriteString(strconv.Quote(rv.String()))
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	default:
		writeFallback(b, v)
	}
}

// writeMap emits entries sorted by canonical key form. Entries with nil
// values are dropped so their presence does not change the identity.
func writeMap(b *strings.Builder, rv reflect.Value) {
	if rv.IsNil() {
		b.WriteString("null")
		return
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		if isNilValue(iter.Value()) {
			continue
		}
		var kb, vb strings.Builder
		writeValue(&kb, iter.Key().Interface())
		writeValue(&vb, iter.Value().Interface())
		pairs = append(pairs, pair{kb.String(), vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.k)
		b.WriteByte(':')
		b.WriteString(p.v)
	}
	b.WriteByte('}')
}

// writeStruct emits exported fields sorted by name, nil fields dropped, so a
// struct and its equivalent map form behave alike.
func writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	type pair struct{ k, v string }
	pairs := make([]pair, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if isNilValue(fv) {
			continue
		}
		var vb strings.Builder
		writeValue(&vb, fv.Interface())
		pairs = append(pairs, pair{strconv.Quote(f.Name), vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.k)
		b.WriteByte(':')
		b.WriteString(p.v)
	}
	b.WriteByte('}')
}

func isNilValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// writeFallback renders values the walker has no shape for. JSON when
// possible; type+pointer as a last resort so Identity never fails.
func writeFallback(b *strings.Builder, v any) {
	if data, err := json.Marshal(v); err == nil {
		b.Write(data)
		return
	}
	fmt.Fprintf(b, "%q", fmt.Sprintf("%T:%p", v, v))
}
