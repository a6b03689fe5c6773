package client

import "reflect"

// Normalizer is implemented by result types that fix themselves up after
// decoding, e.g. to fill in values the server omits on older API versions.
type Normalizer interface {
	Normalize()
}

// normalize replaces nil slices and maps reachable from v with empty ones, then
// calls Normalize when v implements Normalizer. Decoded results therefore never
// expose a nil collection for a field the server left out.
func normalize(v any) {
	fill(reflect.ValueOf(v), 0)
	if n, ok := v.(Normalizer); ok {
		n.Normalize()
	}
}

// maxDepth stops runaway recursion through self-referencing pointer graphs.
const maxDepth = 64

func fill(v reflect.Value, depth int) {
	if depth > maxDepth || !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			fill(v.Elem(), depth+1)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				fill(f, depth+1)
			}
		}
	case reflect.Slice:
		if v.IsNil() {
			if v.CanSet() {
				v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			}
			return
		}
		if !needsFill(v.Type().Elem()) {
			return
		}
		for i := 0; i < v.Len(); i++ {
			fill(v.Index(i), depth+1)
		}
	case reflect.Array:
		if !needsFill(v.Type().Elem()) {
			return
		}
		for i := 0; i < v.Len(); i++ {
			fill(v.Index(i), depth+1)
		}
	case reflect.Map:
		if v.IsNil() {
			if v.CanSet() {
				v.Set(reflect.MakeMap(v.Type()))
			}
			return
		}
		// Map values are not addressable; copy, fill and store back.
		iter := v.MapRange()
		for iter.Next() {
			val := iter.Value()
			if !needsFill(val.Type()) {
				continue
			}
			cp := reflect.New(val.Type()).Elem()
			cp.Set(val)
			fill(cp, depth+1)
			v.SetMapIndex(iter.Key(), cp)
		}
	}
}

// needsFill reports whether values of t can contain a nil slice or map.
func needsFill(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.Array, reflect.Ptr, reflect.Interface:
		return true
	}
	return false
}
