// Package translate converts runtime events into AG-UI protocol events.
//
// The Translator is the per-run state machine: it manages streaming text
// message boundaries, tool call sequencing, predictive state hints, and
// deferred confirmation events. Free functions handle tool response coercion
// and the projection of session event logs into AG-UI message lists.
package translate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// CoerceToolResponse recursively converts an arbitrary tool response into a
// JSON-compatible value. Structs become maps of their exported fields, byte
// slices become strings when valid UTF-8, and anything unrepresentable falls
// back to its fmt string. Reference cycles terminate with a string marker
// instead of recursing.
func CoerceToolResponse(v any) any {
	return coerce(reflect.ValueOf(v), map[uintptr]struct{}{})
}

// SerializeToolResponse coerces the response and renders it as a JSON string.
// It never fails; unencodable values degrade to a quoted string form.
func SerializeToolResponse(v any) string {
	data, err := json.Marshal(CoerceToolResponse(v))
	if err != nil {
		data, err = json.Marshal(fmt.Sprint(v))
		if err != nil {
			return `""`
		}
	}
	return string(data)
}

func coerce(rv reflect.Value, visited map[uintptr]struct{}) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, seen := visited[ptr]; seen {
				return fmt.Sprint(rv.Interface())
			}
			visited[ptr] = struct{}{}
			defer delete(visited, ptr)
		}
		return coerce(rv.Elem(), visited)

	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := rv.Bytes()
			if utf8.Valid(b) {
				return string(b)
			}
			out := make([]any, len(b))
			for i, c := range b {
				out[i] = uint64(c)
			}
			return out
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return fmt.Sprint(rv.Interface())
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
		return coerceList(rv, visited)

	case reflect.Array:
		return coerceList(rv, visited)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return fmt.Sprint(rv.Interface())
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = coerce(iter.Value(), visited)
		}
		return out

	case reflect.Struct:
		rt := rv.Type()
		out := make(map[string]any)
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			out[name] = coerce(rv.Field(i), visited)
		}
		return out

	default:
		if rv.CanInterface() {
			return fmt.Sprint(rv.Interface())
		}
		return rv.String()
	}
}

func coerceList(rv reflect.Value, visited map[uintptr]struct{}) []any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = coerce(rv.Index(i), visited)
	}
	return out
}
