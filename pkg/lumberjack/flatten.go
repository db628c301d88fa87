package lumberjack

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pair is one dotted key and its string value.
type Pair struct {
	Key   string
	Value string
}

// FlatRecord is the ordered key/value form of a record, as carried by a
// data frame.
type FlatRecord []Pair

// Map returns the pairs as a map, for lookups in tests and in the sink.
func (f FlatRecord) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, p := range f {
		m[p.Key] = p.Value
	}
	return m
}

// valueKind is the closed set of shapes a record value can take.
type valueKind int

const (
	kindOther valueKind = iota
	kindScalar
	kindList
	kindMapping
)

// Flatten converts a nested record into dotted-key pairs.
//
// Strings and numbers become one pair each. A list whose elements are all
// scalars becomes one comma-joined pair. Nested mappings prefix their keys
// with the parent key and a dot; lists containing anything else are walked
// by element index ("services.0.id"). Booleans, nils and every other type
// are omitted. Keys are emitted in sorted order at each level.
func Flatten(rec map[string]any) FlatRecord {
	out := make(FlatRecord, 0, len(rec))
	return flattenMap(reflect.ValueOf(rec), "", out)
}

func flattenMap(m reflect.Value, prefix string, out FlatRecord) FlatRecord {
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key()))
		out = flattenValue(v, joinKey(prefix, k), out)
	}
	return out
}

func flattenValue(v reflect.Value, key string, out FlatRecord) FlatRecord {
	v = deref(v)
	switch classify(v) {
	case kindScalar:
		return append(out, Pair{Key: key, Value: scalarString(v)})
	case kindList:
		if s, ok := joinScalars(v); ok {
			return append(out, Pair{Key: key, Value: s})
		}
		for i := 0; i < v.Len(); i++ {
			out = flattenValue(v.Index(i), joinKey(key, strconv.Itoa(i)), out)
		}
		return out
	case kindMapping:
		return flattenMap(v, key, out)
	default:
		return out
	}
}

func classify(v reflect.Value) valueKind {
	if !v.IsValid() {
		return kindOther
	}
	if isScalar(v) {
		return kindScalar
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return kindList
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return kindMapping
		}
	}
	return kindOther
}

func isScalar(v reflect.Value) bool {
	switch v.Interface().(type) {
	case json.Number, time.Time, []byte:
		return true
	}
	switch v.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// joinScalars joins a non-empty list of scalars with commas.
func joinScalars(v reflect.Value) (string, bool) {
	if v.Len() == 0 {
		return "", false
	}
	parts := make([]string, v.Len())
	for i := range parts {
		e := deref(v.Index(i))
		if !e.IsValid() || !isScalar(e) {
			return "", false
		}
		parts[i] = scalarString(e)
	}
	return strings.Join(parts, ","), true
}

func scalarString(v reflect.Value) string {
	switch x := v.Interface().(type) {
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return formatFloat(v.Float(), 32)
	default:
		return formatFloat(v.Float(), 64)
	}
}

// formatFloat renders whole numbers without a fraction and switches to
// exponent notation only for very large or very small magnitudes.
func formatFloat(f float64, bits int) string {
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// deref unwraps interfaces and pointers.
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}
