package graphql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// OrderedMap is a JSON object that keeps insertion order, so responses list fields
// in selection order.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty map with room for n keys.
func NewOrderedMap(n int) *OrderedMap {
	return &OrderedMap{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// Set adds or replaces key.
func (m *OrderedMap) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *OrderedMap) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// MarshalJSON writes the object with keys in insertion order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Typed pairs a value with its concrete GraphQL type for abstract positions.
type Typed struct {
	Typename string
	Value    any
}

// defaultResolve reads field from source: a map key, a struct field whose json tag
// or name matches, or a method of that name taking no arguments or the field's
// arguments in declaration order.
func defaultResolve(source any, field string, args []any) (any, error) {
	if source == nil {
		return nil, nil
	}
	switch src := source.(type) {
	case map[string]any:
		return src[field], nil
	case *OrderedMap:
		v, _ := src.Get(field)
		return v, nil
	case Typed:
		return defaultResolve(src.Value, field, args)
	}

	value := reflect.ValueOf(source)
	if method, ok := findMethod(value, field); ok {
		return callMethod(method, field, args)
	}

	for value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		if value.IsNil() {
			return nil, nil
		}
		value = value.Elem()
	}
	if value.Kind() == reflect.Map && value.Type().Key().Kind() == reflect.String {
		entry := value.MapIndex(reflect.ValueOf(field).Convert(value.Type().Key()))
		if !entry.IsValid() {
			return nil, nil
		}
		return entry.Interface(), nil
	}
	if value.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot read field %q from %T", field, source)
	}
	if found, ok := structField(value, field); ok {
		return found.Interface(), nil
	}
	return nil, nil
}

func structField(value reflect.Value, field string) (reflect.Value, bool) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous {
			embedded := value.Field(i)
			for embedded.Kind() == reflect.Pointer {
				if embedded.IsNil() {
					break
				}
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				if found, ok := structField(embedded, field); ok {
					return found, true
				}
			}
			continue
		}
		name := strings.Split(sf.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == field || (name == "" && strings.EqualFold(sf.Name, field)) {
			return value.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func findMethod(value reflect.Value, field string) (reflect.Value, bool) {
	if !value.IsValid() || field == "" {
		return reflect.Value{}, false
	}
	name := strings.ToUpper(field[:1]) + field[1:]
	if method := value.MethodByName(name); method.IsValid() {
		return method, true
	}
	if value.Kind() != reflect.Pointer && value.CanAddr() {
		if method := value.Addr().MethodByName(name); method.IsValid() {
			return method, true
		}
	}
	return reflect.Value{}, false
}

func callMethod(method reflect.Value, field string, args []any) (any, error) {
	mt := method.Type()
	if mt.NumIn() > len(args) || mt.NumOut() == 0 || mt.NumOut() > 2 {
		return nil, fmt.Errorf("method for field %q has an unsupported signature", field)
	}
	in := make([]reflect.Value, mt.NumIn())
	for i := range in {
		want := mt.In(i)
		if args[i] == nil {
			in[i] = reflect.Zero(want)
			continue
		}
		arg := reflect.ValueOf(args[i])
		if !arg.Type().ConvertibleTo(want) {
			return nil, fmt.Errorf("argument %d of field %q: cannot use %T", i, field, args[i])
		}
		in[i] = arg.Convert(want)
	}
	out := method.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("%T is not an integer", value)
}

// DecodeArg decodes args[name] into out, which is typically a pointer to an input
// struct whose json tags match the input object fields.
func DecodeArg(args map[string]any, name string, out any) error {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: false,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("argument %s: %w", name, err)
	}
	return nil
}

// StringArg returns a string argument or "" when absent.
func StringArg(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// OptionalStringArg distinguishes an absent argument from an empty one.
func OptionalStringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}

// IntArg returns an integer argument or def when absent.
func IntArg(args map[string]any, name string, def int) int {
	raw, ok := args[name]
	if !ok || raw == nil {
		return def
	}
	n, err := toInt64(raw)
	if err != nil {
		return def
	}
	return int(n)
}

// BoolArg returns a boolean argument or def when absent.
func BoolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}
