// Package wire implements the Janus wire format: the Request and Response
// envelopes, the closed JSON-RPC-style error taxonomy, and the tagged-value
// union used for request arguments and response results.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt64, KindFloat64:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the JSON value space, distinguishing
// integers from floats where the JSON text itself carries no fractional
// part. This is what lets the Argument Validator treat "integer" as "a
// number with no fractional part" rather than collapsing everything to
// float64 the way a bare map[string]interface{} would.
type Value struct {
	kind   Kind
	bool_  bool
	int_   int64
	float_ float64
	str_   string
	arr_   []Value
	obj_   map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, bool_: b} }
func Int(i int64) Value           { return Value{kind: KindInt64, int_: i} }
func Float(f float64) Value       { return Value{kind: KindFloat64, float_: f} }
func String(s string) Value       { return Value{kind: KindString, str_: s} }
func Array(vs []Value) Value      { return Value{kind: KindArray, arr_: vs} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj_: m} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.bool_, true
}

func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindInt64 {
		return 0, false
	}
	return v.int_, true
}

func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindFloat64:
		return v.float_, true
	case KindInt64:
		return float64(v.int_), true
	default:
		return 0, false
	}
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str_, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr_, true
}

func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj_, true
}

// IsIntegral reports whether a numeric Value carries no fractional part,
// the definition of "integer" used by the Argument/Response Validators.
func (v Value) IsIntegral() bool {
	switch v.kind {
	case KindInt64:
		return true
	case KindFloat64:
		return v.float_ == float64(int64(v.float_))
	default:
		return false
	}
}

// Equal implements the structural equality enum-membership checks rely on.
func (v Value) Equal(other Value) bool {
	if v.kind == KindInt64 || v.kind == KindFloat64 {
		if other.kind == KindInt64 || other.kind == KindFloat64 {
			a, _ := v.AsFloat64()
			b, _ := other.AsFloat64()
			return a == b
		}
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.bool_ == other.bool_
	case KindString:
		return v.str_ == other.str_
	case KindArray:
		if len(v.arr_) != len(other.arr_) {
			return false
		}
		for i := range v.arr_ {
			if !v.arr_[i].Equal(other.arr_[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj_) != len(other.obj_) {
			return false
		}
		for k, val := range v.obj_ {
			ov, ok := other.obj_[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.bool_)
	case KindInt64:
		return json.Marshal(v.int_)
	case KindFloat64:
		return json.Marshal(v.float_)
	case KindString:
		return json.Marshal(v.str_)
	case KindArray:
		return json.Marshal(v.arr_)
	case KindObject:
		// map[string]Value already marshals deterministically: Go's
		// encoding/json sorts map keys lexicographically.
		return json.Marshal(v.obj_)
	default:
		return nil, errors.Newf("wire: value with unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, using json.Number to recover
// the integer/float distinction JSON text encodes but Go's default
// interface{} decoding discards.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "wire: decode value")
	}
	out, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromInterface(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, errors.Wrapf(err, "wire: invalid number literal %q", x.String())
		}
		return Float(f), nil
	case string:
		return String(x), nil
	case []interface{}:
		vals := make([]Value, len(x))
		for i, e := range x {
			cv, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			vals[i] = cv
		}
		return Array(vals), nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			cv, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = cv
		}
		return Object(obj), nil
	default:
		return Value{}, errors.Newf("wire: unsupported decoded type %T", raw)
	}
}

// ToInterface converts a Value to a plain interface{} tree for interop
// with libraries (mapstructure, jsonschema) that know nothing of Value.
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.bool_
	case KindInt64:
		return v.int_
	case KindFloat64:
		return v.float_
	case KindString:
		return v.str_
	case KindArray:
		out := make([]interface{}, len(v.arr_))
		for i, e := range v.arr_ {
			out[i] = e.ToInterface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj_))
		for k, e := range v.obj_ {
			out[k] = e.ToInterface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface builds a Value from a plain interface{} tree, the
// counterpart of ToInterface for values that arrived via a third-party
// library rather than json.Unmarshal.
func FromInterface(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case json.Number:
		return fromInterface(x)
	case float64:
		if x == float64(int64(x)) {
			return Int(int64(x)), nil
		}
		return Float(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	default:
		return fromInterface(raw)
	}
}

// ValuesFromMap converts a map[string]interface{} (as produced by
// encoding/json without UseNumber, or handed in by a caller) into
// map[string]Value.
func ValuesFromMap(m map[string]interface{}) (map[string]Value, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		cv, err := FromInterface(v)
		if err != nil {
			return nil, errors.Wrapf(err, "wire: converting key %q", k)
		}
		out[k] = cv
	}
	return out, nil
}

// SortedKeys returns an object Value's keys in sorted order, used by the
// deterministic-serialization and field-path-reporting code paths.
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<invalid value: %v>", err)
	}
	return string(b)
}
