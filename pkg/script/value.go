package script

import (
	"fmt"
	"strings"

	"spbridge/pkg/utils/coerce"
)

type ValueType int

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValString
	ValArray
	ValObject
	ValOther
)

func (t ValueType) String() string {
	switch t {
	case ValNil:
		return "nil"
	case ValBool:
		return "bool"
	case ValNumber:
		return "number"
	case ValString:
		return "string"
	case ValArray:
		return "array"
	case ValObject:
		return "object"
	default:
		return "other"
	}
}

// Value is a scripting value as seen at the bridge boundary. It is a closed
// tagged variant: every consumer switches on Type instead of converting
// implicitly.
//
// OWNERSHIP: Arrays and objects are shared by reference. Copying a Value does
// not copy the array it points to, so in-place element updates made by a
// script are visible to whoever pushed it.
type Value struct {
	Type ValueType

	numVal  float64
	boolVal bool

	stringVal *string
	arrayVal  *[]Value
	refVal    *Ref
	otherVal  interface{}
}

// Ref is the {value, size} record a by-reference parameter is wrapped in.
// Scripts return data to the native caller by replacing Value; Size is the
// declared capacity (cells for arrays, bytes for strings, 1 for scalars).
type Ref struct {
	Value Value
	Size  int
}

func (v Value) AsNumber() (float64, bool) {
	if v.Type == ValNumber {
		return v.numVal, true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	if v.Type == ValBool {
		return v.boolVal, true
	}
	return false, false
}

func (v Value) AsString() (string, bool) {
	if v.Type == ValString && v.stringVal != nil {
		return *v.stringVal, true
	}
	return "", false
}

// AsArray returns the backing slice; element writes are shared.
func (v Value) AsArray() ([]Value, bool) {
	if v.Type == ValArray && v.arrayVal != nil {
		return *v.arrayVal, true
	}
	return nil, false
}

func (v Value) AsRef() (*Ref, bool) {
	if v.Type == ValObject && v.refVal != nil {
		return v.refVal, true
	}
	return nil, false
}

func (v Value) IsNil() bool {
	return v.Type == ValNil
}

// String returns a representation for logs and diagnostics.
func (v Value) String() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		if v.boolVal {
			return "true"
		}
		return "false"
	case ValNumber:
		return fmt.Sprintf("%g", v.numVal)
	case ValString:
		if v.stringVal != nil {
			return *v.stringVal
		}
		return ""
	case ValArray:
		if v.arrayVal == nil {
			return "[]"
		}
		parts := make([]string, len(*v.arrayVal))
		for i, item := range *v.arrayVal {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ValObject:
		if v.refVal == nil {
			return "{}"
		}
		return fmt.Sprintf("{value: %s, size: %d}", v.refVal.Value.String(), v.refVal.Size)
	default:
		return fmt.Sprintf("%v", v.otherVal)
	}
}

// ToNative converts a Value to plain Go data. Refs stay as *Ref so that a
// consumer can still mutate them.
func (v Value) ToNative() interface{} {
	switch v.Type {
	case ValNil:
		return nil
	case ValBool:
		return v.boolVal
	case ValNumber:
		return v.numVal
	case ValString:
		if v.stringVal != nil {
			return *v.stringVal
		}
		return ""
	case ValArray:
		if v.arrayVal == nil {
			return []interface{}{}
		}
		result := make([]interface{}, len(*v.arrayVal))
		for i, item := range *v.arrayVal {
			result[i] = item.ToNative()
		}
		return result
	case ValObject:
		return v.refVal
	default:
		return v.otherVal
	}
}

// Helper constructors

func NewNil() Value {
	return Value{Type: ValNil}
}

func NewBool(b bool) Value {
	return Value{Type: ValBool, boolVal: b}
}

func NewNumber(n float64) Value {
	return Value{Type: ValNumber, numVal: n}
}

func NewString(s string) Value {
	return Value{Type: ValString, stringVal: &s}
}

func NewArray(items []Value) Value {
	return Value{Type: ValArray, arrayVal: &items}
}

// NewRef wraps inner in a fresh {value, size} record.
func NewRef(inner Value, size int) Value {
	return Value{Type: ValObject, refVal: &Ref{Value: inner, Size: size}}
}

// NewOther carries a host value the bridge has no encoding for.
func NewOther(v interface{}) Value {
	return Value{Type: ValOther, otherVal: v}
}

// FromNative creates a Value from plain Go data. Unknown types become ValOther
// rather than failing, so they are skipped by the copy-back pass.
func FromNative(v interface{}) Value {
	if v == nil {
		return NewNil()
	}
	switch val := v.(type) {
	case Value:
		return val
	case *Ref:
		if val == nil {
			return NewNil()
		}
		return Value{Type: ValObject, refVal: val}
	case bool:
		return NewBool(val)
	case string:
		return NewString(val)
	case []Value:
		return NewArray(val)
	case []interface{}:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = FromNative(item)
		}
		return NewArray(items)
	}
	if coerce.IsNumeric(v) {
		n, err := coerce.ToFloat64(v)
		if err == nil {
			return NewNumber(n)
		}
	}
	if items, err := coerce.ToSlice(v); err == nil && items != nil {
		return FromNative(items)
	}
	return NewOther(v)
}
