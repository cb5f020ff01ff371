package coerce

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// ============================================================================
// SAFE COERCION HELPERS
// These try to convert an interface{} into the target type. On failure they
// return a descriptive error, never panic.
// ============================================================================

// ToString converts input into a string. Nil becomes "".
func ToString(input interface{}) string {
	if input == nil {
		return ""
	}
	s, err := cast.ToStringE(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return s
}

// ToInt32 converts input into an int32 (e.g. "123", 123.0). Values outside
// the int32 range are an error rather than wrapped.
func ToInt32(input interface{}) (int32, error) {
	if input == nil {
		return 0, nil
	}
	i, err := cast.ToInt64E(input)
	if err != nil {
		return 0, fmt.Errorf("failed to coerce value '%v' (type %T) to int32", input, input)
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, fmt.Errorf("value '%v' is out of int32 range", input)
	}
	return int32(i), nil
}

// ToFloat64 converts input into a float64. Supports numeric strings and all
// integer widths.
func ToFloat64(input interface{}) (float64, error) {
	if input == nil {
		return 0.0, nil
	}
	f, err := cast.ToFloat64E(input)
	if err != nil {
		return 0.0, fmt.Errorf("failed to coerce value '%v' (type %T) to float64", input, input)
	}
	return f, nil
}

// IsNumeric reports whether input is one of Go's numeric kinds. Numeric
// strings are not numbers here.
func IsNumeric(input interface{}) bool {
	switch input.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// ToSlice converts input into []interface{}.
func ToSlice(input interface{}) ([]interface{}, error) {
	if input == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(input)
	if err != nil {
		return nil, fmt.Errorf("failed to coerce value (type %T) to slice", input)
	}
	return s, nil
}
