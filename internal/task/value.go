package task

import (
	"fmt"
	"strconv"
)

// encodeValue renders a CEL-evaluated native Go value as the raw bytes
// stored in the context's attribute cache, following the same
// string/decimal-integer convention as TypedProperty.AsString.
func encodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return []byte(val), nil
	case bool:
		return strconv.AppendBool(nil, val), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case float64:
		return strconv.AppendFloat(nil, val, 'f', -1, 64), nil
	case []byte:
		return val, nil
	default:
		return nil, fmt.Errorf("task: unsupported value type %T", v)
	}
}
