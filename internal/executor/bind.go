package executor

import (
	"fmt"
	"math"
	"strconv"
)

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1<<53 - 1

// bindParams prepares tool arguments for binding. JSON numbers arrive as
// float64, which pgx would silently round into integer columns. Whole
// numbers become int64. Fractions are sent as decimal text so the server
// parses them for the target type and rejects them for integer columns.
// Whole numbers past 2^53 may already have been rounded during JSON decoding
// and are rejected.
func bindParams(params Params) (Params, error) {
	if len(params) == 0 {
		return params, nil
	}
	out := make(Params, len(params))
	for name, v := range params {
		bound, err := bindValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = bound
	}
	return out, nil
}

func bindValue(v any) (any, error) {
	switch v := v.(type) {
	case float64:
		return bindFloat(v)
	case float32:
		return bindFloat(float64(v))
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			bound, err := bindValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = bound
		}
		return out, nil
	}
	return v, nil
}

func bindFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, nil
	}
	if f != math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	if math.Abs(f) > maxExactInt {
		return nil, fmt.Errorf("number %s is too large to bind exactly, pass it as a string", strconv.FormatFloat(f, 'f', -1, 64))
	}
	return int64(f), nil
}
