package executor

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// convertValue maps a value returned by pgx to something encoding/json
// renders the way PostgreSQL prints it.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val), val)
	case float64:
		return convertFloat(val, val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case string:
		return val
	case pgtype.Numeric:
		return convertNumeric(val)
	case pgtype.Time:
		return convertTime(val)
	case pgtype.Interval:
		return convertInterval(val)
	case pgtype.Range[any]:
		return convertRange(val)
	case pgtype.Bits:
		return convertBits(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	default:
		if s, ok := convertGeometric(v); ok {
			return s
		}
		return val
	}
}

// convertFloat spells out the values JSON cannot carry.
func convertFloat(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return orig
}

// convertNumeric returns a float64 when the float prints back as the same
// decimal, otherwise the decimal text.
func convertNumeric(val pgtype.Numeric) any {
	switch {
	case !val.Valid:
		return nil
	case val.NaN:
		return "NaN"
	case val.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case val.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	b, err := val.MarshalJSON()
	if err != nil {
		return nil
	}
	text := string(b)
	f, err := val.Float64Value()
	if err != nil || !f.Valid || math.IsInf(f.Float64, 0) {
		return text
	}
	exact, ok := new(big.Rat).SetString(text)
	if !ok {
		return text
	}
	shortest, ok := new(big.Rat).SetString(strconv.FormatFloat(f.Float64, 'g', -1, 64))
	if !ok || exact.Cmp(shortest) != 0 {
		return text
	}
	return f.Float64
}

func convertTime(val pgtype.Time) any {
	if !val.Valid {
		return nil
	}
	us := val.Microseconds
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func convertInterval(val pgtype.Interval) any {
	if !val.Valid {
		return nil
	}
	var parts []string
	if years := val.Months / 12; years != 0 {
		parts = append(parts, fmt.Sprintf("%d year(s)", years))
	}
	if months := val.Months % 12; months != 0 {
		parts = append(parts, fmt.Sprintf("%d mon(s)", months))
	}
	if val.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
	}
	if val.Microseconds != 0 {
		parts = append(parts, (time.Duration(val.Microseconds) * time.Microsecond).String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

func convertRange(val pgtype.Range[any]) any {
	if !val.Valid {
		return nil
	}
	if val.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if val.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if val.LowerType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(val.Lower))
	}
	sb.WriteByte(',')
	if val.UpperType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(val.Upper))
	}
	if val.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

func convertBits(val pgtype.Bits) any {
	if !val.Valid {
		return nil
	}
	out := make([]byte, val.Len)
	for i := int32(0); i < val.Len; i++ {
		if val.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

func formatPoints(points []pgtype.Vec2) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("(%g,%g)", p.X, p.Y)
	}
	return strings.Join(parts, ",")
}

// convertGeometric renders geometric types in PostgreSQL text syntax. The
// second result is false when v is not a geometric type.
func convertGeometric(v any) (any, bool) {
	switch val := v.(type) {
	case pgtype.Point:
		if !val.Valid {
			return nil, true
		}
		return fmt.Sprintf("(%g,%g)", val.P.X, val.P.Y), true
	case pgtype.Line:
		if !val.Valid {
			return nil, true
		}
		return fmt.Sprintf("{%g,%g,%g}", val.A, val.B, val.C), true
	case pgtype.Lseg:
		if !val.Valid {
			return nil, true
		}
		return "[" + formatPoints(val.P[:]) + "]", true
	case pgtype.Box:
		if !val.Valid {
			return nil, true
		}
		return formatPoints(val.P[:]), true
	case pgtype.Path:
		if !val.Valid {
			return nil, true
		}
		if val.Closed {
			return "(" + formatPoints(val.P) + ")", true
		}
		return "[" + formatPoints(val.P) + "]", true
	case pgtype.Polygon:
		if !val.Valid {
			return nil, true
		}
		return "(" + formatPoints(val.P) + ")", true
	case pgtype.Circle:
		if !val.Valid {
			return nil, true
		}
		return fmt.Sprintf("<(%g,%g),%g>", val.P.X, val.P.Y, val.R), true
	}
	return nil, false
}
