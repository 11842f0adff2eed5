// Value normalisation, equality and ordering for the condition engine.
//
// Documents are decoded with UseNumber and then normalised, so every value
// a comparison sees is one of: nil, bool, int64, float64, string,
// time.Time (operands only), []any or map[string]any. Operands supplied
// from Go are normalised the same way, which is what lets Eq("n", 3) match
// a stored 3 regardless of the integer width the caller used.
//
// Equality is SameValue: NaN equals NaN, +0 and -0 differ, and int64 and
// float64 compare numerically. Ordering is defined only for number/number,
// string/string and time/time pairs, where a string counts as a time when
// the other side is a time.Time and it parses as RFC 3339. Anything else
// is incomparable and range operators treat it as a non-match.
package jsondb

import (
	"cmp"
	"errors"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// normalize maps a Go value onto the closed set of types the engine
// compares. Unknown kinds (structs, typed slices, custom types) are
// round-tripped through JSON, which is how they would be stored.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, int64, time.Time:
		return x
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return fromUint(x)
	case json.Number:
		return fromNumber(string(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out, err := decodeValue(raw)
	if err != nil {
		return v
	}
	return out
}

func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

func fromNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

// decodeValue parses one JSON value with number preservation.
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return normalize(v), nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// asTime interprets v as an instant when other is a time.Time.
func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// sameValue reports whether two normalised values are equal.
func sameValue(a, b any) bool {
	_, at := a.(time.Time)
	_, bt := b.(time.Time)
	if at || bt {
		ta, ok1 := asTime(a)
		tb, ok2 := asTime(b)
		return ok1 && ok2 && ta.Equal(tb)
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int64:
		if y, ok := b.(int64); ok {
			return x == y
		}
		y, ok := b.(float64)
		return ok && sameFloat(float64(x), y)
	case float64:
		y, ok := asFloat(b)
		return ok && sameFloat(x, y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !sameValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !sameValue(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b && math.Signbit(a) == math.Signbit(b)
}

// compareValues orders two normalised values. ok is false when the pair
// has no defined order, including any comparison involving NaN.
func compareValues(a, b any) (c int, ok bool) {
	_, at := a.(time.Time)
	_, bt := b.(time.Time)
	if at || bt {
		ta, ok1 := asTime(a)
		tb, ok2 := asTime(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		return ta.Compare(tb), true
	}

	if x, xok := a.(int64); xok {
		if y, yok := b.(int64); yok {
			return cmp.Compare(x, y), true
		}
	}
	if x, xok := asFloat(a); xok {
		y, yok := asFloat(b)
		if !yok || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		return cmp.Compare(x, y), true
	}
	if x, xok := a.(string); xok {
		y, yok := b.(string)
		if !yok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

// Sort ranks: values of different kinds order by kind.
const (
	rankAbsent = iota
	rankNull
	rankNumber
	rankString
	rankBool
	rankObject
	rankArray
)

func sortRank(v any, present bool) int {
	if !present {
		return rankAbsent
	}
	switch v.(type) {
	case nil:
		return rankNull
	case int64, float64:
		return rankNumber
	case string, time.Time:
		return rankString
	case bool:
		return rankBool
	case map[string]any:
		return rankObject
	case []any:
		return rankArray
	}
	return rankObject
}

// sortCompare is a total order used by FindOptions.Sort. Values of the
// same kind without a natural order (objects, arrays, NaN) tie, which a
// stable sort turns into insertion order.
func sortCompare(a any, aok bool, b any, bok bool) int {
	ra, rb := sortRank(a, aok), sortRank(b, bok)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case rankNumber, rankString:
		if c, ok := compareValues(a, b); ok {
			return c
		}
	}
	return 0
}

// cloneDoc copies the top level of a document. Values are shared, which is
// safe because nothing mutates a stored value in place.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
