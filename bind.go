package clickhouse

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindRaw
)

// DateTimeLayout is the layout used when binding time.Time values.
const DateTimeLayout = "2006-01-02 15:04:05"

// Value is a bound query parameter. Rendering dispatches on its Kind, never on
// the dynamic type of the Go value it was built from.
type Value struct {
	kind  Kind
	text  string // string contents, number literal, or raw SQL
	b     bool
	items []Value
}

// Null returns the SQL NULL value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string value; it is quoted and escaped when bound.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

// Uint returns an unsigned integer value.
func Uint(n uint64) Value { return Value{kind: KindNumber, text: strconv.FormatUint(n, 10)} }

// Float returns a floating point value.
func Float(f float64) Value {
	switch {
	case math.IsNaN(f):
		return Value{kind: KindNumber, text: "nan"}
	case math.IsInf(f, 1):
		return Value{kind: KindNumber, text: "inf"}
	case math.IsInf(f, -1):
		return Value{kind: KindNumber, text: "-inf"}
	}
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Bool returns a boolean value, rendered as 1 or 0.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Raw returns a SQL fragment that is substituted verbatim. The caller is
// responsible for its safety.
func Raw(sql string) Value { return Value{kind: KindRaw, text: sql} }

// Array returns a sequence value.
func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

// Strings returns a sequence of string values.
func Strings(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return Array(items...)
}

// Ints returns a sequence of integer values.
func Ints(ns ...int64) Value {
	items := make([]Value, len(ns))
	for i, n := range ns {
		items[i] = Int(n)
	}
	return Array(items...)
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Len returns the number of elements of an array value, and 0 otherwise.
func (v Value) Len() int { return len(v.items) }

// Truthy reports whether the value selects the first branch of an {if} block:
// it must be non-null, non-empty, non-false and non-zero. Zero is judged on
// numbers only, so String("0") is truthy while Int(0) is not.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString, KindRaw:
		return v.text != ""
	case KindNumber:
		f, err := strconv.ParseFloat(v.text, 64)
		return err != nil || f != 0
	case KindBool:
		return v.b
	case KindArray:
		return len(v.items) > 0
	default:
		return false
	}
}

// Literal renders the value for a :name bind token. Strings are quoted and
// escaped, numbers and NULL are bare, and arrays render as a parenthesized
// comma separated list, e.g. ('a','b').
func (v Value) Literal() string {
	if v.kind != KindArray {
		return v.scalarLiteral()
	}
	return "(" + v.listLiteral() + ")"
}

func (v Value) listLiteral() string {
	parts := make([]string, len(v.items))
	for i, item := range v.items {
		parts[i] = item.ValueLiteral()
	}
	return strings.Join(parts, ",")
}

// ValueLiteral renders the value as it appears in an INSERT ... VALUES row.
// Arrays render as ClickHouse array literals, e.g. [1,2,3].
func (v Value) ValueLiteral() string {
	if v.kind != KindArray {
		return v.scalarLiteral()
	}
	parts := make([]string, len(v.items))
	for i, item := range v.items {
		parts[i] = item.ValueLiteral()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (v Value) scalarLiteral() string {
	switch v.kind {
	case KindString:
		return QuoteString(v.text)
	case KindNumber, KindRaw:
		return v.text
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	default:
		return "NULL"
	}
}

// Text renders the value for a raw {name} token, without quoting.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber, KindRaw:
		return v.text
	case KindBool:
		return v.scalarLiteral()
	case KindArray:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.Text()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// String implements fmt.Stringer for debugging.
func (v Value) String() string {
	return v.ValueLiteral()
}

// QuoteString quotes s as a ClickHouse string literal using backslash escapes.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case 0:
			b.WriteString(`\0`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\x%02X`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Bindings maps parameter names to bound values.
type Bindings map[string]Value

// Bind converts a Go value into a Value. Supported inputs are nil, Value,
// strings, byte slices, booleans, integer and float types, json.Number,
// time.Time, and slices or arrays of those.
func Bind(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return String(string(val)), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int8:
		return Int(int64(val)), nil
	case int16:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return Uint(uint64(val)), nil
	case uint8:
		return Uint(uint64(val)), nil
	case uint16:
		return Uint(uint64(val)), nil
	case uint32:
		return Uint(uint64(val)), nil
	case uint64:
		return Uint(val), nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case json.Number:
		return Value{kind: KindNumber, text: val.String()}, nil
	case time.Time:
		return String(val.Format(DateTimeLayout)), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range rv.Len() {
			item, err := Bind(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = item
		}
		return Array(items...), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return Bind(rv.Elem().Interface())
	}
	return Value{}, fmt.Errorf("unsupported parameter type: %T", v)
}

// Binds converts a map of Go values into Bindings.
func Binds(params map[string]any) (Bindings, error) {
	out := make(Bindings, len(params))
	for name, v := range params {
		val, err := Bind(v)
		if err != nil {
			return nil, &QueryError{Message: fmt.Sprintf("parameter %q", name), Err: err}
		}
		out[name] = val
	}
	return out, nil
}
