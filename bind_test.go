package clickhouse

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	n := 7
	var nilPtr *int

	cases := []struct {
		name    string
		in      any
		kind    Kind
		literal string
	}{
		{"nil", nil, KindNull, "NULL"},
		{"string", "it's", KindString, `'it\'s'`},
		{"bytes", []byte("ab"), KindString, "'ab'"},
		{"bool", false, KindBool, "0"},
		{"int", -3, KindNumber, "-3"},
		{"uint64", uint64(math.MaxUint64), KindNumber, "18446744073709551615"},
		{"float", 1.5, KindNumber, "1.5"},
		{"json number", json.Number("12.50"), KindNumber, "12.50"},
		{"time", ts, KindString, "'2024-03-01 12:30:00'"},
		{"pointer", &n, KindNumber, "7"},
		{"nil pointer", nilPtr, KindNull, "NULL"},
		{"value", Raw("today()"), KindRaw, "today()"},
		{"string slice", []string{"a", "b"}, KindArray, "('a','b')"},
		{"int array", [2]int{1, 2}, KindArray, "(1,2)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Bind(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, v.Kind())
			assert.Equal(t, tc.literal, v.Literal())
		})
	}

	_, err := Bind(struct{}{})
	assert.Error(t, err)
}

func TestValue_ValueLiteral(t *testing.T) {
	v, err := Bind([]any{"HASH1", []int{11, 22, 33}, nil})
	require.NoError(t, err)
	assert.Equal(t, "['HASH1',[11,22,33],NULL]", v.ValueLiteral())
	assert.Equal(t, 3, v.Len())
}

func TestFloat_NonFinite(t *testing.T) {
	assert.Equal(t, "nan", Float(math.NaN()).Literal())
	assert.Equal(t, "inf", Float(math.Inf(1)).Literal())
	assert.Equal(t, "-inf", Float(math.Inf(-1)).Literal())
}

func TestBinds(t *testing.T) {
	b, err := Binds(map[string]any{"limit": 10, "dates": []string{"2000-10-10"}})
	require.NoError(t, err)
	assert.Equal(t, Int(10), b["limit"])
	assert.Equal(t, Strings("2000-10-10"), b["dates"])

	_, err = Binds(map[string]any{"bad": make(chan int)})
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Error(), `"bad"`)
}

func TestValue_Text(t *testing.T) {
	assert.Equal(t, "table_x_y", String("table_x_y").Text())
	assert.Equal(t, "a,b", Strings("a", "b").Text())
	assert.Equal(t, "1", Bool(true).Text())
	assert.Equal(t, "", Null().Text())
}

func TestValue_Truthy(t *testing.T) {
	assert.True(t, String("0").Truthy())
	assert.True(t, Raw("0").Truthy(), "raw text is judged as text")
	assert.False(t, Int(0).Truthy())
	assert.False(t, Float(0).Truthy())
	assert.False(t, String("").Truthy())

	sql, err := Render("{if flag}on{else}off{/if}", Bindings{"flag": String("0")})
	require.NoError(t, err)
	assert.Equal(t, "on", sql)
}
