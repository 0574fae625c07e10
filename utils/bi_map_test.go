package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBiMap(t *testing.T) {
	input := map[int]string{
		1: "CSV",
		2: "TabSeparated",
	}
	m := NewBiMap(input)

	t.Run("Forward lookups", func(t *testing.T) {
		v, ok := m.Lookup(1)
		assert.True(t, ok)
		assert.Equal(t, "CSV", v)

		_, ok = m.Lookup(3)
		assert.False(t, ok)
		assert.Equal(t, "", m.DirectLookup(3))
	})

	t.Run("Reverse lookups", func(t *testing.T) {
		k, ok := m.RLookup("TabSeparated")
		assert.True(t, ok)
		assert.Equal(t, 2, k)

		_, ok = m.RLookup("tabseparated")
		assert.False(t, ok, "RLookup is case-sensitive")
		assert.Equal(t, 0, m.DirectRLookup("JSON"))
	})

	t.Run("Case-insensitive reverse lookup", func(t *testing.T) {
		k, ok := FoldRLookup(m, "tabseparated")
		assert.True(t, ok)
		assert.Equal(t, 2, k)

		_, ok = FoldRLookup(m, "Parquet")
		assert.False(t, ok)
	})

	t.Run("Copies its input", func(t *testing.T) {
		input[1] = "JSON"
		input[9] = "Native"

		v, _ := m.Lookup(1)
		assert.Equal(t, "CSV", v)
		_, ok := m.RLookup("Native")
		assert.False(t, ok)
		assert.Equal(t, 2, m.Len())
	})
}
