// Package utils holds small generic helpers shared by the client packages.
package utils

import "strings"

// BiMap is an immutable two-way lookup table used for enums that have both a
// Go value and a wire name, such as data formats.
// Lookups by key use the forward map and lookups by value use the reverse map.
// Both key and value types must be comparable.
// There are no mutating methods; build a new BiMap to change the content.
type BiMap[K comparable, V comparable] struct {
	forward map[K]V // key -> value
	reverse map[V]K // value -> key
}

// NewBiMap builds a BiMap from input, deriving the reverse direction.
// The input map is copied, so later changes to it are not observed.
// Note: values are expected to be unique. When input repeats a value, the
// reverse lookup keeps whichever key was visited last.
//
// Parameters:
//   - input: The key to value pairs
//
// Returns:
//   - A BiMap answering lookups in both directions
func NewBiMap[K comparable, V comparable](input map[K]V) *BiMap[K, V] {
	m := &BiMap[K, V]{
		forward: make(map[K]V, len(input)),
		reverse: make(map[V]K, len(input)),
	}
	for k, v := range input {
		m.forward[k] = v
		m.reverse[v] = k
	}
	return m
}

// Lookup returns the value stored for key.
//
// Parameters:
//   - key: The key to search for
//
// Returns:
//   - The value for key
//   - Whether key is present
func (m *BiMap[K, V]) Lookup(key K) (V, bool) {
	v, ok := m.forward[key]
	return v, ok
}

// DirectLookup returns the value stored for key, for callers that know the
// key is present. A missing key yields the zero value of V.
//
// Parameters:
//   - key: The key to search for
//
// Returns:
//   - The value for key, or the zero value
func (m *BiMap[K, V]) DirectLookup(key K) V {
	return m.forward[key]
}

// RLookup returns the key stored for value.
//
// Parameters:
//   - value: The value to search for
//
// Returns:
//   - The key for value
//   - Whether value is present
func (m *BiMap[K, V]) RLookup(value V) (K, bool) {
	k, ok := m.reverse[value]
	return k, ok
}

// DirectRLookup returns the key stored for value, for callers that know the
// value is present. A missing value yields the zero value of K.
//
// Parameters:
//   - value: The value to search for
//
// Returns:
//   - The key for value, or the zero value
func (m *BiMap[K, V]) DirectRLookup(value V) K {
	return m.reverse[value]
}

// Len returns the number of pairs.
func (m *BiMap[K, V]) Len() int {
	return len(m.forward)
}

// FoldRLookup finds the key whose string value equals name under Unicode
// case folding. An exact match is tried first.
//
// Parameters:
//   - m: The BiMap to search
//   - name: The value to match, in any letter case
//
// Returns:
//   - The key for the matching value
//   - Whether a match was found
func FoldRLookup[K comparable](m *BiMap[K, string], name string) (K, bool) {
	if k, ok := m.RLookup(name); ok {
		return k, true
	}
	for v, k := range m.reverse {
		if strings.EqualFold(v, name) {
			return k, true
		}
	}
	var zero K
	return zero, false
}
