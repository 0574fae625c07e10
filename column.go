package clickhouse

import "strings"

// Column represents metadata about a column in a query result.
type Column struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the ClickHouse data type as declared, e.g. "Nullable(String)"
	Type string `json:"type"`
}

// BaseType returns the type with Nullable and LowCardinality wrappers removed.
func (c Column) BaseType() string {
	return baseType(c.Type)
}

// Nullable reports whether the column type is Nullable.
func (c Column) Nullable() bool {
	t := strings.TrimPrefix(c.Type, "LowCardinality(")
	return strings.HasPrefix(t, "Nullable(")
}

// baseType strips Nullable(...) and LowCardinality(...) wrappers.
func baseType(t string) string {
	for {
		switch {
		case strings.HasPrefix(t, "Nullable(") && strings.HasSuffix(t, ")"):
			t = t[len("Nullable(") : len(t)-1]
		case strings.HasPrefix(t, "LowCardinality(") && strings.HasSuffix(t, ")"):
			t = t[len("LowCardinality(") : len(t)-1]
		default:
			return t
		}
	}
}

// typeName returns the type name without parameters, e.g. "DateTime64(3)" -> "DateTime64".
func typeName(t string) string {
	if i := strings.IndexByte(t, '('); i >= 0 {
		return t[:i]
	}
	return t
}
