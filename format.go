package clickhouse

import (
	"fmt"

	"github.com/ethanyzhang/clickhouse-http-go/utils"
)

// DataFormat is a delimited input format accepted for external tables and
// bulk file inserts.
type DataFormat int8

const (
	CSV DataFormat = iota
	CSVWithNames
	TabSeparated
	TabSeparatedWithNames
	JSONEachRow
)

var dataFormatNames = utils.NewBiMap(map[DataFormat]string{
	CSV:                   "CSV",
	CSVWithNames:          "CSVWithNames",
	TabSeparated:          "TabSeparated",
	TabSeparatedWithNames: "TabSeparatedWithNames",
	JSONEachRow:           "JSONEachRow",
})

// String returns the server's name for the format.
func (f DataFormat) String() string {
	if name, ok := dataFormatNames.Lookup(f); ok {
		return name
	}
	return fmt.Sprintf("DataFormat(%d)", int(f))
}

// ParseDataFormat parses a format name case-insensitively. TSV and
// TSVWithNames are accepted as aliases.
func ParseDataFormat(name string) (DataFormat, error) {
	switch name {
	case "TSV", "tsv":
		return TabSeparated, nil
	case "TSVWithNames":
		return TabSeparatedWithNames, nil
	}
	if f, ok := utils.FoldRLookup(dataFormatNames, name); ok {
		return f, nil
	}
	return CSV, fmt.Errorf("unknown data format %q", name)
}

// Delimiter returns the field separator for delimited formats, and 0 for
// JSONEachRow.
func (f DataFormat) Delimiter() rune {
	switch f {
	case CSV, CSVWithNames:
		return ','
	case TabSeparated, TabSeparatedWithNames:
		return '\t'
	}
	return 0
}

// HasHeader reports whether the first line of the input holds column names.
func (f DataFormat) HasHeader() bool {
	return f == CSVWithNames || f == TabSeparatedWithNames
}

// MarshalText implements encoding.TextMarshaler.
func (f DataFormat) MarshalText() ([]byte, error) {
	if _, ok := dataFormatNames.Lookup(f); !ok {
		return nil, fmt.Errorf("unknown data format %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *DataFormat) UnmarshalText(text []byte) error {
	var err error
	*f, err = ParseDataFormat(string(text))
	return err
}
