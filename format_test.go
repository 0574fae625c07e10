package clickhouse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataFormat_String(t *testing.T) {
	assert.Equal(t, "CSV", CSV.String())
	assert.Equal(t, "TabSeparatedWithNames", TabSeparatedWithNames.String())
	assert.Equal(t, "DataFormat(42)", DataFormat(42).String())
}

func TestParseDataFormat(t *testing.T) {
	t.Run("Known names", func(t *testing.T) {
		for name, want := range map[string]DataFormat{
			"CSV": CSV, "csv": CSV, "tabseparated": TabSeparated, "TSV": TabSeparated,
			"TSVWithNames": TabSeparatedWithNames, "JSONEachRow": JSONEachRow,
		} {
			f, err := ParseDataFormat(name)
			require.NoError(t, err, name)
			assert.Equal(t, want, f, name)
		}
	})

	t.Run("Unknown name", func(t *testing.T) {
		f, err := ParseDataFormat("Parquet")
		assert.Error(t, err)
		assert.Equal(t, CSV, f)
	})
}

func TestDataFormat_Properties(t *testing.T) {
	assert.Equal(t, ',', CSVWithNames.Delimiter())
	assert.Equal(t, '\t', TabSeparated.Delimiter())
	assert.Equal(t, rune(0), JSONEachRow.Delimiter())
	assert.True(t, CSVWithNames.HasHeader())
	assert.False(t, CSV.HasHeader())
}

func TestDataFormat_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Format DataFormat `json:"format"`
	}

	data, err := json.Marshal(wrapper{Format: TabSeparated})
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":"TabSeparated"}`, string(data))

	var decoded wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"format":"csvwithnames"}`), &decoded))
	assert.Equal(t, CSVWithNames, decoded.Format)

	_, err = json.Marshal(wrapper{Format: DataFormat(99)})
	assert.Error(t, err)
}
