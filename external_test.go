package clickhouse

import (
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var siteStructure = Structure{{"site_id", "Int32"}, {"url_hash", "String"}}

func TestStructure_String(t *testing.T) {
	assert.Equal(t, "site_id Int32, url_hash String", siteStructure.String())
}

func TestExternalData_AttachFile(t *testing.T) {
	path := writeFile(t, "sites.csv", "11,\"a\"\n20,\"b\"\n")

	ext := NewExternalData()
	require.NoError(t, ext.AttachFile(path, "sites", siteStructure, CSV))
	assert.Equal(t, 1, ext.Len())
	assert.Equal(t, path, ext.Tables()[0].Source())

	t.Run("Duplicate name", func(t *testing.T) {
		err := ext.AttachFile(path, "sites", siteStructure, CSV)
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.ErrorIs(t, err, ErrDuplicateTable)
	})

	t.Run("Missing file", func(t *testing.T) {
		err := ext.AttachFile(filepath.Join(t.TempDir(), "nope.csv"), "other", siteStructure, CSV)
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("Field count mismatch", func(t *testing.T) {
		bad := writeFile(t, "bad.tsv", "11\ta\textra\n")
		err := ext.AttachFile(bad, "bad", siteStructure, TabSeparated)
		assert.ErrorIs(t, err, ErrColumnMismatch)
	})

	t.Run("Empty name or structure", func(t *testing.T) {
		assert.Error(t, ext.AttachFile(path, "", siteStructure, CSV))
		assert.Error(t, ext.AttachFile(path, "x", nil, CSV))
	})

	t.Run("Empty file", func(t *testing.T) {
		empty := writeFile(t, "empty.csv", "")
		assert.NoError(t, ext.AttachFile(empty, "empty", siteStructure, CSV))
	})
}

func TestExternalData_Merge(t *testing.T) {
	a := NewExternalData()
	require.NoError(t, a.AttachReader(strings.NewReader("1\n"), "ids", Structure{{"id", "UInt32"}}, CSV))
	b := NewExternalData()
	require.NoError(t, b.AttachReader(strings.NewReader("x\n"), "names", Structure{{"name", "String"}}, CSV))

	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(nil))
	assert.Equal(t, 2, a.Len())

	err := a.Merge(b)
	assert.ErrorIs(t, err, ErrDuplicateTable)
	assert.Equal(t, 2, a.Len(), "a failed merge must not add tables")
}

func TestExternalData_Render(t *testing.T) {
	path := writeFile(t, "sites.csv", "11,a\n20,b\n")
	ext := NewExternalData()
	require.NoError(t, ext.AttachFile(path, "sites", siteStructure, CSV))
	require.NoError(t, ext.AttachReader(strings.NewReader("7\n"), "ids", Structure{{"id", "UInt32"}}, TabSeparated))

	parts := ext.render()
	assert.Equal(t, "site_id Int32, url_hash String", parts.params.Get("sites_structure"))
	assert.Equal(t, "CSV", parts.params.Get("sites_format"))
	assert.Equal(t, "id UInt32", parts.params.Get("ids_structure"))
	assert.Equal(t, "TabSeparated", parts.params.Get("ids_format"))

	mediaType, mparams, err := mime.ParseMediaType(parts.contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	body, err := parts.body()
	require.NoError(t, err)
	defer body.Close()

	got := map[string]string{}
	mr := multipart.NewReader(body, mparams["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		got[part.FormName()] = string(data)
	}
	assert.Equal(t, map[string]string{"sites": "11,a\n20,b\n", "ids": "7\n"}, got)
}

func TestExternalData_RenderMissingFile(t *testing.T) {
	path := writeFile(t, "gone.csv", "1,a\n")
	ext := NewExternalData()
	require.NoError(t, ext.AttachFile(path, "gone", siteStructure, CSV))
	require.NoError(t, os.Remove(path))

	body, err := ext.render().body()
	require.NoError(t, err)
	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `external table "gone"`)
}
