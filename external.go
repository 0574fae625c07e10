package clickhouse

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// ColumnDef declares one column of an external table.
type ColumnDef struct {
	Name string
	Type string
}

// Structure is an ordered list of column declarations.
type Structure []ColumnDef

// String renders the structure the way the server expects it in the
// <name>_structure parameter, e.g. "site_id Int32, url_hash String".
func (s Structure) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Name + " " + c.Type
	}
	return strings.Join(parts, ", ")
}

// ExternalTable is a local file (or stream) uploaded with a single query and
// visible inside it as an ordinary table called Name.
type ExternalTable struct {
	Name      string
	Structure Structure
	Format    DataFormat

	path   string
	reader io.Reader
}

// Source returns the file path, or "stream" for reader-backed tables.
func (t *ExternalTable) Source() string {
	if t.path != "" {
		return t.path
	}
	return "stream"
}

func (t *ExternalTable) open() (io.ReadCloser, error) {
	if t.path != "" {
		return os.Open(t.path)
	}
	return io.NopCloser(t.reader), nil
}

// ExternalData collects the external tables sent with one query, the
// equivalent of a WHERE ... IN (SELECT ... FROM file) lookup.
//
//	ext := clickhouse.NewExternalData()
//	_ = ext.AttachFile("/tmp/ids.csv", "ids", clickhouse.Structure{{"site_id", "Int32"}}, clickhouse.CSV)
//	st, err := client.Select(ctx, "SELECT * FROM t WHERE site_id IN (SELECT site_id FROM ids)", nil,
//	    clickhouse.WithExternalData(ext))
type ExternalData struct {
	tables []*ExternalTable
}

// NewExternalData returns an empty set of external tables.
func NewExternalData() *ExternalData {
	return &ExternalData{}
}

// AttachFile registers the file at path as the external table name. The first
// record of delimited files is checked against the declared structure.
func (d *ExternalData) AttachFile(path, name string, structure Structure, format DataFormat) error {
	if err := d.checkName(name, structure); err != nil {
		return err
	}
	if err := checkFieldCount(path, structure, format); err != nil {
		return err
	}
	d.tables = append(d.tables, &ExternalTable{Name: name, Structure: structure, Format: format, path: path})
	return nil
}

// AttachReader registers r as the external table name. The reader is consumed
// by the first request that carries it, so the ExternalData can only be sent once.
func (d *ExternalData) AttachReader(r io.Reader, name string, structure Structure, format DataFormat) error {
	if err := d.checkName(name, structure); err != nil {
		return err
	}
	d.tables = append(d.tables, &ExternalTable{Name: name, Structure: structure, Format: format, reader: r})
	return nil
}

// Merge adds the tables of other. Names must stay unique.
func (d *ExternalData) Merge(other *ExternalData) error {
	if other == nil {
		return nil
	}
	for _, t := range other.tables {
		if d.has(t.Name) {
			return newQueryError(ErrDuplicateTable, "external table %q", t.Name)
		}
	}
	d.tables = append(d.tables, other.tables...)
	return nil
}

// Tables returns the attached tables in attach order.
func (d *ExternalData) Tables() []*ExternalTable {
	if d == nil {
		return nil
	}
	return d.tables
}

// Len returns the number of attached tables.
func (d *ExternalData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.tables)
}

func (d *ExternalData) has(name string) bool {
	for _, t := range d.tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (d *ExternalData) checkName(name string, structure Structure) error {
	if name == "" {
		return newQueryError(nil, "external table name is empty")
	}
	if len(structure) == 0 {
		return newQueryError(nil, "external table %q has no columns", name)
	}
	if d.has(name) {
		return newQueryError(ErrDuplicateTable, "external table %q", name)
	}
	return nil
}

// checkFieldCount reads the first record of a delimited file and compares its
// field count with the declared structure.
func checkFieldCount(path string, structure Structure, format DataFormat) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newQueryError(ErrFileNotFound, "%s", path)
		}
		return newQueryError(err, "open %s", path)
	}
	defer f.Close()

	delim := format.Delimiter()
	if delim == 0 {
		return nil
	}
	r := csv.NewReader(f)
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return newQueryError(err, "read first record of %s", path)
	}
	if len(record) != len(structure) {
		return newQueryError(ErrColumnMismatch, "%s has %d fields, structure declares %d", path, len(record), len(structure))
	}
	return nil
}

// externalParts is the rendered form of ExternalData: the URL parameters
// describing each table and a streaming multipart body carrying the data.
type externalParts struct {
	params      url.Values
	body        rolling.BodyFunc
	contentType string
}

func (d *ExternalData) render() *externalParts {
	params := url.Values{}
	for _, t := range d.tables {
		params.Set(t.Name+"_structure", t.Structure.String())
		params.Set(t.Name+"_format", t.Format.String())
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	tables := d.tables
	body := func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			mw := multipart.NewWriter(pw)
			if err := mw.SetBoundary(boundary); err != nil {
				pw.CloseWithError(err)
				return
			}
			for _, t := range tables {
				if err := writeExternalPart(mw, t); err != nil {
					pw.CloseWithError(fmt.Errorf("external table %q: %w", t.Name, err))
					return
				}
			}
			pw.CloseWithError(mw.Close())
		}()
		return pr, nil
	}

	return &externalParts{
		params:      params,
		body:        body,
		contentType: "multipart/form-data; boundary=" + boundary,
	}
}

func writeExternalPart(mw *multipart.Writer, t *ExternalTable) error {
	src, err := t.open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("table", t.Name).Msg("failed to close external table source")
		}
	}()

	part, err := mw.CreateFormFile(t.Name, filepath.Base(t.Source()))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
