// Package catalog reads and writes the flat game tables exchanged between the
// enrichment and recommendation stages, and builds the corpus the similarity
// engine is trained on.
package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/game-insight/backend/internal/storage/models"
)

var (
	ErrNotFound      = errors.New("catalog file not found")
	ErrEmptyTable    = errors.New("catalog has no header row")
	ErrMissingColumn = errors.New("catalog column missing")
)

// Table is a header-addressed CSV table. Unknown columns and column order are
// preserved on write.
type Table struct {
	header []string
	rows   [][]string
	index  map[string]int
}

func NewTable(header []string) *Table {
	t := &Table{
		header: append([]string(nil), header...),
		index:  make(map[string]int, len(header)),
	}
	for i, name := range header {
		if _, ok := t.index[name]; !ok {
			t.index[name] = i
		}
	}
	return t
}

func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return t, nil
}

func Read(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	t := NewTable(header)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(t.rows)+1, err)
		}
		t.AppendRow(record)
	}
	return t, nil
}

// WriteFile writes the table to path, replacing any existing file.
func (t *Table) WriteFile(path string) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return t.Write(f)
}

// Write emits the table as CSV. Fields are quoted only when they contain a
// comma, a quote or a line break, the rule pandas writes with, so a catalog
// read and written unchanged keeps its exact bytes.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, t.header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range t.rows {
		if err := writeRecord(bw, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush catalog: %w", err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, record []string) error {
	for i, field := range record {
		if i > 0 {
			w.WriteByte(',')
		}
		if !needsQuotes(field) {
			w.WriteString(field)
			continue
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(field, `"`, `""`))
		w.WriteByte('"')
	}
	// A lone empty field is quoted so the row is not read back as a blank line.
	if len(record) == 1 && record[0] == "" {
		w.WriteString(`""`)
	}
	_, err := w.WriteString("\n")
	return err
}

func needsQuotes(field string) bool {
	return strings.ContainsAny(field, ",\"\r\n")
}

func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the position of name, or -1.
func (t *Table) Column(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// EnsureColumn appends an empty column when name is absent and returns its position.
func (t *Table) EnsureColumn(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.header = append(t.header, name)
	t.index[name] = len(t.header) - 1
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], "")
	}
	return len(t.header) - 1
}

// AppendRow adds a row, padding or truncating it to the header width.
func (t *Table) AppendRow(values []string) {
	row := make([]string, len(t.header))
	copy(row, values)
	t.rows = append(t.rows, row)
}

// Get returns the cell value, or "" when the column does not exist.
func (t *Table) Get(row int, column string) string {
	i, ok := t.index[column]
	if !ok {
		return ""
	}
	return t.rows[row][i]
}

// Set writes a cell, adding the column when needed.
func (t *Table) Set(row int, column, value string) {
	i := t.EnsureColumn(column)
	t.rows[row][i] = value
}

// Clone returns a deep copy, so callers can derive a new table without
// touching the original.
func (t *Table) Clone() *Table {
	c := NewTable(t.header)
	c.rows = make([][]string, len(t.rows))
	for i, row := range t.rows {
		c.rows[i] = append([]string(nil), row...)
	}
	return c
}

// Record reads row i as a game record keyed by titleColumn. Missing cells
// read as empty strings.
func (t *Table) Record(i int, titleColumn string) models.GameRecord {
	return models.GameRecord{
		Title:            t.Get(i, titleColumn),
		Genre:            t.Get(i, models.ColumnGenre),
		ShortDescription: t.Get(i, models.ColumnShortDescription),
		PlayerMode:       models.PlayerMode(t.Get(i, models.ColumnPlayerMode)),
		Status:           models.EnrichmentStatus(t.Get(i, models.ColumnStatus)),
		StatusMessage:    t.Get(i, models.ColumnStatusMessage),
	}
}

// Records reads every row as a game record.
func (t *Table) Records(titleColumn string) ([]models.GameRecord, error) {
	if !t.HasColumn(titleColumn) {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, titleColumn)
	}
	records := make([]models.GameRecord, t.Len())
	for i := range records {
		records[i] = t.Record(i, titleColumn)
	}
	return records, nil
}

func trimBOM(s string) string {
	const bom = "\ufeff"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}
