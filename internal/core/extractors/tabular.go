package extractors

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
)

var (
	_ core.Extractor = (*CSVExtractor)(nil)
	_ core.Extractor = (*ExcelExtractor)(nil)
)

// rowGroup describes how a table is cut into chunks.
type rowGroup struct {
	rowsPerChunk   int
	includeHeaders bool
	prefix         string // first line of every chunk, e.g. "Sheet: Q1"
	base           models.ChunkMetadata
}

// groupRows emits ceil(len(rows)/k) fragments. Each row renders as
// "header: value" pairs for its non-empty cells; start_row and end_row are
// 1-based data row numbers.
func groupRows(ctx context.Context, header []string, rows [][]string, g rowGroup) ([]core.Fragment, error) {
	k := g.rowsPerChunk
	if k <= 0 {
		k = chunking.DefaultRowsPerChunk
	}

	var out []core.Fragment
	for start := 0; start < len(rows); start += k {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+k, len(rows))

		var b strings.Builder
		if g.prefix != "" {
			b.WriteString(g.prefix)
			b.WriteByte('\n')
		}
		if g.includeHeaders && len(header) > 0 {
			b.WriteString("Columns: ")
			b.WriteString(strings.Join(header, ", "))
			b.WriteByte('\n')
		}
		for i := start; i < end; i++ {
			if line := renderRow(header, rows[i]); line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}

		md := g.base
		md.StartRow = start + 1
		md.EndRow = end
		out = append(out, core.Fragment{Text: strings.TrimRight(b.String(), "\n"), Metadata: md})
	}
	return out, nil
}

func renderRow(header, row []string) string {
	pairs := make([]string, 0, len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		pairs = append(pairs, columnName(header, i)+": "+cell)
	}
	return strings.Join(pairs, ", ")
}

func columnName(header []string, i int) string {
	if i < len(header) {
		if h := strings.TrimSpace(header[i]); h != "" {
			return h
		}
	}
	return fmt.Sprintf("column_%d", i+1)
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i := range header {
		out[i] = columnName(header, i)
	}
	return out
}

// CSVExtractor groups data rows under the first record's headers.
type CSVExtractor struct{}

func NewCSVExtractor() *CSVExtractor { return &CSVExtractor{} }

func (e *CSVExtractor) SupportedMIMETypes() []string {
	return []string{MIMECSV, "application/csv"}
}

func (e *CSVExtractor) Extract(ctx context.Context, data []byte, filename string, s chunking.Strategy) ([]core.Fragment, error) {
	r := csv.NewReader(strings.NewReader(cleanText(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv %q: %v", core.ErrExtraction, filename, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil
	}

	return groupRows(ctx, normalizeHeader(records[0]), records[1:], rowGroup{
		rowsPerChunk:   s.CSV.RowsPerChunk,
		includeHeaders: s.CSV.IncludeHeaders,
		base:           models.ChunkMetadata{SourceType: sourceCSV},
	})
}

// ExcelExtractor reads .xlsx workbooks with excelize, one row group per sheet.
type ExcelExtractor struct{}

func NewExcelExtractor() *ExcelExtractor { return &ExcelExtractor{} }

func (e *ExcelExtractor) SupportedMIMETypes() []string { return []string{MIMEXLSX} }

func (e *ExcelExtractor) Extract(ctx context.Context, data []byte, filename string, s chunking.Strategy) ([]core.Fragment, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx %q: %v", core.ErrExtraction, filename, err)
	}
	defer f.Close()

	sheets := selectSheets(f.GetSheetList(), s.Excel.Sheets, filename)

	var out []core.Fragment
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: xlsx %q sheet %q: %v", core.ErrExtraction, filename, sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		g := rowGroup{
			rowsPerChunk:   s.Excel.RowsPerChunk,
			includeHeaders: s.Excel.IncludeHeaders,
			base:           models.ChunkMetadata{SourceType: sourceExcel, Sheet: sheet},
		}
		if s.Excel.IncludeSheetName {
			g.prefix = "Sheet: " + sheet
		}
		frags, err := groupRows(ctx, normalizeHeader(rows[0]), rows[1:], g)
		if err != nil {
			return nil, err
		}
		out = append(out, frags...)
	}
	return out, nil
}

// selectSheets keeps workbook order. Requested names missing from the workbook are skipped with a warning.
func selectSheets(available, requested []string, filename string) []string {
	if len(requested) == 0 {
		return available
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[name] = true
	}

	var out []string
	for _, name := range available {
		if want[name] {
			out = append(out, name)
			delete(want, name)
		}
	}
	for name := range want {
		logger.Warn("requested sheet not found", zap.String("file", filename), zap.String("sheet", name))
	}
	return out
}
