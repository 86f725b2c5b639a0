// Package chunking holds the per-format chunking configuration and the linear text splitter.
package chunking

// Built-in limits used when a strategy carries a non-positive size. Sizes and
// overlaps are in tokens.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultRowsPerChunk = 50
)

// TextStrategy configures linear chunking. Word and Markdown documents use it too.
type TextStrategy struct {
	ChunkSize        int  `json:"chunkSize"`
	ChunkOverlap     int  `json:"chunkOverlap"`
	RespectSentences bool `json:"respectSentences"`
}

type JSONStrategy struct {
	MaxChunkSize      int  `json:"maxChunkSize"`
	ChunkOverlap      int  `json:"chunkOverlap"`
	MaxDepth          int  `json:"maxDepth"`
	PreserveStructure bool `json:"preserveStructure"`
}

type CSVStrategy struct {
	RowsPerChunk   int  `json:"rowsPerChunk"`
	IncludeHeaders bool `json:"includeHeaders"`
}

// ExcelStrategy extends the CSV grouping with sheet selection. A nil Sheets
// slice selects every sheet in the workbook.
type ExcelStrategy struct {
	RowsPerChunk     int      `json:"rowsPerChunk"`
	IncludeHeaders   bool     `json:"includeHeaders"`
	IncludeSheetName bool     `json:"includeSheetName"`
	Sheets           []string `json:"sheets,omitempty"`
}

type PDFStrategy struct {
	ChunkSize          int  `json:"chunkSize"`
	ChunkOverlap       int  `json:"chunkOverlap"`
	PreserveParagraphs bool `json:"preserveParagraphs"`
}

// Strategy is the full per-format configuration used for one document.
type Strategy struct {
	Text  TextStrategy  `json:"text"`
	JSON  JSONStrategy  `json:"json"`
	CSV   CSVStrategy   `json:"csv"`
	Excel ExcelStrategy `json:"excel"`
	PDF   PDFStrategy   `json:"pdf"`
}

// Defaults returns a fresh copy of the built-in strategy.
func Defaults() Strategy {
	return Strategy{
		Text: TextStrategy{
			ChunkSize:        DefaultChunkSize,
			ChunkOverlap:     DefaultChunkOverlap,
			RespectSentences: true,
		},
		JSON: JSONStrategy{
			MaxChunkSize:      1000,
			ChunkOverlap:      100,
			MaxDepth:          3,
			PreserveStructure: true,
		},
		CSV: CSVStrategy{
			RowsPerChunk:   DefaultRowsPerChunk,
			IncludeHeaders: true,
		},
		Excel: ExcelStrategy{
			RowsPerChunk:     DefaultRowsPerChunk,
			IncludeHeaders:   true,
			IncludeSheetName: true,
		},
		PDF: PDFStrategy{
			ChunkSize:          DefaultChunkSize,
			ChunkOverlap:       DefaultChunkOverlap,
			PreserveParagraphs: true,
		},
	}
}

// Merge overlays the caller's overrides on Defaults. Formats and fields the
// caller leaves unset keep their defaults; values are not range checked.
func Merge(user *Overrides) Strategy {
	s := Defaults()
	if user == nil {
		return s
	}

	if o := user.Text; o != nil {
		setInt(&s.Text.ChunkSize, o.ChunkSize)
		setInt(&s.Text.ChunkOverlap, o.ChunkOverlap)
		setBool(&s.Text.RespectSentences, o.RespectSentences)
	}
	if o := user.JSON; o != nil {
		setInt(&s.JSON.MaxChunkSize, o.MaxChunkSize)
		setInt(&s.JSON.ChunkOverlap, o.ChunkOverlap)
		setInt(&s.JSON.MaxDepth, o.MaxDepth)
		setBool(&s.JSON.PreserveStructure, o.PreserveStructure)
	}
	if o := user.CSV; o != nil {
		setInt(&s.CSV.RowsPerChunk, o.RowsPerChunk)
		setBool(&s.CSV.IncludeHeaders, o.IncludeHeaders)
	}
	if o := user.Excel; o != nil {
		setInt(&s.Excel.RowsPerChunk, o.RowsPerChunk)
		setBool(&s.Excel.IncludeHeaders, o.IncludeHeaders)
		setBool(&s.Excel.IncludeSheetName, o.IncludeSheetName)
		if o.Sheets != nil {
			s.Excel.Sheets = append([]string(nil), o.Sheets...)
		}
	}
	if o := user.PDF; o != nil {
		setInt(&s.PDF.ChunkSize, o.ChunkSize)
		setInt(&s.PDF.ChunkOverlap, o.ChunkOverlap)
		setBool(&s.PDF.PreserveParagraphs, o.PreserveParagraphs)
	}
	return s
}

func setInt(dst *int, v *FlexInt) {
	if v != nil {
		*dst = int(*v)
	}
}

func setBool(dst *bool, v *FlexBool) {
	if v != nil {
		*dst = bool(*v)
	}
}
