package chunking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Overrides is a partial Strategy supplied by a caller. Nil pointers mean "not set".
type Overrides struct {
	Text  *TextOverrides  `json:"text,omitempty"`
	JSON  *JSONOverrides  `json:"json,omitempty"`
	CSV   *CSVOverrides   `json:"csv,omitempty"`
	Excel *ExcelOverrides `json:"excel,omitempty"`
	PDF   *PDFOverrides   `json:"pdf,omitempty"`
}

type TextOverrides struct {
	ChunkSize        *FlexInt  `json:"chunkSize,omitempty"`
	ChunkOverlap     *FlexInt  `json:"chunkOverlap,omitempty"`
	RespectSentences *FlexBool `json:"respectSentences,omitempty"`
}

type JSONOverrides struct {
	MaxChunkSize      *FlexInt  `json:"maxChunkSize,omitempty"`
	ChunkOverlap      *FlexInt  `json:"chunkOverlap,omitempty"`
	MaxDepth          *FlexInt  `json:"maxDepth,omitempty"`
	PreserveStructure *FlexBool `json:"preserveStructure,omitempty"`
}

type CSVOverrides struct {
	RowsPerChunk   *FlexInt  `json:"rowsPerChunk,omitempty"`
	IncludeHeaders *FlexBool `json:"includeHeaders,omitempty"`
}

type ExcelOverrides struct {
	RowsPerChunk     *FlexInt  `json:"rowsPerChunk,omitempty"`
	IncludeHeaders   *FlexBool `json:"includeHeaders,omitempty"`
	IncludeSheetName *FlexBool `json:"includeSheetName,omitempty"`
	Sheets           []string  `json:"sheets,omitempty"`
}

type PDFOverrides struct {
	ChunkSize          *FlexInt  `json:"chunkSize,omitempty"`
	ChunkOverlap       *FlexInt  `json:"chunkOverlap,omitempty"`
	PreserveParagraphs *FlexBool `json:"preserveParagraphs,omitempty"`
}

// ParseOverrides decodes caller JSON. Empty input yields nil overrides.
func ParseOverrides(raw []byte) (*Overrides, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var o Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parse chunking overrides: %w", err)
	}
	return &o, nil
}

// FlexInt decodes from a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("cannot use %s as an integer", string(b))
	}
	*f = FlexInt(int(v))
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(f))), nil
}

// FlexBool decodes from a JSON boolean or a boolean-like string ("true", "0", ...).
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	v, err := strconv.ParseBool(strings.Trim(s, `"`))
	if err != nil {
		return fmt.Errorf("cannot use %s as a boolean", string(b))
	}
	*f = FlexBool(v)
	return nil
}

func (f FlexBool) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatBool(bool(f))), nil
}

// Int and Bool build override pointers in code.
func Int(v int) *FlexInt    { f := FlexInt(v); return &f }
func Bool(v bool) *FlexBool { f := FlexBool(v); return &f }
