// Package notebook models an nbformat 4 document as an ordered list of cells
// and derives the two text corpora (code and narrative) that grading inspects.
package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CellType is the nbformat cell_type tag.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// OutputType is the nbformat output_type tag.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputExecuteResult OutputType = "execute_result"
	OutputDisplayData   OutputType = "display_data"
	OutputError         OutputType = "error"
)

// Output is a single execution output attached to a code cell.
type Output struct {
	OutputType OutputType `json:"output_type"`

	// stream outputs
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// execute_result / display_data
	Data map[string]any `json:"data,omitempty"`

	// error outputs
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// IsError reports whether the output records a raised exception.
func (o Output) IsError() bool {
	return o.OutputType == OutputError
}

// Cell is one notebook cell. Only code cells carry outputs.
type Cell struct {
	Type           CellType
	Source         string
	Outputs        []Output
	ExecutionCount *int

	// hasSource distinguishes an empty source from a missing one.
	hasSource bool
}

// Code creates a code cell.
func Code(src string) Cell {
	return Cell{Type: CellCode, Source: src, hasSource: true}
}

// Markdown creates a narrative cell.
func Markdown(src string) Cell {
	return Cell{Type: CellMarkdown, Source: src, hasSource: true}
}

// IsCode reports whether the cell is executable.
func (c Cell) IsCode() bool { return c.Type == CellCode }

// IsNarrative reports whether the cell is markdown text.
func (c Cell) IsNarrative() bool { return c.Type == CellMarkdown }

// ErrorOutput returns the first error output, if any.
func (c Cell) ErrorOutput() (Output, bool) {
	for _, o := range c.Outputs {
		if o.IsError() {
			return o, true
		}
	}
	return Output{}, false
}

// Metadata holds the subset of notebook metadata the grader uses.
type Metadata struct {
	KernelName     string
	KernelLanguage string
	Language       string
}

// Document is an ordered sequence of cells read from a notebook file.
type Document struct {
	Path          string
	NBFormat      int
	NBFormatMinor int
	Metadata      Metadata
	Cells         []Cell
}

// New builds an in-memory document from cells.
func New(cells ...Cell) *Document {
	return &Document{NBFormat: 4, Cells: cells}
}

// Language returns the lowercased kernel language, preferring language_info.
func (d *Document) Language() string {
	if d.Metadata.Language != "" {
		return strings.ToLower(d.Metadata.Language)
	}
	return strings.ToLower(d.Metadata.KernelLanguage)
}

// CodeCellCount returns how many cells are executable.
func (d *Document) CodeCellCount() int {
	n := 0
	for _, c := range d.Cells {
		if c.IsCode() {
			n++
		}
	}
	return n
}

// ClearOutputs drops outputs and execution counts from every cell.
func (d *Document) ClearOutputs() {
	for i := range d.Cells {
		d.Cells[i].Outputs = nil
		d.Cells[i].ExecutionCount = nil
	}
}

// multiline decodes the nbformat "string or list of strings" encoding.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*m = multiline(strings.Join(parts, ""))
	return nil
}
