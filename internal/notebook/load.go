package notebook

import (
	"encoding/json"
	"errors"
	"os"
)

type rawDocument struct {
	Cells         *[]rawCell  `json:"cells"`
	Metadata      rawMetadata `json:"metadata"`
	NBFormat      int         `json:"nbformat"`
	NBFormatMinor int         `json:"nbformat_minor"`
}

type rawMetadata struct {
	KernelSpec struct {
		Name     string `json:"name"`
		Language string `json:"language"`
	} `json:"kernelspec"`
	LanguageInfo struct {
		Name string `json:"name"`
	} `json:"language_info"`
}

type rawCell struct {
	CellType       CellType    `json:"cell_type"`
	Source         *multiline  `json:"source"`
	Outputs        []rawOutput `json:"outputs,omitempty"`
	ExecutionCount *int        `json:"execution_count,omitempty"`
}

type rawOutput struct {
	OutputType OutputType     `json:"output_type"`
	Name       string         `json:"name,omitempty"`
	Text       multiline      `json:"text,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	EName      string         `json:"ename,omitempty"`
	EValue     string         `json:"evalue,omitempty"`
	Traceback  []string       `json:"traceback,omitempty"`
}

// Load reads and decodes a notebook file.
// Cell shape is not checked here; see Document.Validate.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	doc, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// Parse decodes nbformat JSON. A document with an empty cells array is valid.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Err: err}
	}
	if raw.Cells == nil {
		return nil, &LoadError{Err: errors.New("document has no cells array")}
	}

	doc := &Document{
		NBFormat:      raw.NBFormat,
		NBFormatMinor: raw.NBFormatMinor,
		Metadata: Metadata{
			KernelName:     raw.Metadata.KernelSpec.Name,
			KernelLanguage: raw.Metadata.KernelSpec.Language,
			Language:       raw.Metadata.LanguageInfo.Name,
		},
		Cells: make([]Cell, 0, len(*raw.Cells)),
	}

	for _, rc := range *raw.Cells {
		cell := Cell{
			Type:           rc.CellType,
			ExecutionCount: rc.ExecutionCount,
		}
		if rc.Source != nil {
			cell.Source = string(*rc.Source)
			cell.hasSource = true
		}
		for _, ro := range rc.Outputs {
			cell.Outputs = append(cell.Outputs, Output{
				OutputType: ro.OutputType,
				Name:       ro.Name,
				Text:       string(ro.Text),
				Data:       ro.Data,
				EName:      ro.EName,
				EValue:     ro.EValue,
				Traceback:  ro.Traceback,
			})
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

// Encode renders the document back to nbformat 4 JSON. Sources are written as
// single strings and unknown metadata is not preserved.
func (d *Document) Encode() ([]byte, error) {
	type encCell struct {
		CellType       CellType       `json:"cell_type"`
		Metadata       map[string]any `json:"metadata"`
		Source         string         `json:"source"`
		Outputs        *[]Output      `json:"outputs,omitempty"`
		ExecutionCount any            `json:"execution_count,omitempty"`
	}
	type encDoc struct {
		Cells         []encCell      `json:"cells"`
		Metadata      map[string]any `json:"metadata"`
		NBFormat      int            `json:"nbformat"`
		NBFormatMinor int            `json:"nbformat_minor"`
	}

	out := encDoc{
		Cells:         make([]encCell, 0, len(d.Cells)),
		Metadata:      map[string]any{},
		NBFormat:      4,
		NBFormatMinor: 4,
	}
	if d.Metadata.KernelName != "" {
		out.Metadata["kernelspec"] = map[string]any{
			"name":         d.Metadata.KernelName,
			"language":     d.Metadata.KernelLanguage,
			"display_name": d.Metadata.KernelName,
		}
	}
	if d.Metadata.Language != "" {
		out.Metadata["language_info"] = map[string]any{"name": d.Metadata.Language}
	}

	for _, c := range d.Cells {
		ec := encCell{CellType: c.Type, Metadata: map[string]any{}, Source: c.Source}
		if c.IsCode() {
			outputs := c.Outputs
			if outputs == nil {
				outputs = []Output{}
			}
			ec.Outputs = &outputs
			ec.ExecutionCount = c.ExecutionCount
		}
		out.Cells = append(out.Cells, ec)
	}
	return json.MarshalIndent(out, "", " ")
}
