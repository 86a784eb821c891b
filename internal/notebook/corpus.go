package notebook

import "strings"

// Corpus selects which text a check reads.
type Corpus string

const (
	CorpusCode      Corpus = "code"
	CorpusNarrative Corpus = "narrative"
)

// Corpora are the newline-joined sources of each cell variant, in document order.
type Corpora struct {
	Code      string
	Narrative string
}

// Text returns the corpus for the given selector. Unknown selectors yield "".
func (c Corpora) Text(sel Corpus) string {
	switch sel {
	case CorpusCode:
		return c.Code
	case CorpusNarrative:
		return c.Narrative
	default:
		return ""
	}
}

// Validate checks that every cell carries a type and a source.
func (d *Document) Validate() error {
	for i, c := range d.Cells {
		if c.Type == "" {
			return &MalformedDocumentError{Index: i, Field: "cell_type"}
		}
		if !c.hasSource {
			return &MalformedDocumentError{Index: i, Field: "source"}
		}
	}
	return nil
}

// Partition splits cells into code and narrative lists, preserving order.
// Raw and unknown cell types belong to neither list.
func (d *Document) Partition() (code, narrative []Cell) {
	for _, c := range d.Cells {
		switch {
		case c.IsCode():
			code = append(code, c)
		case c.IsNarrative():
			narrative = append(narrative, c)
		}
	}
	return code, narrative
}

// Corpora validates the document and builds both corpora.
func (d *Document) Corpora() (Corpora, error) {
	if err := d.Validate(); err != nil {
		return Corpora{}, err
	}
	code, narrative := d.Partition()
	return Corpora{
		Code:      join(code),
		Narrative: join(narrative),
	}, nil
}

func join(cells []Cell) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = c.Source
	}
	return strings.Join(parts, "\n")
}
