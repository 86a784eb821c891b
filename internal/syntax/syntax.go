// Package syntax reports Python syntax errors in notebook code cells using
// Tree-sitter. Diagnostics are informational and never affect grading.
package syntax

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
)

// Diagnostic locates the first syntax error in a code cell.
// Line and Column are 1-based within the cell source.
type Diagnostic struct {
	CellIndex int    `json:"cell_index"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Message   string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("cell %d, line %d:%d: %s", d.CellIndex, d.Line, d.Column, d.Message)
}

// Supports reports whether documents in language can be checked.
// Notebooks without a declared language are assumed to be Python.
func Supports(language string) bool {
	return language == "" || language == "python"
}

// Check parses each code cell of doc. Non-Python documents yield nothing.
func Check(ctx context.Context, doc *notebook.Document) ([]Diagnostic, error) {
	if !Supports(doc.Language()) {
		logging.EvaluatorDebug("Skipping syntax check for %s notebook", doc.Language())
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	var diags []Diagnostic
	for i, cell := range doc.Cells {
		if !cell.IsCode() {
			continue
		}
		d, ok, err := checkCell(ctx, parser, cell.Source)
		if err != nil {
			return diags, fmt.Errorf("parse cell %d: %w", i, err)
		}
		if ok {
			d.CellIndex = i
			diags = append(diags, d)
		}
	}
	logging.EvaluatorDebug("Syntax check found %d diagnostics", len(diags))
	return diags, nil
}

func checkCell(ctx context.Context, parser *sitter.Parser, source string) (Diagnostic, bool, error) {
	tree, err := parser.ParseCtx(ctx, nil, []byte(maskMagics(source)))
	if err != nil {
		return Diagnostic{}, false, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return Diagnostic{}, false, nil
	}

	node := firstNode(root, func(n *sitter.Node) bool { return n.IsMissing() })
	message := "syntax error"
	if node != nil {
		message = fmt.Sprintf("syntax error: expected %s", expectedKind(node.Type()))
	} else {
		node = firstNode(root, func(n *sitter.Node) bool { return n.Type() == "ERROR" })
	}
	if node == nil {
		node = root
	}

	start := node.StartPoint()
	return Diagnostic{
		Line:    int(start.Row) + 1,
		Column:  int(start.Column) + 1,
		Message: message,
	}, true, nil
}

// maskMagics comments out IPython magic and shell lines so they do not
// register as syntax errors. Line and column positions are preserved.
func maskMagics(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "%") || strings.HasPrefix(line, "!") {
			lines[i] = "#" + line[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// firstNode returns the earliest node in source order matching pred.
func firstNode(root *sitter.Node, pred func(*sitter.Node) bool) *sitter.Node {
	var best *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || n.IsNull() {
			return
		}
		if pred(n) && (best == nil || n.StartByte() < best.StartByte()) {
			best = n
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return best
}

func expectedKind(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "token"
	}
	if strings.IndexFunc(kind, func(r rune) bool {
		return r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	}) < 0 {
		return fmt.Sprintf("%q", kind)
	}
	return kind
}
