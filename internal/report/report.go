// Package report renders a grading outcome as a terminal report or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"nbgrade/internal/grader"
	"nbgrade/internal/logging"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options controls rendering.
type Options struct {
	Format string
	// Color enables styling. Output to a non-terminal is plain either way.
	Color bool
}

// Write renders out in the requested format.
func Write(w io.Writer, out *grader.Outcome, opts Options) error {
	logging.Get(logging.CategoryReport).Debug("Rendering %s report for run %s", opts.Format, out.RunID)
	switch opts.Format {
	case "", FormatText:
		return WriteText(w, out, opts.Color)
	case FormatJSON:
		return WriteJSON(w, out)
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

// FinalLine is the last line of every text report.
func FinalLine(score int) string {
	return fmt.Sprintf("Final Grade: %d/100", score)
}

type styles struct {
	pass   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
	header lipgloss.Style
	grade  lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		pass:   r.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true),
		fail:   r.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#6b7280")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		header: r.NewStyle().Bold(true),
		grade:  r.NewStyle().Bold(true),
	}
}

// WriteText renders the human-readable report.
func WriteText(w io.Writer, out *grader.Outcome, color bool) error {
	st := newStyles(w, color)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.header.Render("Notebook:"), out.Notebook)
	fmt.Fprintf(&b, "%s\n", st.muted.Render(fmt.Sprintf("run %s, backend %s", out.RunID, out.Backend)))

	switch {
	case out.Degraded():
		fmt.Fprintf(&b, "%s %v\n", st.warn.Render("Execution failed, grading source only:"), out.ExecutionError)
	case !out.Executed:
		fmt.Fprintf(&b, "%s\n", st.muted.Render("Execution skipped"))
	}
	b.WriteString("\n")

	if out.Result != nil {
		width := 0
		for _, c := range out.Result.Checks {
			if len(c.Name) > width {
				width = len(c.Name)
			}
		}
		for _, c := range out.Result.Checks {
			mark := st.pass.Render("PASS")
			detail := c.Description
			if !c.Passed {
				mark = st.fail.Render("FAIL")
				detail = c.Message
			}
			fmt.Fprintf(&b, "%s  %-*s  %s\n", mark, width, c.Name, detail)
		}
	}

	if len(out.Diagnostics) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.warn.Render("Syntax errors:"))
		for _, d := range out.Diagnostics {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	}

	passed, total := 0, 0
	if out.Result != nil {
		passed, total = out.Result.Passed, out.Result.Total
	}
	fmt.Fprintf(&b, "\n%s\n", st.muted.Render(fmt.Sprintf("%d/%d checks passed", passed, total)))
	fmt.Fprintf(&b, "%s\n", st.grade.Render(FinalLine(out.Score())))

	_, err := io.WriteString(w, b.String())
	return err
}

// JSONReport is the machine-readable report.
type JSONReport struct {
	RunID          string           `json:"run_id"`
	Notebook       string           `json:"notebook"`
	Backend        string           `json:"backend"`
	Executed       bool             `json:"executed"`
	Degraded       bool             `json:"degraded"`
	ExecutionError string           `json:"execution_error,omitempty"`
	Checks         []CheckJSON      `json:"checks"`
	Passed         int              `json:"passed"`
	Total          int              `json:"total"`
	Score          int              `json:"score"`
	Diagnostics    []DiagnosticJSON `json:"diagnostics,omitempty"`
	DurationMS     int64            `json:"duration_ms"`
}

// CheckJSON is one check in a JSONReport.
type CheckJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Corpus      string `json:"corpus"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
}

// DiagnosticJSON is one syntax diagnostic in a JSONReport.
type DiagnosticJSON struct {
	CellIndex int    `json:"cell_index"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Message   string `json:"message"`
}

// NewJSONReport flattens an outcome.
func NewJSONReport(out *grader.Outcome) JSONReport {
	rep := JSONReport{
		RunID:      out.RunID,
		Notebook:   out.Notebook,
		Backend:    out.Backend,
		Executed:   out.Executed,
		Degraded:   out.Degraded(),
		Checks:     []CheckJSON{},
		Score:      out.Score(),
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.ExecutionError != nil {
		rep.ExecutionError = out.ExecutionError.Error()
	}
	if out.Result != nil {
		rep.Passed = out.Result.Passed
		rep.Total = out.Result.Total
		for _, c := range out.Result.Checks {
			rep.Checks = append(rep.Checks, CheckJSON{
				Name:        c.Name,
				Description: c.Description,
				Corpus:      string(c.Corpus),
				Passed:      c.Passed,
				Message:     c.Message,
			})
		}
	}
	for _, d := range out.Diagnostics {
		rep.Diagnostics = append(rep.Diagnostics, DiagnosticJSON(d))
	}
	return rep
}

// WriteJSON renders the outcome as indented JSON.
func WriteJSON(w io.Writer, out *grader.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewJSONReport(out))
}
