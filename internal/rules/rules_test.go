package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgrade/internal/notebook"
)

const completeCode = `import pandas as pd
import numpy as np
import matplotlib.pyplot as plt
import seaborn as sns

df = pd.read_csv('../data/Climate_Change_Indicators.csv')
yearly = df.groupby('Year').mean()
cols = ['Global Average Temperature (°C)', 'CO2 Concentration (ppm)',
        'Sea Level Rise (mm)', 'Arctic Ice Area (million km²)']
print(df.describe())
plt.hist(df[cols[0]])
plt.show()
sns.scatterplot(data=df, x=cols[1], y=cols[0])
print(df.corr())
sns.pairplot(df[cols])
sns.heatmap(df[cols].corr())`

func completeDocument() *notebook.Document {
	parts := strings.Split(completeCode, "\n\n")
	cells := make([]notebook.Cell, 0, len(parts)+2)
	cells = append(cells, notebook.Markdown("# Climate indicators"))
	for _, p := range parts {
		cells = append(cells, notebook.Code(p))
	}
	cells = append(cells, notebook.Markdown("## Conclusions\nTemperature tracks CO2."))
	return notebook.New(cells...)
}

func TestDefaultRegistryCompiles(t *testing.T) {
	checks := DefaultChecks()
	require.Len(t, checks, 9)

	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"required-libraries",
		"data-loading",
		"yearly-aggregation",
		"univariate-analysis",
		"bivariate-analysis",
		"multivariate-analysis",
		"conclusions-present",
		"min-visualization-count",
		"climate-variables-analyzed",
	}, names)
}

func TestEvaluateCompleteNotebook(t *testing.T) {
	ev := NewEvaluator(DefaultChecks())
	res, err := ev.Evaluate(completeDocument())
	require.NoError(t, err)

	for _, c := range res.Checks {
		assert.Truef(t, c.Passed, "check %s failed: %s", c.Name, c.Message)
		assert.Empty(t, c.Message)
	}
	assert.Equal(t, 9, res.Passed)
	assert.Equal(t, 9, res.Total)
	assert.Equal(t, 100, res.Score)
}

func TestEvaluateMissingImport(t *testing.T) {
	doc := completeDocument()
	for i, c := range doc.Cells {
		doc.Cells[i].Source = strings.ReplaceAll(c.Source, "import seaborn as sns", "")
	}

	res, err := NewEvaluator(DefaultChecks()).Evaluate(doc)
	require.NoError(t, err)

	libs, ok := res.Get("required-libraries")
	require.True(t, ok)
	assert.False(t, libs.Passed)
	assert.Equal(t, "Missing required import: import seaborn", libs.Message)

	assert.Equal(t, 8, res.Passed)
	assert.Equal(t, 89, res.Score)
	assert.Len(t, res.Failed(), 1)
}

func TestEvaluateEightCheckRegistry(t *testing.T) {
	reg := DefaultRegistry()
	reg.Checks = reg.Checks[:8]
	checks, err := reg.Compile()
	require.NoError(t, err)

	doc := completeDocument()
	for i, c := range doc.Cells {
		doc.Cells[i].Source = strings.ReplaceAll(c.Source, "import seaborn as sns", "")
	}

	res, err := NewEvaluator(checks).Evaluate(doc)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Passed)
	assert.Equal(t, 8, res.Total)
	assert.Equal(t, 88, res.Score)
}

func TestEvaluateEmptyNotebook(t *testing.T) {
	res, err := NewEvaluator(DefaultChecks()).Evaluate(notebook.New())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Passed)
	assert.Equal(t, 9, res.Total)
	assert.Equal(t, 0, res.Score)

	for _, c := range res.Checks {
		assert.NotEmptyf(t, c.Message, "check %s should explain its failure", c.Name)
	}
}

func TestEvaluateMalformedNotebook(t *testing.T) {
	doc, err := notebook.Parse([]byte(`{"cells":[{"cell_type":"code"}]}`))
	require.NoError(t, err)

	_, err = NewEvaluator(DefaultChecks()).Evaluate(doc)
	var malformed *notebook.MalformedDocumentError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 0, malformed.Index)
}

func TestVisualizationCountBoundary(t *testing.T) {
	var check Check
	for _, c := range DefaultChecks() {
		if c.Name == "min-visualization-count" {
			check = c
		}
	}
	require.NotNil(t, check.Predicate)

	five := strings.Repeat("plt.plot(x)\n", 3) + "sns.lineplot(x)\ndf.temp.plot(kind='line')\n"
	passed, _ := check.Run(notebook.Corpora{Code: five})
	assert.True(t, passed)

	four := strings.Repeat("plt.plot(x)\n", 4)
	passed, msg := check.Run(notebook.Corpora{Code: four})
	assert.False(t, passed)
	assert.Equal(t, "Insufficient number of visualizations (minimum 5 required)", msg)
}

func TestUnicodeIdentifiersMatchWordClass(t *testing.T) {
	var check Check
	for _, c := range DefaultChecks() {
		if c.Name == "min-visualization-count" {
			check = c
		}
	}
	require.NotNil(t, check.Predicate)

	code := "plt.étiquette(x)\nplt.título(x)\nsns.графік(x)\ndf.données.plot()\nplt.plot(x)\n"
	passed, msg := check.Run(notebook.Corpora{Code: code})
	assert.True(t, passed, msg)
}

func TestUnicodeWords(t *testing.T) {
	tests := map[string]string{
		`plt\.\w+\(`:     `plt\.[\p{L}\p{N}_]+\(`,
		`[\w.]+`:         `[\p{L}\p{N}_.]+`,
		`\W`:             `[^\p{L}\p{N}_]`,
		`[\W]`:           `[\W]`,
		`\\w`:            `\\w`,
		`[]\w]`:          `[]\p{L}\p{N}_]`,
		`[^]\w]\w`:       `[^]\p{L}\p{N}_][\p{L}\p{N}_]`,
		`groupby\(\s*\)`: `groupby\(\s*\)`,
	}
	for in, want := range tests {
		assert.Equal(t, want, unicodeWords(in), in)
	}
}

func TestNarrativeChecksIgnoreCode(t *testing.T) {
	// "Conclusion" inside a code comment does not count as narrative.
	doc := notebook.New(notebook.Code("# Conclusion: done"))
	res, err := NewEvaluator(DefaultChecks()).Evaluate(doc)
	require.NoError(t, err)

	c, ok := res.Get("conclusions-present")
	require.True(t, ok)
	assert.False(t, c.Passed)
}

func TestRegexGroupsReportFirstMissingGroup(t *testing.T) {
	var check Check
	for _, c := range DefaultChecks() {
		if c.Name == "univariate-analysis" {
			check = c
		}
	}

	passed, msg := check.Run(notebook.Corpora{Code: "plt.hist(x)"})
	assert.False(t, passed)
	assert.Equal(t, "No evidence of descriptive statistics calculation", msg)

	passed, msg = check.Run(notebook.Corpora{Code: "x.describe()"})
	assert.False(t, passed)
	assert.Equal(t, "No evidence of univariate visualizations", msg)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	ev := NewEvaluator(DefaultChecks())
	doc := completeDocument()

	first, err := ev.Evaluate(doc)
	require.NoError(t, err)
	second, err := ev.Evaluate(doc)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated evaluation differs (-first +second):\n%s", diff)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		passed, total, want int
	}{
		{0, 0, 0},
		{0, 9, 0},
		{9, 9, 100},
		{8, 9, 89},
		{7, 8, 88},
		{1, 8, 12},
		{3, 8, 38},
		{1, 3, 33},
		{2, 3, 67},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, Score(tt.passed, tt.total), "Score(%d, %d)", tt.passed, tt.total)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := map[string]string{
		"unknown kind": `
checks:
  - name: a
    corpus: code
    kind: fuzzy
`,
		"unknown corpus": `
checks:
  - name: a
    corpus: outputs
    kind: regex-any
    patterns: ['x']
`,
		"bad regex": `
checks:
  - name: a
    corpus: code
    kind: regex-any
    patterns: ['(']
`,
		"duplicate name": `
checks:
  - name: a
    corpus: code
    kind: regex-any
    patterns: ['x']
  - name: a
    corpus: code
    kind: regex-any
    patterns: ['y']
`,
		"empty items": `
checks:
  - name: a
    corpus: code
    kind: literal-all
`,
		"zero min": `
checks:
  - name: a
    corpus: code
    kind: regex-count
    patterns: ['x']
`,
		"empty groups": `
checks:
  - name: a
    corpus: code
    kind: regex-groups
`,
	}

	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			reg, err := ParseRegistry([]byte(src))
			require.NoError(t, err)

			_, err = reg.Compile()
			var regErr *RegistryError
			require.True(t, errors.As(err, &regErr), "got %v", err)
			assert.Equal(t, "a", regErr.Check)
		})
	}
}

func TestParseRegistryInvalidYAML(t *testing.T) {
	_, err := ParseRegistry([]byte("checks: [unclosed"))
	var regErr *RegistryError
	assert.True(t, errors.As(err, &regErr))
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
checks:
  - name: has-plot
    corpus: code
    kind: regex-any
    patterns: ['plot\(']
    message: no plot
`), 0644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	checks, err := reg.Compile()
	require.NoError(t, err)
	require.Len(t, checks, 1)

	res := NewEvaluator(checks).EvaluateCorpora(notebook.Corpora{Code: "ax.plot(x)"})
	assert.Equal(t, 100, res.Score)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultRegistryYAMLMatchesEmbedded(t *testing.T) {
	reg, err := ParseRegistry(DefaultRegistryYAML())
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistry(), reg)
}
