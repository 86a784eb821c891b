package grader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nbgrade/internal/config"
	"nbgrade/internal/notebook"
	"nbgrade/internal/rules"
	"nbgrade/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// raisingBackend fails any cell containing "raise" and blocks on any cell
// containing "sleep" until its context ends.
type raisingBackend struct{}

func (raisingBackend) Name() string { return "fake" }

func (raisingBackend) Start(ctx context.Context, dir string) (runner.Session, error) {
	return raisingSession{}, nil
}

type raisingSession struct{}

func (raisingSession) Exec(ctx context.Context, index int, source string) ([]notebook.Output, error) {
	if strings.Contains(source, "raise") {
		return nil, &runner.CellError{EName: "FileNotFoundError", EValue: "data missing"}
	}
	if strings.Contains(source, "sleep") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, nil
}

func (raisingSession) Close() error { return nil }

const climateCode = `import pandas as pd
import numpy as np
import matplotlib.pyplot as plt
import seaborn as sns
df = pd.read_csv('../data/Climate_Change_Indicators.csv')
yearly = df.groupby('Year').mean()
cols = ['Global Average Temperature (°C)', 'CO2 Concentration (ppm)', 'Sea Level Rise (mm)', 'Arctic Ice Area (million km²)']
df.describe()
plt.hist(df[cols[0]]); plt.show()
sns.scatterplot(data=df, x=cols[1], y=cols[0]); df.corr()
sns.pairplot(df[cols]); sns.heatmap(df[cols].corr())`

func writeNotebook(t *testing.T, cells ...notebook.Cell) string {
	t.Helper()
	data, err := notebook.New(cells...).Encode()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "analysis.ipynb")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newGrader(policy string, noExec bool) *Grader {
	return New(
		runner.NewWithBackend(raisingBackend{}, runner.Options{}),
		rules.NewEvaluator(rules.DefaultChecks()),
		Options{Policy: policy, NoExec: noExec},
	)
}

func TestGradeCompleteNotebook(t *testing.T) {
	path := writeNotebook(t,
		notebook.Markdown("# Climate"),
		notebook.Code(climateCode),
		notebook.Markdown("## Conclusion\nWarming is visible."),
	)

	out, err := newGrader(config.PolicyDegrade, false).Grade(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, out.Executed)
	assert.False(t, out.Degraded())
	assert.Equal(t, "fake", out.Backend)
	assert.Equal(t, 100, out.Score())
	assert.Equal(t, path, out.Notebook)

	_, err = uuid.Parse(out.RunID)
	assert.NoError(t, err)
}

func TestGradeDegradesOnExecutionFailure(t *testing.T) {
	path := writeNotebook(t,
		notebook.Code(climateCode+"\nraise"),
		notebook.Markdown("## Conclusion"),
	)

	out, err := newGrader(config.PolicyDegrade, false).Grade(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, out.Executed)
	assert.True(t, out.Degraded())
	var execErr *runner.ExecutionError
	require.True(t, errors.As(out.ExecutionError, &execErr))
	assert.Equal(t, 0, execErr.CellIndex)

	assert.Equal(t, 100, out.Score(), "textual checks still run on the source")
}

func TestGradeAbortsOnExecutionFailure(t *testing.T) {
	path := writeNotebook(t, notebook.Code("raise"))

	out, err := newGrader(config.PolicyAbort, false).Grade(context.Background(), path)
	assert.Nil(t, out)

	var execErr *runner.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	var cellErr *runner.CellError
	require.True(t, errors.As(err, &cellErr))
	assert.Equal(t, "FileNotFoundError", cellErr.EName)
}

func newTimeoutGrader(policy string) *Grader {
	return New(
		runner.NewWithBackend(raisingBackend{}, runner.Options{Timeout: 50 * time.Millisecond}),
		rules.NewEvaluator(rules.DefaultChecks()),
		Options{Policy: policy},
	)
}

func TestGradeDegradesOnTimeout(t *testing.T) {
	path := writeNotebook(t,
		notebook.Code(climateCode+"\ntime.sleep(600)"),
		notebook.Markdown("## Conclusion"),
	)

	out, err := newTimeoutGrader(config.PolicyDegrade).Grade(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, out.Degraded())
	var timeoutErr *runner.TimeoutError
	require.True(t, errors.As(out.ExecutionError, &timeoutErr), "got %v", out.ExecutionError)
	assert.Equal(t, 0, timeoutErr.CellIndex)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Limit)
	assert.Equal(t, 100, out.Score())
}

func TestGradeAbortsOnTimeout(t *testing.T) {
	path := writeNotebook(t, notebook.Code("time.sleep(600)"))

	out, err := newTimeoutGrader(config.PolicyAbort).Grade(context.Background(), path)
	assert.Nil(t, out)

	var timeoutErr *runner.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
}

func TestGradeNoExec(t *testing.T) {
	path := writeNotebook(t, notebook.Code("raise"))

	out, err := newGrader(config.PolicyAbort, true).Grade(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, out.Executed)
	assert.False(t, out.Degraded())
	assert.Equal(t, config.KernelNone, out.Backend)
	assert.Equal(t, 0, out.Score())
}

func TestGradeEmptyNotebook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(`{"cells":[],"metadata":{},"nbformat":4,"nbformat_minor":4}`), 0644))

	out, err := newGrader(config.PolicyAbort, false).Grade(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Equal(t, 0, out.Result.Passed)
	assert.Equal(t, 0, out.Score())
}

func TestGradeLoadErrors(t *testing.T) {
	g := newGrader(config.PolicyDegrade, false)

	_, err := g.Grade(context.Background(), filepath.Join(t.TempDir(), "missing.ipynb"))
	var loadErr *notebook.LoadError
	assert.True(t, errors.As(err, &loadErr))

	bad := filepath.Join(t.TempDir(), "bad.ipynb")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0644))
	_, err = g.Grade(context.Background(), bad)
	assert.True(t, errors.As(err, &loadErr))

	malformed := filepath.Join(t.TempDir(), "malformed.ipynb")
	require.NoError(t, os.WriteFile(malformed, []byte(`{"cells":[{"cell_type":"code"}]}`), 0644))
	_, err = g.Grade(context.Background(), malformed)
	var malformedErr *notebook.MalformedDocumentError
	assert.True(t, errors.As(err, &malformedErr))
}

func TestGradeRecordsSyntaxDiagnostics(t *testing.T) {
	path := writeNotebook(t,
		notebook.Code("import pandas"),
		notebook.Code("def broken(:\n    pass"),
	)

	out, err := newGrader(config.PolicyDegrade, true).Grade(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, 1, out.Diagnostics[0].CellIndex)
}

func TestGradeRunIDsAreUnique(t *testing.T) {
	path := writeNotebook(t, notebook.Code("x = 1"))
	g := newGrader(config.PolicyDegrade, true)

	first, err := g.Grade(context.Background(), path)
	require.NoError(t, err)
	second, err := g.Grade(context.Background(), path)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Result, second.Result)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Execution.Kernel = config.KernelNone

	g, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, g.Checks(), 9)

	path := writeNotebook(t, notebook.Code("import pandas\nimport numpy\nimport matplotlib\nimport seaborn"))
	out, err := g.Grade(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, out.Executed)
	assert.Equal(t, rules.Score(1, 9), out.Score())
}

func TestNewFromConfigBadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checks:\n  - name: a\n    corpus: code\n    kind: nope\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Checks.Path = path
	_, err := NewFromConfig(cfg)

	var regErr *rules.RegistryError
	assert.True(t, errors.As(err, &regErr))
}
