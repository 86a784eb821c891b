// Package runner executes a notebook's code cells in order inside a fresh
// interpreter session and attaches the resulting outputs to the document.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"nbgrade/internal/config"
	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
)

// Session is the interpreter state for one run. Every code cell of a
// document is evaluated through the same session, in document order.
type Session interface {
	// Exec evaluates one cell. A raised exception is returned as *CellError
	// together with whatever output the cell produced before failing.
	Exec(ctx context.Context, index int, source string) ([]notebook.Output, error)
	Close() error
}

// Backend starts sessions.
type Backend interface {
	Name() string
	// Start launches a fresh session whose working directory is dir.
	Start(ctx context.Context, dir string) (Session, error)
}

// DocumentBackend executes a whole document in one step instead of cell by cell.
type DocumentBackend interface {
	Backend
	RunDocument(ctx context.Context, doc *notebook.Document, dir string) error
}

// Options configures a Runner.
type Options struct {
	Kernel        string
	Timeout       time.Duration
	CellTimeout   time.Duration
	PythonBinary  string
	JupyterBinary string
	KernelName    string
}

// OptionsFromConfig maps execution config onto runner options.
func OptionsFromConfig(cfg config.ExecutionConfig) Options {
	return Options{
		Kernel:        cfg.Kernel,
		Timeout:       cfg.GetTimeout(),
		CellTimeout:   cfg.GetCellTimeout(),
		PythonBinary:  cfg.PythonBinary,
		JupyterBinary: cfg.JupyterBinary,
		KernelName:    cfg.KernelName,
	}
}

// Runner executes notebooks.
type Runner struct {
	opts    Options
	backend Backend
}

// New creates a runner that picks its backend from opts.Kernel.
func New(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 600 * time.Second
	}
	if opts.Kernel == "" {
		opts.Kernel = config.KernelAuto
	}
	return &Runner{opts: opts}
}

// NewWithBackend creates a runner bound to a specific backend.
func NewWithBackend(b Backend, opts Options) *Runner {
	r := New(opts)
	r.backend = b
	return r
}

// BackendFor returns the backend that will execute doc, or nil when
// execution is disabled.
func (r *Runner) BackendFor(doc *notebook.Document) (Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}

	kernel := r.opts.Kernel
	if kernel == config.KernelAuto {
		if doc.Language() == "go" {
			kernel = config.KernelYaegi
		} else {
			kernel = config.KernelPython
		}
	}

	switch kernel {
	case config.KernelPython:
		return NewPythonBackend(r.opts.PythonBinary), nil
	case config.KernelYaegi:
		return NewYaegiBackend(), nil
	case config.KernelNbconvert:
		return NewNbconvertBackend(r.opts.JupyterBinary, r.opts.KernelName, r.opts.CellTimeout), nil
	case config.KernelNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown kernel backend %q", kernel)
	}
}

// Execute loads the notebook at path and runs it.
func (r *Runner) Execute(ctx context.Context, path string) (*notebook.Document, error) {
	doc, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}
	if err := r.ExecuteDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ExecuteDocument runs every code cell of doc in order and attaches outputs.
// It stops at the first failing cell.
func (r *Runner) ExecuteDocument(ctx context.Context, doc *notebook.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	backend, err := r.BackendFor(doc)
	if err != nil {
		return err
	}
	if backend == nil {
		logging.Runner("Execution disabled, skipping %d code cells", doc.CodeCellCount())
		return nil
	}

	dir := workDir(doc)
	timer := logging.StartTimer(logging.CategoryRunner, "Notebook execution")
	defer timer.Stop()
	logging.Runner("Executing %d code cells with %s backend (dir=%s, timeout=%s)",
		doc.CodeCellCount(), backend.Name(), dir, r.opts.Timeout)

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	doc.ClearOutputs()

	if db, ok := backend.(DocumentBackend); ok {
		err := db.RunDocument(runCtx, doc, dir)
		var te *TimeoutError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &te):
			if te.Limit == 0 {
				te.Limit = r.opts.Timeout
			}
		case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			return &TimeoutError{CellIndex: -1, Limit: r.opts.Timeout}
		}
		return err
	}

	session, err := backend.Start(runCtx, dir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logging.RunnerWarn("Closing %s session: %v", backend.Name(), cerr)
		}
	}()

	count := 0
	for i := range doc.Cells {
		cell := &doc.Cells[i]
		if !cell.IsCode() {
			continue
		}
		if err := r.execCell(ctx, runCtx, session, i, cell, &count); err != nil {
			return err
		}
	}

	logging.Runner("Executed %d code cells", count)
	return nil
}

func (r *Runner) execCell(ctx, runCtx context.Context, session Session, index int, cell *notebook.Cell, count *int) error {
	cellCtx := runCtx
	if r.opts.CellTimeout > 0 {
		var cancel context.CancelFunc
		cellCtx, cancel = context.WithTimeout(runCtx, r.opts.CellTimeout)
		defer cancel()
	}

	logging.RunnerDebug("Executing cell %d (%d bytes)", index, len(cell.Source))
	outputs, err := session.Exec(cellCtx, index, cell.Source)

	*count++
	n := *count
	cell.ExecutionCount = &n
	cell.Outputs = outputs

	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case runCtx.Err() == context.DeadlineExceeded:
		logging.RunnerWarn("Run timed out in cell %d after %s", index, r.opts.Timeout)
		return &TimeoutError{CellIndex: index, Limit: r.opts.Timeout}
	case cellCtx.Err() == context.DeadlineExceeded:
		logging.RunnerWarn("Cell %d timed out after %s", index, r.opts.CellTimeout)
		return &TimeoutError{CellIndex: index, Limit: r.opts.CellTimeout}
	}

	logging.RunnerWarn("Cell %d failed: %v", index, err)
	return &ExecutionError{CellIndex: index, Cause: err}
}

// workDir is the notebook's directory, so relative data paths resolve from it.
func workDir(doc *notebook.Document) string {
	if doc.Path == "" {
		return ""
	}
	dir, err := filepath.Abs(filepath.Dir(doc.Path))
	if err != nil {
		return filepath.Dir(doc.Path)
	}
	return dir
}

func errorOutput(ce *CellError) notebook.Output {
	return notebook.Output{
		OutputType: notebook.OutputError,
		EName:      ce.EName,
		EValue:     ce.EValue,
		Traceback:  ce.Traceback,
	}
}
