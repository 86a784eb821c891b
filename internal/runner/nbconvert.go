package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
	"nbgrade/internal/proc"
)

// NbconvertBackend executes the whole document with jupyter nbconvert.
type NbconvertBackend struct {
	binary      string
	kernelName  string
	cellTimeout time.Duration
	executor    *proc.DirectExecutor
}

// NewNbconvertBackend creates an nbconvert backend.
func NewNbconvertBackend(binary, kernelName string, cellTimeout time.Duration) *NbconvertBackend {
	if binary == "" {
		binary = "jupyter"
	}
	if kernelName == "" {
		kernelName = "python3"
	}
	return &NbconvertBackend{
		binary:      binary,
		kernelName:  kernelName,
		cellTimeout: cellTimeout,
		executor:    proc.NewDirectExecutor(),
	}
}

func (b *NbconvertBackend) Name() string { return "nbconvert" }

// Start is not supported; nbconvert runs documents, not cells.
func (b *NbconvertBackend) Start(ctx context.Context, dir string) (Session, error) {
	return nil, &KernelError{Backend: b.Name(), Err: fmt.Errorf("cell sessions are not supported")}
}

// Args returns the nbconvert arguments for the given input file.
func (b *NbconvertBackend) Args(input string) []string {
	timeout := -1
	if b.cellTimeout > 0 {
		timeout = int((b.cellTimeout + time.Second - 1) / time.Second)
	}
	return []string{
		"nbconvert",
		"--to", "notebook",
		"--execute",
		"--allow-errors",
		"--stdout",
		fmt.Sprintf("--ExecutePreprocessor.timeout=%d", timeout),
		"--ExecutePreprocessor.kernel_name=" + b.kernelName,
		input,
	}
}

// RunDocument executes doc and copies outputs back into its cells. The first
// cell carrying an error output becomes the ExecutionError.
func (b *NbconvertBackend) RunDocument(ctx context.Context, doc *notebook.Document, dir string) error {
	input, cleanup, err := b.inputFile(doc)
	if err != nil {
		return &KernelError{Backend: b.Name(), Err: err}
	}
	defer cleanup()

	deadline, hasDeadline := ctx.Deadline()
	timeout := time.Duration(0)
	if hasDeadline {
		timeout = time.Until(deadline)
	}

	result, err := b.executor.Execute(ctx, proc.Command{
		Binary:  b.binary,
		Args:    b.Args(input),
		Dir:     dir,
		Env:     []string{"MPLBACKEND=Agg"},
		Timeout: timeout,
	})
	if err != nil {
		return &KernelError{Backend: b.Name(), Err: err}
	}
	if result.Killed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The runner fills in its configured limit.
		return &TimeoutError{CellIndex: -1}
	}
	if result.ExitCode != 0 {
		if strings.Contains(result.Stderr, "CellTimeoutError") {
			return &TimeoutError{CellIndex: -1, Limit: b.cellTimeout}
		}
		return &KernelError{
			Backend: b.Name(),
			Err:     fmt.Errorf("exit status %d", result.ExitCode),
			Stderr:  result.Stderr,
		}
	}

	executed, err := notebook.Parse([]byte(result.Stdout))
	if err != nil {
		return &KernelError{Backend: b.Name(), Err: fmt.Errorf("parse executed notebook: %w", err)}
	}
	if len(executed.Cells) != len(doc.Cells) {
		return &KernelError{
			Backend: b.Name(),
			Err:     fmt.Errorf("executed notebook has %d cells, expected %d", len(executed.Cells), len(doc.Cells)),
		}
	}

	for i := range doc.Cells {
		if !doc.Cells[i].IsCode() {
			continue
		}
		doc.Cells[i].Outputs = executed.Cells[i].Outputs
		doc.Cells[i].ExecutionCount = executed.Cells[i].ExecutionCount
	}
	logging.Runner("nbconvert executed %d code cells in %s", doc.CodeCellCount(), result.Duration)

	for i, c := range doc.Cells {
		if out, ok := c.ErrorOutput(); ok {
			return &ExecutionError{
				CellIndex: i,
				Cause:     &CellError{EName: out.EName, EValue: out.EValue, Traceback: out.Traceback},
			}
		}
	}
	return nil
}

// inputFile uses the document's own file when it has one. In-memory
// documents are written to a temporary file.
func (b *NbconvertBackend) inputFile(doc *notebook.Document) (string, func(), error) {
	if doc.Path != "" {
		abs, err := filepath.Abs(doc.Path)
		if err != nil {
			return "", nil, err
		}
		return abs, func() {}, nil
	}

	data, err := doc.Encode()
	if err != nil {
		return "", nil, err
	}
	tmpDir, err := os.MkdirTemp("", "nbgrade-")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(tmpDir, "notebook.ipynb")
	if err := os.WriteFile(path, data, 0644); err != nil {
		os.RemoveAll(tmpDir)
		return "", nil, err
	}
	return path, func() { os.RemoveAll(tmpDir) }, nil
}
