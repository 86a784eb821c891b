package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
)

// YaegiBackend runs Go notebook cells in an in-process yaegi interpreter.
// The interpreter shares the grader's working directory.
type YaegiBackend struct{}

// NewYaegiBackend creates a yaegi backend.
func NewYaegiBackend() *YaegiBackend { return &YaegiBackend{} }

func (b *YaegiBackend) Name() string { return "yaegi" }

// Start creates a fresh interpreter with the standard library loaded.
func (b *YaegiBackend) Start(ctx context.Context, dir string) (Session, error) {
	s := &yaegiSession{}
	s.interp = interp.New(interp.Options{
		Stdout: &s.stdout,
		Stderr: &s.stderr,
	})
	if err := s.interp.Use(stdlib.Symbols); err != nil {
		return nil, &KernelError{Backend: b.Name(), Err: fmt.Errorf("failed to load stdlib: %w", err)}
	}
	logging.KernelDebug("Started yaegi interpreter")
	return s, nil
}

type yaegiSession struct {
	interp *interp.Interpreter
	stdout lockedBuffer
	stderr lockedBuffer
}

// Exec evaluates a cell. Declarations persist across cells.
func (s *yaegiSession) Exec(ctx context.Context, index int, source string) ([]notebook.Output, error) {
	_, err := s.interp.EvalWithContext(ctx, source)

	var outputs []notebook.Output
	if out := s.stdout.Take(); out != "" {
		outputs = append(outputs, notebook.Output{OutputType: notebook.OutputStream, Name: "stdout", Text: out})
	}
	if out := s.stderr.Take(); out != "" {
		outputs = append(outputs, notebook.Output{OutputType: notebook.OutputStream, Name: "stderr", Text: out})
	}

	if err == nil {
		return outputs, nil
	}
	if ctx.Err() != nil {
		return outputs, ctx.Err()
	}

	ce := yaegiCellError(err)
	outputs = append(outputs, errorOutput(ce))
	return outputs, ce
}

func (s *yaegiSession) Close() error { return nil }

func yaegiCellError(err error) *CellError {
	var p interp.Panic
	if errors.As(err, &p) {
		return &CellError{
			EName:     "panic",
			EValue:    fmt.Sprint(p.Value),
			Traceback: strings.Split(strings.TrimSpace(string(p.Stack)), "\n"),
		}
	}
	return &CellError{EName: "error", EValue: err.Error()}
}

// lockedBuffer collects interpreter output. An interrupted evaluation may
// still be writing when the cell returns.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Take returns and clears the buffered output.
func (b *lockedBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
