package runner

import (
	"fmt"
	"strings"
	"time"
)

// CellError is an exception raised by the code in a cell.
type CellError struct {
	EName     string
	EValue    string
	Traceback []string
}

func (e *CellError) Error() string {
	if e.EValue == "" {
		return e.EName
	}
	return fmt.Sprintf("%s: %s", e.EName, e.EValue)
}

// ExecutionError reports a code cell that failed to run.
// CellIndex is the position in the document's full cell list.
type ExecutionError struct {
	CellIndex int
	Cause     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cell %d failed: %v", e.CellIndex, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// TimeoutError reports a run or cell that exceeded its time limit.
// CellIndex is -1 when the backend cannot attribute the timeout to a cell.
type TimeoutError struct {
	CellIndex int
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	if e.CellIndex < 0 {
		return fmt.Sprintf("execution timed out after %s", e.Limit)
	}
	return fmt.Sprintf("execution timed out after %s in cell %d", e.Limit, e.CellIndex)
}

// KernelError reports a backend that could not start or died mid-run.
type KernelError struct {
	Backend string
	Err     error
	Stderr  string
}

func (e *KernelError) Error() string {
	msg := fmt.Sprintf("%s kernel: %v", e.Backend, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *KernelError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
