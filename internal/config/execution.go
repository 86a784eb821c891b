package config

import (
	"fmt"
	"time"
)

// Kernel backends.
const (
	KernelAuto      = "auto"
	KernelPython    = "python"
	KernelYaegi     = "yaegi"
	KernelNbconvert = "nbconvert"
	KernelNone      = "none"
)

// Execution failure policies.
const (
	// PolicyDegrade grades the un-executed source when execution fails.
	PolicyDegrade = "degrade"
	// PolicyAbort fails the run with no score.
	PolicyAbort = "abort"
)

// ValidKernels lists all supported kernel backends.
var ValidKernels = []string{KernelAuto, KernelPython, KernelYaegi, KernelNbconvert, KernelNone}

// ExecutionConfig configures the notebook runner.
type ExecutionConfig struct {
	// Kernel backend: auto, python, yaegi, nbconvert, none
	Kernel string `yaml:"kernel"`

	// Timeout for the whole run
	Timeout string `yaml:"timeout"`

	// Optional per-cell timeout; empty disables it
	CellTimeout string `yaml:"cell_timeout"`

	// What to do when a cell fails or the run times out: degrade, abort
	OnFailure string `yaml:"on_failure"`

	// Interpreter binaries
	PythonBinary  string `yaml:"python_binary"`
	JupyterBinary string `yaml:"jupyter_binary"`

	// Jupyter kernel name for the nbconvert backend
	KernelName string `yaml:"kernel_name"`
}

// GetTimeout returns the run timeout as a duration.
func (e ExecutionConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		return 600 * time.Second
	}
	return d
}

// GetCellTimeout returns the per-cell timeout, or zero when disabled.
func (e ExecutionConfig) GetCellTimeout() time.Duration {
	if e.CellTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(e.CellTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate checks kernel, policy and durations.
func (e ExecutionConfig) Validate() error {
	validKernel := false
	for _, k := range ValidKernels {
		if e.Kernel == k {
			validKernel = true
			break
		}
	}
	if !validKernel {
		return fmt.Errorf("invalid kernel: %s (valid: %v)", e.Kernel, ValidKernels)
	}

	if e.OnFailure != PolicyDegrade && e.OnFailure != PolicyAbort {
		return fmt.Errorf("invalid on_failure policy: %s (valid: %s, %s)", e.OnFailure, PolicyDegrade, PolicyAbort)
	}

	if _, err := time.ParseDuration(e.Timeout); err != nil {
		return fmt.Errorf("invalid execution timeout %q: %w", e.Timeout, err)
	}
	if e.CellTimeout != "" {
		if _, err := time.ParseDuration(e.CellTimeout); err != nil {
			return fmt.Errorf("invalid cell timeout %q: %w", e.CellTimeout, err)
		}
	}
	return nil
}
