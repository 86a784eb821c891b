// Package grader runs the grading pipeline for one notebook: load, execute
// according to the failure policy, diagnose syntax, and evaluate the checks.
package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nbgrade/internal/config"
	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
	"nbgrade/internal/rules"
	"nbgrade/internal/runner"
	"nbgrade/internal/syntax"
)

// Outcome is the result of grading one notebook.
type Outcome struct {
	RunID    string
	Notebook string
	Backend  string

	// Executed is true when every code cell ran without error.
	Executed bool
	// ExecutionError is set when execution failed and the policy degraded.
	ExecutionError error

	Diagnostics []syntax.Diagnostic
	Result      *rules.Result

	StartedAt time.Time
	Duration  time.Duration
}

// Degraded reports whether checks ran against un-executed source after a failure.
func (o *Outcome) Degraded() bool {
	return o.ExecutionError != nil
}

// Score returns the final grade.
func (o *Outcome) Score() int {
	if o.Result == nil {
		return 0
	}
	return o.Result.Score
}

// Options configures a Grader.
type Options struct {
	// Policy is config.PolicyDegrade or config.PolicyAbort.
	Policy string
	// NoExec skips execution entirely.
	NoExec bool
}

// Grader grades notebooks against a fixed check list.
type Grader struct {
	runner    *runner.Runner
	evaluator *rules.Evaluator
	opts      Options
}

// New creates a grader.
func New(r *runner.Runner, ev *rules.Evaluator, opts Options) *Grader {
	if opts.Policy == "" {
		opts.Policy = config.PolicyDegrade
	}
	return &Grader{runner: r, evaluator: ev, opts: opts}
}

// NewFromConfig builds the runner and check registry described by cfg.
func NewFromConfig(cfg *config.Config) (*Grader, error) {
	checks, err := LoadChecks(cfg.Checks.Path)
	if err != nil {
		return nil, err
	}
	return New(
		runner.New(runner.OptionsFromConfig(cfg.Execution)),
		rules.NewEvaluator(checks),
		Options{
			Policy: cfg.Execution.OnFailure,
			NoExec: cfg.Execution.Kernel == config.KernelNone,
		},
	), nil
}

// LoadChecks compiles the registry at path, or the embedded default when path is empty.
func LoadChecks(path string) ([]rules.Check, error) {
	reg := rules.DefaultRegistry()
	if path != "" {
		var err error
		if reg, err = rules.LoadRegistry(path); err != nil {
			return nil, err
		}
	}
	return reg.Compile()
}

// Checks returns the grader's checks in evaluation order.
func (g *Grader) Checks() []rules.Check {
	return g.evaluator.Checks()
}

// Grade runs the full pipeline on the notebook at path. Load and shape errors
// are always returned. Execution errors are returned only under the abort
// policy; otherwise they are recorded on the Outcome.
func (g *Grader) Grade(ctx context.Context, path string) (*Outcome, error) {
	out := &Outcome{
		RunID:     uuid.NewString(),
		Notebook:  path,
		Backend:   config.KernelNone,
		StartedAt: time.Now(),
	}
	log := logging.WithRunID(logging.CategoryRunner, out.RunID)
	log.Info("Grading %s (policy=%s)", path, g.opts.Policy)

	doc, err := notebook.Load(path)
	if err != nil {
		log.Error("Load failed: %v", err)
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		log.Error("Malformed notebook: %v", err)
		return nil, err
	}

	diags, err := syntax.Check(ctx, doc)
	if err != nil {
		log.Warn("Syntax check failed: %v", err)
	}
	out.Diagnostics = diags

	if !g.opts.NoExec {
		if err := g.execute(ctx, doc, out); err != nil {
			return nil, err
		}
	}

	result, err := g.evaluator.Evaluate(doc)
	if err != nil {
		return nil, err
	}
	out.Result = result
	out.Duration = time.Since(out.StartedAt)

	log.Info("Graded %s: %d/%d checks, score %d (executed=%v, %s)",
		path, result.Passed, result.Total, result.Score, out.Executed, out.Duration)
	return out, nil
}

func (g *Grader) execute(ctx context.Context, doc *notebook.Document, out *Outcome) error {
	backend, err := g.runner.BackendFor(doc)
	if err != nil {
		return err
	}
	if backend == nil {
		return nil
	}
	out.Backend = backend.Name()

	err = g.runner.ExecuteDocument(ctx, doc)
	if err == nil {
		out.Executed = true
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var malformed *notebook.MalformedDocumentError
	if errors.As(err, &malformed) || g.opts.Policy == config.PolicyAbort {
		logging.Get(logging.CategoryRunner).Error("Execution failed, aborting: %v", err)
		return fmt.Errorf("execute %s: %w", doc.Path, err)
	}

	logging.RunnerWarn("Execution failed, grading un-executed source: %v", err)
	out.ExecutionError = err
	return nil
}
