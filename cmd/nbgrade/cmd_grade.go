package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbgrade/internal/config"
	"nbgrade/internal/grader"
	"nbgrade/internal/report"
	"nbgrade/internal/watch"
)

// Grade flags. Zero values defer to the config file.
var (
	checksPath  string
	kernelFlag  string
	timeoutFlag time.Duration
	onFailure   string
	formatFlag  string
	noExec      bool
	watchMode   bool
	noColor     bool
)

// gradeCmd grades a single notebook
var gradeCmd = &cobra.Command{
	Use:   "grade <notebook.ipynb>",
	Short: "Execute a notebook and grade it against the check registry",
	Long: `Loads the notebook, executes every code cell in order, then evaluates the
check registry against the code and markdown text.

If execution fails, the default "degrade" policy still grades the source text
and reports the failure. With --on-failure=abort no grade is produced.

Examples:
  nbgrade grade analysis.ipynb
  nbgrade grade analysis.ipynb --kernel nbconvert --timeout 10m
  nbgrade grade analysis.ipynb --no-exec --format json
  nbgrade grade analysis.ipynb --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runGrade,
}

func addGradeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&checksPath, "checks", "", "Check registry YAML (default: built-in)")
	cmd.Flags().StringVar(&kernelFlag, "kernel", "", "Kernel backend: auto, python, yaegi, nbconvert, none")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Execution timeout (default 10m)")
	cmd.Flags().StringVar(&onFailure, "on-failure", "", "Execution failure policy: degrade, abort")
	cmd.Flags().StringVar(&formatFlag, "format", "", "Report format: text, json")
	cmd.Flags().BoolVar(&noExec, "no-exec", false, "Skip execution and grade the source only")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "Re-grade whenever the notebook is saved")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// applyGradeFlags layers command-line overrides onto cfg.
func applyGradeFlags(cfg *config.Config) error {
	if checksPath != "" {
		cfg.Checks.Path = checksPath
	}
	if kernelFlag != "" {
		cfg.Execution.Kernel = kernelFlag
	}
	if noExec {
		cfg.Execution.Kernel = config.KernelNone
	}
	if timeoutFlag > 0 {
		cfg.Execution.Timeout = timeoutFlag.String()
	}
	if onFailure != "" {
		cfg.Execution.OnFailure = onFailure
	}
	if formatFlag != "" {
		cfg.Report.Format = formatFlag
	}
	if noColor {
		cfg.Report.Color = false
	}
	return cfg.Validate()
}

// runGrade grades one notebook, or keeps re-grading it in watch mode.
func runGrade(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyGradeFlags(cfg); err != nil {
		return err
	}

	g, err := grader.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	opts := report.Options{Format: cfg.Report.Format, Color: cfg.Report.Color}

	if !watchMode {
		return gradeOnce(ctx, g, path, out, opts)
	}

	if err := gradeOnce(ctx, g, path, out, opts); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	w, err := watch.New(path, cfg.Watch.GetDebounce(), func(ctx context.Context) {
		fmt.Fprintln(out)
		if err := gradeOnce(ctx, g, path, out, opts); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for changes (Ctrl+C to stop)\n", path)
	return w.Run(ctx)
}

// gradeOnce runs one grading pass and writes the report.
func gradeOnce(ctx context.Context, g *grader.Grader, path string, w io.Writer, opts report.Options) error {
	outcome, err := g.Grade(ctx, path)
	if err != nil {
		logger.Error("Grading failed", zap.String("notebook", path), zap.Error(err))
		return err
	}
	logger.Info("Graded notebook",
		zap.String("notebook", path),
		zap.String("run_id", outcome.RunID),
		zap.Int("score", outcome.Score()),
		zap.Bool("executed", outcome.Executed),
	)
	return report.Write(w, outcome, opts)
}
