package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nbgrade/internal/proc"
)

// doctorCmd reports which kernel backends can run on this machine
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check which kernel backends are available",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

// probe is one backend availability check.
type probe struct {
	Backend string
	Binary  string
	Args    []string
}

// probeStatus is the result of a probe.
type probeStatus struct {
	Backend string
	OK      bool
	Detail  string
}

func doctorProbes(pythonBinary, jupyterBinary string) []probe {
	return []probe{
		{Backend: "python", Binary: pythonBinary, Args: []string{"--version"}},
		{Backend: "nbconvert", Binary: jupyterBinary, Args: []string{"nbconvert", "--version"}},
		{Backend: "libraries", Binary: pythonBinary, Args: []string{"-c", "import matplotlib, pandas, seaborn, numpy; print(matplotlib.__version__)"}},
	}
}

func runProbes(ctx context.Context, probes []probe) []probeStatus {
	executor := proc.NewDirectExecutor()
	statuses := make([]probeStatus, len(probes)+1)
	statuses[0] = probeStatus{Backend: "yaegi", OK: true, Detail: "built in"}

	// Probes report failures in their status, so the group never errors.
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			statuses[i+1] = runProbe(gctx, executor, p)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func runProbe(ctx context.Context, executor *proc.DirectExecutor, p probe) probeStatus {
	st := probeStatus{Backend: p.Backend}
	if _, err := proc.LookPath(p.Binary); err != nil {
		st.Detail = fmt.Sprintf("%s not found on PATH", p.Binary)
		return st
	}

	res, err := executor.Execute(ctx, proc.Command{Binary: p.Binary, Args: p.Args, Timeout: 30 * time.Second})
	switch {
	case err != nil:
		st.Detail = err.Error()
	case !res.OK():
		st.Detail = firstLine(res.Output())
		if st.Detail == "" {
			st.Detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
	default:
		st.OK = true
		st.Detail = firstLine(res.Output())
	}
	return st
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := cmd.OutOrStdout()
	for _, st := range runProbes(ctx, doctorProbes(cfg.Execution.PythonBinary, cfg.Execution.JupyterBinary)) {
		mark := "ok"
		if !st.OK {
			mark = "missing"
		}
		fmt.Fprintf(out, "%-10s  %-7s  %s\n", st.Backend, mark, st.Detail)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
