package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nbgrade/internal/grader"
	"nbgrade/internal/rules"
)

// checksCmd lists the compiled check registry
var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List the checks a notebook is graded against",
	Long: `Compiles the check registry and lists each check in evaluation order.

Without --checks the registry path from the config file is used, falling back
to the built-in registry.`,
	Args: cobra.NoArgs,
	RunE: listChecks,
}

// checksDumpCmd prints the built-in registry as a starting point for custom ones
var checksDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the built-in check registry YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(rules.DefaultRegistryYAML())
		return err
	},
}

func listChecks(cmd *cobra.Command, args []string) error {
	path := checksPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Checks.Path
	}

	checks, err := grader.LoadChecks(path)
	if err != nil {
		return err
	}

	width := 0
	for _, c := range checks {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	out := cmd.OutOrStdout()
	for _, c := range checks {
		fmt.Fprintf(out, "%-*s  %-9s  %s\n", width, c.Name, c.Corpus, c.Description)
	}
	fmt.Fprintf(out, "\n%d checks\n", len(checks))
	return nil
}
