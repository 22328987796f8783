// Package cmd provides command-line commands for working with detection
// rules outside the running service.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/core"
	"argus/detect"
	"argus/rules"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var (
	outputJSON bool
	noColor    bool
)

// NewRulesCmd creates the 'rules' command tree.
func NewRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and inspect detection rules",
		Long: `Validate and inspect detection rule files.

Rule files are JSON or YAML documents checked against the built-in schema
and the per-type semantic constraints before the service will load them.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rulesCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rulesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rulesCmd.AddCommand(newValidateCmd())
	rulesCmd.AddCommand(newShowCmd())

	return rulesCmd
}

func newLoader() (*detect.Loader, error) {
	return detect.NewLoader(rules.SchemaJSON, zap.NewNop().Sugar())
}

// newValidateCmd creates the 'validate' subcommand
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rule file",
		Long:  "Check a JSON or YAML rule file against the schema and semantic constraints.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := newLoader()
			if err != nil {
				return err
			}

			loaded, err := loader.LoadFile(args[0])
			if err != nil {
				errorColor.Fprintf(os.Stderr, "✗ %s is invalid\n", args[0])
				fmt.Fprintf(os.Stderr, "  %v\n", err)
				return fmt.Errorf("validation failed")
			}

			successColor.Printf("✓ %s is valid (%d rules)\n", args[0], len(loaded))
			for _, r := range loaded {
				marker := " "
				if !r.Enabled {
					marker = warningColor.Sprint("-")
				}
				fmt.Printf("  %s %s [%s/%s] %s\n", marker, r.ID, r.RuleType, r.Severity, r.Name)
			}
			return nil
		},
	}
}

// newShowCmd creates the 'show' subcommand
func newShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the rule set",
		Long:  "Display the built-in rule set, or the rules in a file given with --file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := newLoader()
			if err != nil {
				return err
			}

			var loaded []core.Rule
			if file != "" {
				loaded, err = loader.LoadFile(file)
			} else {
				loaded, err = loader.LoadJSON(rules.DefaultRulesJSON)
			}
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(loaded)
			}

			headerColor.Printf("%-28s %-12s %-9s %-8s %s\n", "ID", "TYPE", "SEVERITY", "ENABLED", "NAME")
			for _, r := range loaded {
				enabled := "yes"
				if !r.Enabled {
					enabled = warningColor.Sprint("no")
				}
				fmt.Printf("%-28s %-12s %-9s %-8s %s\n", r.ID, r.RuleType, r.Severity, enabled, r.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Rule file to show instead of the built-in set")
	return cmd
}
