// Command check is the CLI contract between the policy engine and the
// surrounding agent runtime: it reads one enforcement point and one JSON
// context object, evaluates the decision, and maps it to a process exit
// code the runtime can branch on without linking against the engine
// itself. Its contract is fixed by spec.md §6 and must not drift.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loki-mode/policyengine/internal/logutil"
	"github.com/loki-mode/policyengine/internal/policy"
)

func main() {
	args := logutil.Init(os.Args[1:])
	os.Exit(runCheck(args))
}

func runCheck(args []string) int {
	exitCode := 1

	cmd := &cobra.Command{
		Use:                "check <enforcement_point> <context_json>",
		Short:              "Evaluate a policy decision for one enforcement point",
		SilenceErrors:      true,
		SilenceUsage:       true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			if len(cliArgs) < 2 {
				fmt.Fprintln(os.Stderr, "usage: check <enforcement_point> <context_json>")
				return fmt.Errorf("missing arguments")
			}

			var ctx map[string]any
			if err := json.Unmarshal([]byte(cliArgs[1]), &ctx); err != nil {
				return fmt.Errorf("parsing context_json: %w", err)
			}

			projectDir, err := resolveProjectDir()
			if err != nil {
				return err
			}

			engine := policy.NewEngine(projectDir)
			defer engine.Destroy()

			record := engine.Evaluate(policy.EnforcementPoint(cliArgs[0]), ctx)

			enc := json.NewEncoder(os.Stdout)
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("encoding decision record: %w", err)
			}

			switch record.Decision {
			case policy.Allow:
				exitCode = 0
			case policy.RequireApproval:
				exitCode = 2
			default:
				exitCode = 1
			}
			return nil
		},
	}
	cmd.SetOut(os.Stderr)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return exitCode
}

func resolveProjectDir() (string, error) {
	if dir := os.Getenv("LOKI_PROJECT_DIR"); dir != "" {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving project directory: %w", err)
	}
	return wd, nil
}
