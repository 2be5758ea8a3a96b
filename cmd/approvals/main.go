// Package main implements the approvals CLI for managing approval requests.
// This tool allows operators to list, approve, deny, and monitor approval requests
// that require human-in-the-loop authorization. Unlike a service-backed client, it
// reads and rewrites the engine's on-disk approvals.json directly — a live engine
// process notices the edit and reconciles its own in-memory state accordingly.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loki-mode/policyengine/internal/approval"
	"github.com/loki-mode/policyengine/internal/logutil"
)

func main() {
	args := logutil.Init(os.Args[1:])

	projectDir := os.Getenv("LOKI_PROJECT_DIR")

	fs := flag.NewFlagSet("approvals", flag.ExitOnError)
	fs.StringVar(&projectDir, "project-dir", projectDir, "project directory (or set LOKI_PROJECT_DIR)")
	outputJSON := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: approvals [options] <command> [arguments]

Commands:
  pending                          List pending approval requests
  audit                            List resolved approval requests
  show <approval_id>               Show details of a pending approval
  approve <approval_id> --reason "..."   Approve a request
  deny <approval_id> --reason "..."      Deny a request
  cancel <approval_id> [--reason "..."]  Cancel a pending request
  verify                           Verify the audit trail's hash chain
  watch                            Watch for new approval requests (interactive)

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment Variables:
  LOKI_PROJECT_DIR   project directory containing .loki/state/approvals.json

Examples:
  approvals pending
  approvals approve apr-abc123 --reason "Verified by ops team"
  approvals deny apr-abc123 --reason "Request not justified"
  approvals watch
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: resolving project directory:", err)
			os.Exit(1)
		}
		projectDir = wd
	}

	remainingArgs := fs.Args()
	if len(remainingArgs) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	command := remainingArgs[0]
	cmdArgs := remainingArgs[1:]

	var err error
	switch command {
	case "pending":
		err = cmdPending(projectDir, *outputJSON)
	case "audit":
		err = cmdAudit(projectDir, *outputJSON)
	case "show":
		err = cmdShow(projectDir, cmdArgs, *outputJSON)
	case "approve":
		err = cmdApprove(projectDir, cmdArgs)
	case "deny":
		err = cmdDeny(projectDir, cmdArgs)
	case "cancel":
		err = cmdCancel(projectDir, cmdArgs)
	case "verify":
		err = cmdVerify(projectDir)
	case "watch":
		err = cmdWatch(projectDir)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		fs.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdPending(projectDir string, outputJSON bool) error {
	pending := approval.ListPending(projectDir)

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pending)
	}

	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHASE\tGATE\tREQUESTED\tAGE")
	for _, r := range pending {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Phase, r.GateName, r.CreatedAt.Format("15:04:05"), formatDuration(time.Since(r.CreatedAt)))
	}
	return w.Flush()
}

func cmdAudit(projectDir string, outputJSON bool) error {
	records := approval.ListAudit(projectDir)

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No resolved approvals.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHASE\tGATE\tRESOLUTION\tRESOLVED\tREASON")
	for _, r := range records {
		resolution := ""
		if r.Resolution != nil {
			resolution = string(*r.Resolution)
		}
		resolvedAt := ""
		if r.ResolvedAt != nil {
			resolvedAt = r.ResolvedAt.Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
			r.ID, r.Phase, r.GateName, resolutionIcon(resolution), resolution, resolvedAt, r.Reason)
	}
	return w.Flush()
}

func cmdShow(projectDir string, args []string, outputJSON bool) error {
	if len(args) == 0 {
		return fmt.Errorf("approval ID required")
	}
	id := args[0]

	req, ok := approval.FindPending(projectDir, id)
	if !ok {
		return fmt.Errorf("no pending approval with id %q", id)
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	}

	fmt.Printf("Approval ID:    %s\n", req.ID)
	fmt.Printf("Phase:          %s\n", req.Phase)
	fmt.Printf("Gate:           %s\n", req.GateName)
	fmt.Printf("Requested At:   %s\n", req.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Age:            %s\n", formatDuration(time.Since(req.CreatedAt)))
	if len(req.Context) > 0 {
		fmt.Println("Context:")
		for k, v := range req.Context {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	return nil
}

func cmdApprove(projectDir string, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	reason := fs.String("reason", "", "Reason for approval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("approval ID required")
	}

	req, err := approval.ResolveOnDisk(projectDir, fs.Args()[0], true, operatorReason(*reason))
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	fmt.Printf("Approved: %s\n", req.ID)
	return nil
}

func cmdDeny(projectDir string, args []string) error {
	fs := flag.NewFlagSet("deny", flag.ExitOnError)
	reason := fs.String("reason", "", "Reason for denial (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("approval ID required")
	}
	if *reason == "" {
		return fmt.Errorf("--reason is required when denying")
	}

	req, err := approval.ResolveOnDisk(projectDir, fs.Args()[0], false, operatorReason(*reason))
	if err != nil {
		return fmt.Errorf("deny: %w", err)
	}

	fmt.Printf("Denied: %s\n", req.ID)
	return nil
}

func cmdCancel(projectDir string, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	reason := fs.String("reason", "Cancelled via CLI", "Reason for cancellation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("approval ID required")
	}

	req, err := approval.CancelOnDisk(projectDir, fs.Args()[0], *reason)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	fmt.Printf("Cancelled: %s\n", req.ID)
	return nil
}

func cmdVerify(projectDir string) error {
	idx := approval.VerifyAuditChainOnDisk(projectDir)
	if idx == -1 {
		fmt.Println("Audit chain intact.")
		return nil
	}
	return fmt.Errorf("audit chain broken at entry %d", idx)
}

func cmdWatch(projectDir string) error {
	fmt.Println("Watching for pending approvals... (press Ctrl+C to exit)")
	fmt.Println("Enter approval ID to approve, or !<ID> to deny")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	seen := make(map[string]bool)
	showPending(projectDir, seen)

	inputCh := make(chan string)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(inputCh)
				return
			}
			inputCh <- strings.TrimSpace(line)
		}
	}()

	for {
		select {
		case <-ticker.C:
			showPending(projectDir, seen)
		case input, ok := <-inputCh:
			if !ok {
				return nil
			}
			if input == "" {
				continue
			}
			if strings.HasPrefix(input, "!") {
				id := strings.TrimPrefix(input, "!")
				fmt.Print("Reason for denial: ")
				reason, _ := reader.ReadString('\n')
				reason = strings.TrimSpace(reason)
				if reason == "" {
					fmt.Println("Denial requires a reason")
					continue
				}
				if _, err := approval.ResolveOnDisk(projectDir, id, false, operatorReason(reason)); err != nil {
					fmt.Printf("Error: %v\n", err)
					continue
				}
				fmt.Printf("Denied: %s\n", id)
			} else {
				fmt.Print("Reason for approval (optional): ")
				reason, _ := reader.ReadString('\n')
				reason = strings.TrimSpace(reason)
				if _, err := approval.ResolveOnDisk(projectDir, input, true, operatorReason(reason)); err != nil {
					fmt.Printf("Error: %v\n", err)
					continue
				}
				fmt.Printf("Approved: %s\n", input)
			}
		}
	}
}

func showPending(projectDir string, seen map[string]bool) {
	pending := approval.ListPending(projectDir)
	for _, r := range pending {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		fmt.Println()
		fmt.Printf("NEW APPROVAL REQUEST: %s\n", r.ID)
		fmt.Printf("  Phase:     %s\n", r.Phase)
		fmt.Printf("  Gate:      %s\n", r.GateName)
		fmt.Printf("  Requested: %s\n", r.CreatedAt.Format("15:04:05"))
		fmt.Printf("  > Enter '%s' to approve, '!%s' to deny\n", r.ID, r.ID)
	}
}

func operatorReason(reason string) string {
	who := os.Getenv("USER")
	if who == "" {
		who = "operator"
	}
	if reason == "" {
		return fmt.Sprintf("via approvals CLI (%s)", who)
	}
	return fmt.Sprintf("%s (via approvals CLI, %s)", reason, who)
}

// Helper functions

func resolutionIcon(resolution string) string {
	switch resolution {
	case "ALLOW":
		return "[+]"
	case "DENY":
		return "[-]"
	case "TIMEOUT":
		return "[!]"
	default:
		return "[.]"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
