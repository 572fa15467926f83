package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"protocol-foundry/backend/pkg/models"
)

var createDetails []string

var createCmd = &cobra.Command{
	Use:   "create [request]",
	Short: "Start a protocol drafting workflow",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details := make(map[string]string, len(createDetails))
		for _, kv := range createDetails {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("detail %q is not key=value", kv)
			}
			details[key] = value
		}

		var resp struct {
			WorkflowID string `json:"workflow_id"`
			Intent     string `json:"intent"`
			Reply      string `json:"reply"`
		}
		body := map[string]any{"request": strings.Join(args, " "), "details": details}
		if err := newClient().do("POST", "/api/v1/protocols", body, &resp); err != nil {
			return err
		}
		if resp.WorkflowID == "" {
			fmt.Printf("classified as %s, no workflow created\n%s\n", resp.Intent, resp.Reply)
			return nil
		}
		fmt.Println(resp.WorkflowID)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [workflow-id]",
	Short: "Advance a workflow until it halts for input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap models.StateSnapshot
		if err := newClient().do("POST", "/api/v1/protocols/"+args[0]+"/run", nil, &snap); err != nil {
			return err
		}
		return summarize(snap.State)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show a workflow's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var state models.WorkflowState
		if err := newClient().do("GET", "/api/v1/protocols/"+args[0], nil, &state); err != nil {
			return err
		}
		return printJSON(state)
	},
}

var (
	approveFeedback string
	approveEditFile string
)

var approveCmd = &cobra.Command{
	Use:   "approve [workflow-id]",
	Short: "Sign off on a halted workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"feedback": approveFeedback}
		if approveEditFile != "" {
			edited, err := os.ReadFile(approveEditFile)
			if err != nil {
				return err
			}
			body["edited_document"] = string(edited)
		}

		var snap models.StateSnapshot
		if err := newClient().do("POST", "/api/v1/protocols/"+args[0]+"/approve", body, &snap); err != nil {
			return err
		}
		fmt.Println("approved")
		fmt.Println(snap.State.FinalArtifact)
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer [workflow-id] [key=value ...]",
	Short: "Answer a workflow's clarifying questions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers := make(map[string]string, len(args)-1)
		for _, kv := range args[1:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("answer %q is not key=value", kv)
			}
			answers[key] = value
		}

		var snap models.StateSnapshot
		body := map[string]any{"answers": answers}
		if err := newClient().do("POST", "/api/v1/protocols/"+args[0]+"/answers", body, &snap); err != nil {
			return err
		}
		return summarize(snap.State)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var states []models.WorkflowState
		if err := newClient().do("GET", "/api/v1/protocols", nil, &states); err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Println("no workflows")
			return nil
		}
		for _, state := range states {
			fmt.Printf("%s  iter=%d  %s  %s\n",
				state.WorkflowID, state.IterationCount, describe(state), truncate(state.OriginalRequest, 60))
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringArrayVarP(&createDetails, "detail", "d", nil, "Request detail as key=value (repeatable)")
	approveCmd.Flags().StringVarP(&approveFeedback, "feedback", "f", "", "Reviewer feedback")
	approveCmd.Flags().StringVar(&approveEditFile, "edited", "", "Path to a hand-edited final document")

	rootCmd.AddCommand(createCmd, runCmd, statusCmd, approveCmd, answerCmd, listCmd)
}

func summarize(state models.WorkflowState) error {
	fmt.Printf("workflow %s: %s\n", state.WorkflowID, describe(state))
	if len(state.Control.PendingQuestions) > 0 {
		fmt.Println("pending questions:")
		for _, q := range state.Control.PendingQuestions {
			fmt.Println("  - " + q)
		}
	}
	if state.SharedDocument != "" {
		fmt.Printf("document v%d:\n%s\n", state.DocumentVersion, state.SharedDocument)
	}
	return nil
}

func describe(state models.WorkflowState) string {
	switch {
	case state.Control.IsApprovedByHuman:
		return "approved"
	case state.Control.IsHalted:
		return "halted (" + string(state.Control.HaltReason) + ")"
	default:
		return "runnable"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
