package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/cli"
)

var executionsWorkflowID string

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect workflow executions",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow executions",
	Long: `List workflow executions, newest first.

Examples:
  docflow executions list
  docflow executions list --workflow <workflow-id>`,
	Run: func(cmd *cobra.Command, args []string) {
		url, token := apiConfig()
		client := cli.NewClient(url, token)

		executions, err := client.GetExecutions(executionsWorkflowID)
		if err != nil {
			fmt.Printf("Error listing executions: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			out, _ := json.MarshalIndent(executions, "", "  ")
			fmt.Println(string(out))
			return
		}

		if len(executions) == 0 {
			fmt.Println("No executions found")
			return
		}

		fmt.Printf("%-36s  %-12s  %-20s  %s\n", "ID", "STATUS", "TARGET", "TRIGGER")
		for _, e := range executions {
			target := fmt.Sprintf("%s/%s", e.TargetModel, e.TargetID)
			fmt.Printf("%-36s  %-12s  %-20s  %s\n", e.ID, e.Status, target, e.TriggerEvent)
		}
	},
}

var executionsGetCmd = &cobra.Command{
	Use:   "get [execution-id]",
	Short: "Show one execution with its step progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url, token := apiConfig()
		client := cli.NewClient(url, token)

		progress, err := client.GetExecution(args[0])
		if err != nil {
			fmt.Printf("Error getting execution: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			out, _ := json.MarshalIndent(progress, "", "  ")
			fmt.Println(string(out))
			return
		}

		fmt.Printf("Execution %s\n", progress.ID)
		fmt.Printf("  Workflow: %s\n", progress.WorkflowID)
		fmt.Printf("  Status:   %s\n", progress.Status)
		fmt.Printf("  Step:     %d of %d\n", progress.CurrentStepOrder, progress.TotalSteps)
		if len(progress.Steps) > 0 {
			fmt.Println("  Steps:")
			for _, s := range progress.Steps {
				fmt.Printf("    %2d. %-12s %s\n", s.StepOrder, s.StepType, s.Status)
			}
		}
	},
}

var executionsCancelCmd = &cobra.Command{
	Use:   "cancel [execution-id]",
	Short: "Cancel a live execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		url, token := apiConfig()
		client := cli.NewClient(url, token)

		if err := client.CancelExecution(args[0], reason); err != nil {
			fmt.Printf("Error cancelling execution: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Execution cancelled")
	},
}

func init() {
	executionsListCmd.Flags().StringVar(&executionsWorkflowID, "workflow", "", "Filter by workflow ID")
	executionsCancelCmd.Flags().String("reason", "", "Cancellation reason")

	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsGetCmd)
	executionsCmd.AddCommand(executionsCancelCmd)
	rootCmd.AddCommand(executionsCmd)
}
