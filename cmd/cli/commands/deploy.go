package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/cli"
	"github.com/docflowhq/docflow/internal/models"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [workflow-file]",
	Short: "Deploy a workflow definition to the API",
	Long: `Validate a workflow definition file and create it through the
API. New workflows are created inactive; enable them once reviewed.

Examples:
  docflow deploy workflow.json
  docflow deploy workflow.json --api-url http://docflow.internal:8080`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]

		result, err := cli.ValidateWorkflowFile(filename)
		if err != nil {
			fmt.Printf("Error validating workflow: %v\n", err)
			os.Exit(1)
		}
		if !result.Valid {
			fmt.Println("Workflow is invalid; run 'docflow validate' for details")
			os.Exit(1)
		}

		data, err := os.ReadFile(filename)
		if err != nil {
			fmt.Printf("Error reading file: %v\n", err)
			os.Exit(1)
		}

		var req models.CreateWorkflowRequest
		if err := json.Unmarshal(data, &req); err != nil {
			fmt.Printf("Error parsing file: %v\n", err)
			os.Exit(1)
		}

		url, token := apiConfig()
		client := cli.NewClient(url, token)

		workflow, err := client.CreateWorkflow(&req)
		if err != nil {
			fmt.Printf("Error deploying workflow: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			out, _ := json.MarshalIndent(workflow, "", "  ")
			fmt.Println(string(out))
			return
		}

		fmt.Printf("Workflow %q deployed with ID %s (inactive)\n", workflow.Name, workflow.ID)
		fmt.Println("Enable it with the API once reviewed.")
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
}
