package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Validate a workflow definition",
	Long: `Validate a workflow definition file locally, without talking
to the API.

The validator checks:
  - Required fields (name, target_model, steps)
  - Step ordering and type-specific configuration
  - Condition operator syntax
  - Recipient and approver configuration

Examples:
  docflow validate workflow.json
  docflow validate approval-workflow.json --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]

		if _, err := os.Stat(filename); os.IsNotExist(err) {
			fmt.Printf("Error: File '%s' not found\n", filename)
			os.Exit(1)
		}

		result, err := cli.ValidateWorkflowFile(filename)
		if err != nil {
			fmt.Printf("Error validating workflow: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Printf("Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		} else {
			outputValidationText(result, filename)
		}

		if !result.Valid {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func outputValidationText(result *cli.ValidationResult, filename string) {
	fmt.Printf("\nValidating workflow: %s\n\n", filename)

	if result.Valid {
		fmt.Println("Workflow is valid.")
		fmt.Println("\nNext step:")
		fmt.Printf("  docflow deploy %s\n", filename)
	} else {
		fmt.Printf("Workflow validation failed with %d error(s):\n\n", len(result.Errors))
		for i, err := range result.Errors {
			fmt.Printf("  %d. %s\n", i+1, err)
		}
	}
}
