package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/cli"
	"github.com/docflowhq/docflow/internal/models"
)

var (
	triggerModel    string
	triggerEntityID string
	triggerEvent    string
	triggerFile     string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Publish an entity event",
	Long: `Publish an entity lifecycle event to the API, triggering any
matching workflows synchronously.

The event can be given inline with flags or as a JSON file carrying the
full event context (snapshot, previous values, transition metadata).

Examples:
  docflow trigger --model document --id 42 --event created
  docflow trigger --file event.json`,
	Run: func(cmd *cobra.Command, args []string) {
		var ec models.EventContext

		if triggerFile != "" {
			data, err := os.ReadFile(triggerFile)
			if err != nil {
				fmt.Printf("Error reading event file: %v\n", err)
				os.Exit(1)
			}
			if err := json.Unmarshal(data, &ec); err != nil {
				fmt.Printf("Error parsing event file: %v\n", err)
				os.Exit(1)
			}
		} else {
			ec = models.EventContext{
				EntityType: triggerModel,
				EntityID:   triggerEntityID,
				EventName:  triggerEvent,
			}
		}

		if ec.EntityType == "" || ec.EntityID == "" || ec.EventName == "" {
			fmt.Println("Error: --model, --id and --event are required (or provide --file)")
			os.Exit(1)
		}

		url, token := apiConfig()
		client := cli.NewClient(url, token)

		if err := client.CreateEvent(&ec); err != nil {
			fmt.Printf("Error publishing event: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Event %q published for %s/%s\n", ec.EventName, ec.EntityType, ec.EntityID)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerModel, "model", "", "Target model type")
	triggerCmd.Flags().StringVar(&triggerEntityID, "id", "", "Target entity ID")
	triggerCmd.Flags().StringVar(&triggerEvent, "event", "", "Event name")
	triggerCmd.Flags().StringVar(&triggerFile, "file", "", "JSON file with the full event context")
	rootCmd.AddCommand(triggerCmd)
}
