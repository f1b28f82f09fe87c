package automationctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <automation-id>",
	Short: "Dry-run an automation against a mock item.created trigger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]any{
			"trigger": map[string]any{
				"type": "item.created",
				"item": map[string]any{"id": "mock-item"},
			},
		}
		var outline map[string]any
		if err := client().do("POST", "/api/automations/"+args[0]+"/test", body, &outline); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		printJSON(outline)
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
