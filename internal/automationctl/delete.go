package automationctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <automation-id>",
	Short: "Delete an automation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := client().do("DELETE", "/api/automations/"+args[0], nil, nil); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Automation %s deleted.\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
