package automationctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List automations",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			Automations []struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Enabled bool   `json:"enabled"`
			} `json:"automations"`
		}
		if err := client().do("GET", "/api/automations/", nil, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if len(resp.Automations) == 0 {
			fmt.Println("No automations configured.")
			return
		}
		for _, a := range resp.Automations {
			status := "disabled"
			if a.Enabled {
				status = "enabled"
			}
			fmt.Printf("%s\t%s\t%s\n", a.ID, a.Name, status)
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get <automation-id>",
	Short: "Show the full definition of one automation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var rule map[string]any
		if err := client().do("GET", "/api/automations/"+args[0], nil, &rule); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		printJSON(rule)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
}
