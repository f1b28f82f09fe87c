package automationctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// reloadCmd re-installs an automation's trigger watcher without touching its
// stored definition, for recovering a stuck poller.
var reloadCmd = &cobra.Command{
	Use:   "reload <automation-id>",
	Short: "Re-install an automation's trigger watcher",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := client().do("POST", "/api/automations/"+args[0]+"/reload", nil, nil); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Automation %s reloaded.\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
