package automationctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <automation-id>",
	Short: "Enable an automation",
	Args:  cobra.ExactArgs(1),
	Run:   toggleRun(true),
}

var disableCmd = &cobra.Command{
	Use:   "disable <automation-id>",
	Short: "Disable an automation",
	Args:  cobra.ExactArgs(1),
	Run:   toggleRun(false),
}

func toggleRun(enable bool) func(cmd *cobra.Command, args []string) {
	action := "disable"
	if enable {
		action = "enable"
	}
	return func(cmd *cobra.Command, args []string) {
		var resp map[string]any
		if err := client().do("POST", "/api/automations/"+args[0]+"/"+action, nil, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Automation %s %sd.\n", args[0], action)
	}
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}
