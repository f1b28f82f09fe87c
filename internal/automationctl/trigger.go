package automationctl

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var paramFlags []string

// parseParams turns repeated --param key=value flags into a map.
func parseParams(flags []string) (map[string]any, error) {
	params := map[string]any{}
	for _, p := range flags {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", p)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

// triggerCmd sends a manual-trigger request to the daemon, mirroring the
// retrieved pack's "trigger <action_id> --param k=v" daemon-control shape.
var triggerCmd = &cobra.Command{
	Use:   "trigger <automation-id>",
	Short: "Manually trigger an automation",
	Long: `Sends a request to the running engine to trigger the given automation id.
Parameters can be provided with one or more --param flags in key=value format.
Example: automationctl trigger notify-on-create --param itemId=abc123`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		automationID := args[0]

		params, err := parseParams(paramFlags)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

		var resp struct {
			ExecutionID string `json:"executionId"`
		}
		body := map[string]any{"parameters": params}
		if err := client().do("POST", "/api/automations/"+automationID+"/execute", body, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Triggered. executionId=%s\n", resp.ExecutionID)
	},
}

func init() {
	triggerCmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "Parameter for the automation in key=value format (repeatable)")
	rootCmd.AddCommand(triggerCmd)
}
