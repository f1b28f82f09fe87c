package automationctl

import (
	"encoding/json"
	"fmt"
	"os"
)

// printJSON pretty-prints v to stdout, falling back to a plain Printf if it
// somehow isn't marshalable (v here is always a freshly-decoded map/slice).
func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Fprintln(os.Stdout, string(out))
}
