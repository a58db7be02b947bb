package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// BackendCompletion completes the --backend flag with configured backend names
func BackendCompletion(names func() []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, name := range names() {
			if strings.HasPrefix(strings.ToLower(name), strings.ToLower(toComplete)) {
				completions = append(completions, name)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}
