package commands

import (
	"strings"

	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command for shell completions
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate a shell completion script. Record names complete from the
configured schemas.

  $ source <(fabrique completion bash)
  $ fabrique completion zsh > "${fpath[1]}/_fabrique"
  $ fabrique completion fish | source
  PS> fabrique completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// completeRecords completes record names of the loaded schemas. Schema
// errors yield no suggestions rather than noise in the shell.
func completeRecords(g *Globals, limit int) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if limit > 0 && len(args) >= limit {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		cfg, err := g.Config()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		registry, err := g.Registry(cfg, nil)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var names []string
		for _, name := range registry.List() {
			if strings.HasPrefix(name, toComplete) {
				names = append(names, name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}
