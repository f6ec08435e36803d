package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var completionInstall bool

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Generate or install shell completions for akb",
	Long: `Generate shell completions for akb commands, card IDs and pipelines.

Supported shells: bash, zsh, fish, powershell

  eval "$(akb completion bash)"
  akb completion zsh --install
  akb completion fish | source`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runCompletion,
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Install completions into your shell's user completion directory")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	shell := args[0]

	gen, err := completionGenerator(shell)
	if err != nil {
		return err
	}

	if !completionInstall {
		return gen(cmd.OutOrStdout())
	}
	if shell == "powershell" {
		return fmt.Errorf("automatic install is not supported for PowerShell; add the output of 'akb completion powershell' to your profile")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("detecting home directory: %w", err)
	}
	target := completionTarget(home, shell)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating completion directory: %w", err)
	}
	if err := writeCompletionFile(target, gen); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s completions installed to %s\n", shell, target)
	if shell == "zsh" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Ensure %s is in your fpath.\n", filepath.Dir(target))
	}
	return nil
}

func completionGenerator(shell string) (func(io.Writer) error, error) {
	switch shell {
	case "bash":
		return func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) }, nil
	case "zsh":
		return rootCmd.GenZshCompletion, nil
	case "fish":
		return func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) }, nil
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc, nil
	default:
		return nil, fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", shell)
	}
}

// completionTarget returns the user-local completion path for shell.
func completionTarget(home, shell string) string {
	switch shell {
	case "zsh":
		return filepath.Join(home, ".local", "share", "zsh", "site-functions", "_akb")
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", "akb.fish")
	default:
		return filepath.Join(home, ".local", "share", "bash-completion", "completions", "akb")
	}
}

// writeCompletionFile writes the generated script to target and reports
// close errors.
func writeCompletionFile(target string, gen func(io.Writer) error) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating completion file %s: %w", target, err)
	}

	writeErr := gen(f)
	closeErr := f.Close()

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}
	return nil
}
