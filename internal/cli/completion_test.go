package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestCompletionCommand_Registration(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "completion" {
			found = true
			break
		}
	}
	if !found {
		t.Error("completion command not registered on root")
	}
	if !rootCmd.CompletionOptions.DisableDefaultCmd {
		t.Error("expected Cobra default completion command to be disabled")
	}
}

func TestCompletionCommand_Scripts(t *testing.T) {
	tests := []struct {
		shell string
		want  string
	}{
		{"bash", "__start_akb"},
		{"zsh", "compdef"},
		{"fish", "complete -c akb"},
		{"powershell", "Register-ArgumentCompleter"},
	}
	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			out, err := runCmd(t, completionCmd, tt.shell)
			if err != nil {
				t.Fatalf("completion %s: %v", tt.shell, err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("%s script missing %q", tt.shell, tt.want)
			}
		})
	}
}

func TestCompletionCommand_UnsupportedShell(t *testing.T) {
	if _, err := runCmd(t, completionCmd, "nushell"); err == nil {
		t.Error("expected error for unsupported shell")
	}
}

func TestCompletionCommand_Install(t *testing.T) {
	tests := []struct {
		shell  string
		target []string
		want   string
	}{
		{"bash", []string{".local", "share", "bash-completion", "completions", "akb"}, "__start_akb"},
		{"zsh", []string{".local", "share", "zsh", "site-functions", "_akb"}, "compdef"},
		{"fish", []string{".config", "fish", "completions", "akb.fish"}, "complete"},
	}
	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("HOME", home)
			completionInstall = true
			defer func() { completionInstall = false }()

			out, err := runCmd(t, completionCmd, tt.shell)
			if err != nil {
				t.Fatalf("install %s: %v", tt.shell, err)
			}
			target := filepath.Join(append([]string{home}, tt.target...)...)
			if !strings.Contains(out, target) {
				t.Errorf("output %q does not name %s", out, target)
			}
			data, err := os.ReadFile(target)
			if err != nil {
				t.Fatalf("reading %s: %v", target, err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("installed script missing %q", tt.want)
			}
		})
	}
}

func TestCompletionCommand_InstallPowershellFails(t *testing.T) {
	completionInstall = true
	defer func() { completionInstall = false }()

	_, err := runCmd(t, completionCmd, "powershell")
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("err = %v, want not supported", err)
	}
}

func TestCompleteCardIDs(t *testing.T) {
	useStore(t)
	importBoard(t)

	got, dir := completeCardIDs(analyzeCmd, nil, "c")
	if dir != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("directive = %v", dir)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want c1 and c2", got)
	}
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "c1\tOrçamento [Qualificado]") {
		t.Errorf("missing stage description in %q", joined)
	}

	got, _ = completeCardIDs(analyzeCmd, nil, "c2")
	if len(got) != 1 || !strings.HasPrefix(got[0], "c2\t") {
		t.Errorf("prefix filter: got %v", got)
	}

	got, _ = completeCardIDs(analyzeCmd, []string{"c1"}, "")
	if len(got) != 0 {
		t.Errorf("second argument should not complete, got %v", got)
	}
}

func TestCompleteCardThen(t *testing.T) {
	useStore(t)
	importBoard(t)

	stages, _ := stageCmd.ValidArgsFunction(stageCmd, []string{"c1"}, "")
	if strings.Join(stages, ",") != "Ganho\tvenda,Qualificado\tvenda" {
		t.Errorf("stages = %q", stages)
	}

	cols, _ := moveCmd.ValidArgsFunction(moveCmd, []string{"c1"}, "col-d")
	if len(cols) != 1 || cols[0] != "col-done\tFinalizados" {
		t.Errorf("columns = %q", cols)
	}

	none, _ := moveCmd.ValidArgsFunction(moveCmd, []string{"missing"}, "")
	if len(none) != 0 {
		t.Errorf("unknown card completed %v", none)
	}
}

func TestCompletePipelineIDs(t *testing.T) {
	useStore(t)
	importBoard(t)

	got, _ := completePipelineIDs(statusCmd, nil, "")
	if len(got) != 1 || got[0] != "p1" {
		t.Errorf("pipelines = %v", got)
	}

	orig := Store
	Store = nil
	defer func() { Store = orig }()
	if got, _ := completePipelineIDs(statusCmd, nil, ""); got != nil {
		t.Errorf("nil store completed %v", got)
	}
}
