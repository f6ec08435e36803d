package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/storage"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

const boardYAML = `
pipelines:
  - pipeline_id: p1
    columns:
      - id: col-new
        name: Novos
      - id: col-progress
        name: Em andamento
      - id: col-done
        name: Finalizados
    funnels:
      - funnel_type: venda
        display_name: Vendas
        is_monetary: true
        stages:
          - stage_name: Qualificado
            progress_percent: 20
            is_initial: true
          - stage_name: Ganho
            progress_percent: 100
            is_terminal: true
            resolution_status: won
    move_rules:
      - name: hot lead
        enabled: true
        priority: 1
        conditions:
          operator: AND
          criteria:
            - field: funnel_score
              operator: ">"
              value: 80
        action:
          type: move_forward
          target: 1
cards:
  - id: c1
    pipeline_id: p1
    column_id: col-new
    title: Orçamento
    customer_id: cust-1
    funnel_type: venda
    lifecycle_stage: Qualificado
    lifecycle_progress_percent: 20
  - id: c2
    pipeline_id: p1
    column_id: col-done
    title: Contrato
customers:
  - id: cust-1
    name: Acme
`

// runCmd executes cmd's RunE with output captured.
func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// useStore points the package Store at a fresh SQLite database.
func useStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "akb.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	orig := Store
	Store = store
	t.Cleanup(func() {
		Store = orig
		_ = store.Close()
	})
	return store
}

// importBoard loads boardYAML into the current Store.
func importBoard(t *testing.T) {
	t.Helper()
	if _, err := runCmd(t, boardImportCmd, writeFile(t, "board.yaml", boardYAML)); err != nil {
		t.Fatalf("board import: %v", err)
	}
}

type fakeEngine struct {
	applied  []core.ApplyRequest
	analyzed []core.AnalyzeRequest
	stages   map[string]string
	err      error
}

func (e *fakeEngine) Apply(_ context.Context, req core.ApplyRequest) (*core.Outcome, error) {
	e.applied = append(e.applied, req)
	if e.err != nil {
		return nil, e.err
	}
	return &core.Outcome{
		CardID:          req.CardID,
		FunnelType:      req.Analysis.FunnelAnalysis.Type,
		Resolution:      core.StageResolution{Applied: true, Stage: "Ganho", ProgressPercent: 100},
		Decision:        core.MoveDecision{Source: core.SourceMoveRule, RuleName: "hot lead"},
		Moved:           true,
		FromColumnID:    "col-new",
		ToColumnID:      "col-done",
		LockEngaged:     true,
		HistoryID:       "01HIST",
		HistoryRecorded: true,
	}, nil
}

func (e *fakeEngine) Analyze(_ context.Context, req core.AnalyzeRequest) (*core.Outcome, error) {
	e.analyzed = append(e.analyzed, req)
	if e.err != nil {
		return nil, e.err
	}
	return &core.Outcome{
		CardID:     req.CardID,
		Resolution: core.StageResolution{Reason: core.StageReasonUnmatched},
		Decision:   core.MoveDecision{Source: core.SourceNone},
	}, nil
}

func (e *fakeEngine) ForceStage(_ context.Context, cardID, stage string) (*models.Card, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &models.Card{ID: cardID, LifecycleStage: stage, LifecycleProgressPercent: 100, ColumnID: "col-done"}, nil
}

func (e *fakeEngine) MoveCard(_ context.Context, cardID, columnID string) (*models.Card, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &models.Card{ID: cardID, ColumnID: columnID}, nil
}

func useEngine(t *testing.T, e core.Engine) {
	t.Helper()
	orig := Engine
	Engine = e
	t.Cleanup(func() { Engine = orig })
}
