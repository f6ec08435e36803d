package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "akb.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleCard(id string) *models.Card {
	v := 1500.0
	return &models.Card{
		ID:                       id,
		PipelineID:               "p1",
		ColumnID:                 "col-new",
		Title:                    "Orçamento " + id,
		CustomerID:               "cust-1",
		Transcript:               "cliente: quero um orçamento",
		FunnelType:               "venda",
		FunnelScore:              40,
		LifecycleStage:           "Qualificado",
		Value:                    &v,
		CustomFields:             map[string]any{"segment": "retail"},
		LeadData:                 map[string]any{"email": "a@b.test"},
		CreatedAt:                testTime,
		UpdatedAt:                testTime,
		LifecycleProgressPercent: 20,
	}
}

func sampleBoard() *models.Board {
	won := models.ResolutionWon
	stage := "Ganho"
	return &models.Board{
		PipelineID: "p1",
		Columns: []models.Column{
			{ID: "col-new", Name: "Novos", Position: 0},
			{ID: "col-done", Name: "Finalizados", Position: 1},
		},
		Funnels: []models.FunnelConfig{{
			FunnelType: "venda", DisplayName: "Vendas", IsMonetary: true,
			Stages: []models.LifecycleStage{
				{StageName: "Qualificado", ProgressPercent: 20, IsInitial: true},
				{StageName: "Ganho", ProgressPercent: 100, IsTerminal: true, ResolutionStatus: &won},
			},
		}},
		MovementRules: []models.MovementRule{{
			ID: "mr-1", FunnelType: "venda", WhenLifecycleStage: &stage,
			MoveToColumnName: "Finalizados", IsActive: true, CreatedAt: testTime,
		}},
		MoveRules: []models.MoveRule{{
			ID: "r-1", Name: "hot", Enabled: true,
			Conditions: models.Conditions{Operator: models.CombineAnd, Criteria: []models.Criterion{
				{Field: models.FieldFunnelScore, Operator: models.OpGreater, Value: models.NumberValue(80)},
			}},
			Action: models.RuleAction{Type: models.ActionMoveForward, Target: models.NumberValue(1)},
		}},
	}
}

func TestSQLite_InsertAndGetCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := sampleCard("c1")

	if err := s.InsertCard(ctx, want); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}
	got, err := s.GetCard(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("card mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLite_GetCard_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCard(context.Background(), "missing")
	if !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
}

func TestSQLite_InsertCard_RequiresIDs(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertCard(context.Background(), &models.Card{Title: "x"}); err == nil {
		t.Fatal("expected error for card without id")
	}
}

func TestSQLite_UpdateCard_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertCard(ctx, sampleCard("c1")); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}

	later := testTime.Add(time.Minute)
	stage := "Ganho"
	won := models.ResolutionWon
	col := "col-done"
	err := s.UpdateCard(ctx, "c1", testTime, models.CardUpdate{
		LifecycleStage:   &stage,
		SetResolution:    true,
		ResolutionStatus: &won,
		ColumnID:         &col,
		UpdatedAt:        later,
	})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}

	got, _ := s.GetCard(ctx, "c1")
	if got.LifecycleStage != "Ganho" || got.ColumnID != "col-done" {
		t.Errorf("card = %s/%s, want Ganho/col-done", got.LifecycleStage, got.ColumnID)
	}
	if got.ResolutionStatus == nil || *got.ResolutionStatus != won {
		t.Errorf("ResolutionStatus = %v, want won", got.ResolutionStatus)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
	if got.Value == nil || *got.Value != 1500 {
		t.Errorf("untouched Value = %v, want 1500", got.Value)
	}

	// The old timestamp is now stale.
	err = s.UpdateCard(ctx, "c1", testTime, models.CardUpdate{ColumnID: &col, UpdatedAt: later.Add(time.Minute)})
	if !errors.Is(err, ErrStaleCard) {
		t.Fatalf("err = %v, want ErrStaleCard", err)
	}
}

func TestSQLite_UpdateCard_ClearsResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := sampleCard("c1")
	lost := models.ResolutionLost
	c.ResolutionStatus = &lost
	if err := s.InsertCard(ctx, c); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}
	stage := "Qualificado"
	if err := s.UpdateCard(ctx, "c1", testTime, models.CardUpdate{
		LifecycleStage: &stage, SetResolution: true, UpdatedAt: testTime.Add(time.Second),
	}); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	got, _ := s.GetCard(ctx, "c1")
	if got.ResolutionStatus != nil {
		t.Errorf("ResolutionStatus = %v, want nil", *got.ResolutionStatus)
	}
}

func TestSQLite_UpdateCard_ConcurrentWritersOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertCard(ctx, sampleCard("c1")); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		stale int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			col := "col-done"
			err := s.UpdateCard(ctx, "c1", testTime, models.CardUpdate{
				ColumnID: &col, UpdatedAt: testTime.Add(time.Duration(i+1) * time.Second),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrStaleCard):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || stale != 3 {
		t.Errorf("ok=%d stale=%d, want 1/3", ok, stale)
	}
}

func TestSQLite_ListCardsAndIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"c2", "c1"} {
		if err := s.InsertCard(ctx, sampleCard(id)); err != nil {
			t.Fatalf("InsertCard: %v", err)
		}
	}
	other := sampleCard("c3")
	other.PipelineID = "p2"
	if err := s.InsertCard(ctx, other); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}

	ids, err := s.ListCardIDs(ctx, "p1")
	if err != nil {
		t.Fatalf("ListCardIDs: %v", err)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	all, err := s.ListCards(ctx, "")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(ListCards) = %d, want 3", len(all))
	}
}

func TestSQLite_SaveAndLoadBoard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := sampleBoard()
	NormalizeBoard(b, testTime)

	if err := s.SaveBoard(ctx, b); err != nil {
		t.Fatalf("SaveBoard: %v", err)
	}
	got, err := s.LoadBoard(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("board mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces rather than appends.
	b.Columns = b.Columns[:1]
	if err := s.SaveBoard(ctx, b); err != nil {
		t.Fatalf("SaveBoard: %v", err)
	}
	got, _ = s.LoadBoard(ctx, "p1")
	if len(got.Columns) != 1 {
		t.Errorf("len(Columns) = %d, want 1", len(got.Columns))
	}

	pipelines, err := s.ListPipelines(ctx)
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if diff := cmp.Diff([]string{"p1"}, pipelines); diff != "" {
		t.Errorf("pipelines (-want +got):\n%s", diff)
	}
}

func TestSQLite_MoveRuleSet_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadMoveRuleSet(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadMoveRuleSet: %v", err)
	}
	if len(empty.Rules) != 0 {
		t.Fatalf("expected empty rule set, got %d rules", len(empty.Rules))
	}

	set := &models.MoveRuleSet{Rules: sampleBoard().MoveRules}
	for i := 0; i < 2; i++ {
		if err := s.SaveMoveRuleSet(ctx, "p1", set); err != nil {
			t.Fatalf("SaveMoveRuleSet: %v", err)
		}
	}
	got, err := s.LoadMoveRuleSet(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadMoveRuleSet: %v", err)
	}
	if diff := cmp.Diff(set, got); diff != "" {
		t.Errorf("rule set mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLite_History_AppendOnlyAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertCard(ctx, sampleCard("c1")); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}

	entries := []models.HistoryEntry{
		{ID: "01HZ0000000000000000000001", CardID: "c1", FunnelType: "venda", TriggerSource: models.TriggerMessage,
			AnalyzedAt: testTime, CustomFieldsSnapshot: map[string]any{}, LeadDataSnapshot: map[string]any{}},
		{ID: "01HZ0000000000000000000002", CardID: "c1", FunnelType: "suporte", TriggerSource: models.TriggerCron,
			AnalyzedAt: testTime.Add(time.Hour), CustomFieldsSnapshot: map[string]any{"a": "b"}, LeadDataSnapshot: map[string]any{}},
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if err := s.AppendHistory(ctx, entries[i]); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	if err := s.AppendHistory(ctx, entries[0]); err == nil {
		t.Error("expected duplicate history id to be rejected")
	}

	got, err := s.ListHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}

	last, err := s.LastAnalyzedAt(ctx, "p1")
	if err != nil {
		t.Fatalf("LastAnalyzedAt: %v", err)
	}
	if !last["c1"].Equal(testTime.Add(time.Hour)) {
		t.Errorf("LastAnalyzedAt[c1] = %v", last["c1"])
	}
}

func TestSQLite_CustomerCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertCustomer(ctx, models.CustomerProfile{ID: "cust-1", Name: "Acme"}); err != nil {
		t.Fatalf("UpsertCustomer: %v", err)
	}
	for _, ct := range []models.CompletionType{models.CompletionWon, models.CompletionWon, models.CompletionLost} {
		if err := s.IncrementCustomerCounter(ctx, "cust-1", ct); err != nil {
			t.Fatalf("IncrementCustomerCounter: %v", err)
		}
	}
	if err := s.IncrementCustomerCounter(ctx, "cust-2", models.CompletionCompleted); err != nil {
		t.Fatalf("IncrementCustomerCounter new customer: %v", err)
	}
	if err := s.IncrementCustomerCounter(ctx, "cust-1", "bogus"); err == nil {
		t.Error("expected error for unknown completion type")
	}

	p, err := s.GetCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if p.Name != "Acme" || p.TotalWon != 2 || p.TotalLost != 1 || p.TotalCompleted != 0 {
		t.Errorf("profile = %+v", p)
	}
	p2, _ := s.GetCustomer(ctx, "cust-2")
	if p2.TotalCompleted != 1 {
		t.Errorf("cust-2 TotalCompleted = %d, want 1", p2.TotalCompleted)
	}
}
