package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// --- In-memory stores used by engine tests ---

type memCardStore struct {
	mu    sync.Mutex
	cards map[string]*models.Card
	// beforeUpdate runs inside UpdateCard before the compare-and-swap.
	beforeUpdate func(cardID string)
}

func newMemCardStore(cards ...*models.Card) *memCardStore {
	s := &memCardStore{cards: make(map[string]*models.Card)}
	for _, c := range cards {
		cp := *c
		s.cards[c.ID] = &cp
	}
	return s
}

func (s *memCardStore) GetCard(_ context.Context, cardID string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memCardStore) UpdateCard(_ context.Context, cardID string, expected time.Time, u models.CardUpdate) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(cardID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	if !c.UpdatedAt.Equal(expected) {
		return ErrConcurrentUpdate
	}
	u.Apply(c)
	return nil
}

func (s *memCardStore) ListCardIDs(_ context.Context, pipelineID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.cards {
		if pipelineID == "" || c.PipelineID == pipelineID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memCardStore) card(id string) models.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cards[id]
}

type memBoardStore struct {
	boards map[string]*models.Board
}

func (s *memBoardStore) LoadBoard(_ context.Context, pipelineID string) (*models.Board, error) {
	b, ok := s.boards[pipelineID]
	if !ok {
		return nil, errors.New("unknown pipeline")
	}
	return b, nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	err     error
}

func (s *memHistoryStore) AppendHistory(_ context.Context, e models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memHistoryStore) ListHistory(_ context.Context, cardID string) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HistoryEntry
	for _, e := range s.entries {
		if e.CardID == cardID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memCustomerStore struct {
	mu     sync.Mutex
	counts map[string]map[models.CompletionType]int
}

func (s *memCustomerStore) IncrementCustomerCounter(_ context.Context, customerID string, ct models.CompletionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]map[models.CompletionType]int)
	}
	if s.counts[customerID] == nil {
		s.counts[customerID] = make(map[models.CompletionType]int)
	}
	s.counts[customerID][ct]++
	return nil
}

type fakeEventLogger struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (l *fakeEventLogger) LogEvent(eventType string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, eventType)
	l.data = append(l.data, data)
	return nil
}

func (l *fakeEventLogger) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) NotifyRule(_ context.Context, _, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type fakeClassifier struct {
	mu     sync.Mutex
	result func(transcript string) (*models.AnalysisResult, error)
	calls  int
}

func (c *fakeClassifier) Classify(_ context.Context, transcript string, _ []models.FunnelConfig) (*models.AnalysisResult, string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	a, err := c.result(transcript)
	return a, "fake-model", err
}

// --- Fixtures ---

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// salesBoard is a three column pipeline with a monetary "venda" funnel and a
// non-monetary "suporte" funnel.
func salesBoard() *models.Board {
	won := models.ResolutionWon
	return &models.Board{
		PipelineID: "p1",
		Columns: []models.Column{
			{ID: "col-new", PipelineID: "p1", Name: "Novos", Position: 0},
			{ID: "col-progress", PipelineID: "p1", Name: "Em andamento", Position: 1},
			{ID: "col-done", PipelineID: "p1", Name: "Finalizados", Position: 2},
		},
		Funnels: []models.FunnelConfig{
			{
				PipelineID: "p1", FunnelType: "venda", DisplayName: "Vendas", IsMonetary: true,
				Stages: []models.LifecycleStage{
					{StageName: "Qualificado", ProgressPercent: 20, IsInitial: true},
					{StageName: "Negociação", ProgressPercent: 60},
					{StageName: "Ganho", ProgressPercent: 100, IsTerminal: true, ResolutionStatus: &won},
					{StageName: "Encerrado", ProgressPercent: 100, IsTerminal: true},
				},
			},
			{
				PipelineID: "p1", FunnelType: "suporte", DisplayName: "Suporte",
				Stages: []models.LifecycleStage{
					{StageName: "Aberto", ProgressPercent: 10, IsInitial: true},
					{StageName: "Resolvido", ProgressPercent: 100, IsTerminal: true},
				},
			},
		},
	}
}

func baseAnalysis(funnel string, score float64) *models.AnalysisResult {
	return &models.AnalysisResult{
		Summary:        "customer asked for a quote",
		FunnelAnalysis: &models.FunnelAnalysis{Type: funnel, Score: score},
		ServiceQuality: &models.ServiceQuality{Score: 70, Suggestions: []string{"answer faster"}},
	}
}
