package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchReport summarises one bulk reanalysis. Failed maps card ids to the
// error that stopped them.
type BatchReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// BulkReanalyzer runs the engine over many cards concurrently. A failure on
// one card never aborts the others.
type BulkReanalyzer struct {
	engine      Engine
	concurrency int
	lockPath    string
	logger      *zap.Logger
}

// NewBulkReanalyzer creates a reanalyzer running at most concurrency cards at
// once. When lockPath is non-empty, runs in different processes sharing the
// path are serialized.
func NewBulkReanalyzer(engine Engine, concurrency int, lockPath string, logger *zap.Logger) *BulkReanalyzer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkReanalyzer{engine: engine, concurrency: concurrency, lockPath: lockPath, logger: logger}
}

// Run analyzes every card in cardIDs with its stored transcript.
func (b *BulkReanalyzer) Run(ctx context.Context, cardIDs []string, trigger models.TriggerSource) (*BatchReport, error) {
	if b.lockPath != "" {
		unlock, err := lockFile(ctx, b.lockPath)
		if err != nil {
			return nil, fmt.Errorf("locking reanalysis: %w", err)
		}
		defer func() { _ = unlock() }()
	}

	report := &BatchReport{Failed: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, id := range cardIDs {
		g.Go(func() error {
			err := gctx.Err()
			if err == nil {
				_, err = b.engine.Analyze(gctx, AnalyzeRequest{CardID: id, Trigger: trigger})
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.logger.Warn("reanalyzing card", zap.String("card_id", id), zap.Error(err))
				report.Failed[id] = err.Error()
				return nil
			}
			report.Succeeded = append(report.Succeeded, id)
			return nil
		})
	}
	// Workers never return errors, so Wait only reports completion.
	_ = g.Wait()

	sort.Strings(report.Succeeded)
	b.logger.Info("reanalysis finished",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)))
	return report, ctx.Err()
}
