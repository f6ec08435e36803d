package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var (
	// ErrCardNotFound is returned for unknown card ids.
	ErrCardNotFound = errors.New("card not found")
	// ErrStaleCard is returned by UpdateCard when the stored updated_at no
	// longer matches the caller's copy.
	ErrStaleCard = errors.New("card updated_at mismatch")
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
	CREATE TABLE IF NOT EXISTS cards (
		card_id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		column_id TEXT NOT NULL,
		title TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		product_item TEXT NOT NULL DEFAULT '',
		funnel_type TEXT NOT NULL DEFAULT '',
		funnel_score REAL NOT NULL DEFAULT 0,
		service_quality_score REAL NOT NULL DEFAULT 0,
		lifecycle_stage TEXT NOT NULL DEFAULT '',
		lifecycle_progress_percent INTEGER NOT NULL DEFAULT 0
			CHECK (lifecycle_progress_percent BETWEEN 0 AND 100),
		resolution_status TEXT,
		value REAL,
		is_monetary_locked INTEGER NOT NULL DEFAULT 0,
		monetary_locked_at TEXT,
		custom_fields TEXT NOT NULL DEFAULT '{}',
		lead_data TEXT NOT NULL DEFAULT '{}',
		completion_type TEXT,
		completion_reason TEXT NOT NULL DEFAULT '',
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_activity_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cards_pipeline ON cards(pipeline_id);

	CREATE TABLE IF NOT EXISTS board_columns (
		column_id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		name TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funnels (
		pipeline_id TEXT NOT NULL,
		funnel_type TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		is_monetary INTEGER NOT NULL DEFAULT 0,
		stages TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (pipeline_id, funnel_type)
	);

	CREATE TABLE IF NOT EXISTS movement_rules (
		rule_id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		funnel_type TEXT NOT NULL,
		when_lifecycle_stage TEXT,
		move_to_column_name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS move_rule_sets (
		pipeline_id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analysis_history (
		history_id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL,
		analyzed_at TEXT NOT NULL,
		trigger_source TEXT NOT NULL,
		entry TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_card ON analysis_history(card_id, history_id);

	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		total_won INTEGER NOT NULL DEFAULT 0,
		total_lost INTEGER NOT NULL DEFAULT 0,
		total_completed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`

// SQLiteStore is the row store for cards, board configuration, analysis
// history and customer profiles.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Cards ---

const cardColumns = `card_id, pipeline_id, column_id, title, customer_id, transcript, summary,
	subject, product_item, funnel_type, funnel_score, service_quality_score, lifecycle_stage,
	lifecycle_progress_percent, resolution_status, value, is_monetary_locked, monetary_locked_at,
	custom_fields, lead_data, completion_type, completion_reason, completed_at, created_at,
	updated_at, last_activity_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		c                                   models.Card
		resolution, completion              sql.NullString
		lockedAt, completedAt, lastActivity sql.NullString
		createdAt, updatedAt                string
		value                               sql.NullFloat64
		locked                              bool
		customFields, leadData              string
	)
	err := row.Scan(&c.ID, &c.PipelineID, &c.ColumnID, &c.Title, &c.CustomerID, &c.Transcript, &c.Summary,
		&c.Subject, &c.ProductItem, &c.FunnelType, &c.FunnelScore, &c.ServiceQualityScore, &c.LifecycleStage,
		&c.LifecycleProgressPercent, &resolution, &value, &locked, &lockedAt,
		&customFields, &leadData, &completion, &c.CompletionReason, &completedAt, &createdAt,
		&updatedAt, &lastActivity)
	if err != nil {
		return nil, err
	}

	if resolution.Valid {
		r := models.ResolutionStatus(resolution.String)
		c.ResolutionStatus = &r
	}
	if completion.Valid {
		ct := models.CompletionType(completion.String)
		c.CompletionType = &ct
	}
	if value.Valid {
		v := value.Float64
		c.Value = &v
	}
	c.IsMonetaryLocked = locked
	if c.MonetaryLockedAt, err = parseNullTime(lockedAt); err != nil {
		return nil, err
	}
	if c.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if c.LastActivityAt, err = parseNullTime(lastActivity); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := decodeJSONMap(customFields, &c.CustomFields); err != nil {
		return nil, fmt.Errorf("decode custom_fields: %w", err)
	}
	if err := decodeJSONMap(leadData, &c.LeadData); err != nil {
		return nil, fmt.Errorf("decode lead_data: %w", err)
	}
	return &c, nil
}

func cardArgs(c *models.Card) ([]any, error) {
	customFields, err := encodeJSONMap(c.CustomFields)
	if err != nil {
		return nil, fmt.Errorf("encode custom_fields: %w", err)
	}
	leadData, err := encodeJSONMap(c.LeadData)
	if err != nil {
		return nil, fmt.Errorf("encode lead_data: %w", err)
	}
	var resolution, completion any
	if c.ResolutionStatus != nil {
		resolution = string(*c.ResolutionStatus)
	}
	if c.CompletionType != nil {
		completion = string(*c.CompletionType)
	}
	var value any
	if c.Value != nil {
		value = *c.Value
	}
	return []any{
		c.ID, c.PipelineID, c.ColumnID, c.Title, c.CustomerID, c.Transcript, c.Summary,
		c.Subject, c.ProductItem, c.FunnelType, c.FunnelScore, c.ServiceQualityScore, c.LifecycleStage,
		c.LifecycleProgressPercent, resolution, value, c.IsMonetaryLocked, formatNullTime(c.MonetaryLockedAt),
		customFields, leadData, completion, c.CompletionReason, formatNullTime(c.CompletedAt), formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt), formatNullTime(c.LastActivityAt),
	}, nil
}

// InsertCard creates or replaces a card. Zero timestamps default to now.
func (s *SQLiteStore) InsertCard(ctx context.Context, c *models.Card) error {
	if c.ID == "" || c.PipelineID == "" {
		return fmt.Errorf("insert card: id and pipeline_id are required")
	}
	cp := *c
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	args, err := cardArgs(&cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cards (`+cardColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return fmt.Errorf("insert card %s: %w", c.ID, err)
	}
	return nil
}

// GetCard returns one card.
func (s *SQLiteStore) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?`, cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return c, nil
}

// ListCards returns the cards of a pipeline (all pipelines when empty),
// ordered by column then creation time.
func (s *SQLiteStore) ListCards(ctx context.Context, pipelineID string) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards`
	var args []any
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY pipeline_id, column_id, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []*models.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// ListCardIDs returns the ids of a pipeline's cards (all when empty).
func (s *SQLiteStore) ListCardIDs(ctx context.Context, pipelineID string) ([]string, error) {
	query := `SELECT card_id FROM cards`
	var args []any
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY card_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query card ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateCard applies update to the stored card only while its updated_at
// still equals expectedUpdatedAt.
func (s *SQLiteStore) UpdateCard(ctx context.Context, cardID string, expectedUpdatedAt time.Time, update models.CardUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin card update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?`, cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if err != nil {
		return fmt.Errorf("read card %s: %w", cardID, err)
	}
	if !c.UpdatedAt.Equal(expectedUpdatedAt) {
		return fmt.Errorf("%w: %s", ErrStaleCard, cardID)
	}

	update.Apply(c)
	if update.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now().UTC()
	}
	args, err := cardArgs(c)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE cards SET
			column_id = ?, title = ?, customer_id = ?, transcript = ?, summary = ?,
			subject = ?, product_item = ?, funnel_type = ?, funnel_score = ?, service_quality_score = ?,
			lifecycle_stage = ?, lifecycle_progress_percent = ?, resolution_status = ?, value = ?,
			is_monetary_locked = ?, monetary_locked_at = ?, custom_fields = ?, lead_data = ?,
			completion_type = ?, completion_reason = ?, completed_at = ?, updated_at = ?, last_activity_at = ?
		 WHERE card_id = ? AND updated_at = ?`,
		append(append([]any{}, args[2:23]...), args[24], args[25], cardID, formatTime(expectedUpdatedAt))...)
	if err != nil {
		return fmt.Errorf("update card %s: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update card %s: %w", cardID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrStaleCard, cardID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit card update: %w", err)
	}
	return nil
}

// --- Board configuration ---

// LoadBoard reads the columns, funnels and both rule systems of a pipeline.
func (s *SQLiteStore) LoadBoard(ctx context.Context, pipelineID string) (*models.Board, error) {
	b := &models.Board{PipelineID: pipelineID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT column_id, pipeline_id, name, position FROM board_columns
		 WHERE pipeline_id = ? ORDER BY position, column_id`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	for rows.Next() {
		var col models.Column
		if err := rows.Scan(&col.ID, &col.PipelineID, &col.Name, &col.Position); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		b.Columns = append(b.Columns, col)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT pipeline_id, funnel_type, display_name, is_monetary, stages FROM funnels
		 WHERE pipeline_id = ? ORDER BY funnel_type`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("query funnels: %w", err)
	}
	for rows.Next() {
		var (
			f      models.FunnelConfig
			stages string
		)
		if err := rows.Scan(&f.PipelineID, &f.FunnelType, &f.DisplayName, &f.IsMonetary, &stages); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan funnel row: %w", err)
		}
		if err := json.Unmarshal([]byte(stages), &f.Stages); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode stages of funnel %s: %w", f.FunnelType, err)
		}
		b.Funnels = append(b.Funnels, f)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT rule_id, pipeline_id, funnel_type, when_lifecycle_stage, move_to_column_name,
			is_active, priority, created_at
		 FROM movement_rules WHERE pipeline_id = ? ORDER BY created_at, rule_id`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("query movement rules: %w", err)
	}
	for rows.Next() {
		var (
			r         models.MovementRule
			stage     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.PipelineID, &r.FunnelType, &stage, &r.MoveToColumnName,
			&r.IsActive, &r.Priority, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan movement rule row: %w", err)
		}
		if stage.Valid {
			st := stage.String
			r.WhenLifecycleStage = &st
		}
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("parse movement rule created_at: %w", err)
		}
		b.MovementRules = append(b.MovementRules, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	set, err := s.LoadMoveRuleSet(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	b.MoveRules = set.Rules
	return b, nil
}

// SaveBoard replaces the whole configuration of b.PipelineID. Cards are not
// touched.
func (s *SQLiteStore) SaveBoard(ctx context.Context, b *models.Board) error {
	if b == nil || b.PipelineID == "" {
		return fmt.Errorf("save board: pipeline_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin board save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"board_columns", "funnels", "movement_rules", "move_rule_sets"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE pipeline_id = ?`, b.PipelineID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, col := range b.Columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO board_columns (column_id, pipeline_id, name, position) VALUES (?, ?, ?, ?)`,
			col.ID, b.PipelineID, col.Name, col.Position); err != nil {
			return fmt.Errorf("insert column %s: %w", col.ID, err)
		}
	}

	for _, f := range b.Funnels {
		stages, err := json.Marshal(f.Stages)
		if err != nil {
			return fmt.Errorf("encode stages of funnel %s: %w", f.FunnelType, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funnels (pipeline_id, funnel_type, display_name, is_monetary, stages)
			 VALUES (?, ?, ?, ?, ?)`,
			b.PipelineID, f.FunnelType, f.DisplayName, f.IsMonetary, string(stages)); err != nil {
			return fmt.Errorf("insert funnel %s: %w", f.FunnelType, err)
		}
	}

	for _, r := range b.MovementRules {
		var stage any
		if r.WhenLifecycleStage != nil {
			stage = *r.WhenLifecycleStage
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO movement_rules (rule_id, pipeline_id, funnel_type, when_lifecycle_stage,
				move_to_column_name, is_active, priority, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, b.PipelineID, r.FunnelType, stage, r.MoveToColumnName, r.IsActive, r.Priority,
			formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("insert movement rule %s: %w", r.ID, err)
		}
	}

	doc, err := json.Marshal(models.MoveRuleSet{Rules: b.MoveRules})
	if err != nil {
		return fmt.Errorf("encode move rules: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO move_rule_sets (pipeline_id, document, updated_at) VALUES (?, ?, ?)`,
		b.PipelineID, string(doc), formatTime(s.now().UTC())); err != nil {
		return fmt.Errorf("insert move rule set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit board save: %w", err)
	}
	return nil
}

// LoadMoveRuleSet returns the stored move-rule document of a pipeline, or an
// empty set.
func (s *SQLiteStore) LoadMoveRuleSet(ctx context.Context, pipelineID string) (*models.MoveRuleSet, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM move_rule_sets WHERE pipeline_id = ?`, pipelineID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.MoveRuleSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query move rule set: %w", err)
	}
	var set models.MoveRuleSet
	if err := json.Unmarshal([]byte(doc), &set); err != nil {
		return nil, fmt.Errorf("decode move rule set of %s: %w", pipelineID, err)
	}
	return &set, nil
}

// SaveMoveRuleSet replaces the move-rule document of a pipeline.
func (s *SQLiteStore) SaveMoveRuleSet(ctx context.Context, pipelineID string, set *models.MoveRuleSet) error {
	doc, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode move rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO move_rule_sets (pipeline_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at`,
		pipelineID, string(doc), formatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert move rule set: %w", err)
	}
	return nil
}

// ListPipelines returns every pipeline id that has columns configured.
func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT pipeline_id FROM board_columns ORDER BY pipeline_id`)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pipeline id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Analysis history ---

// AppendHistory inserts one history row. Rows are never updated.
func (s *SQLiteStore) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_history (history_id, card_id, analyzed_at, trigger_source, entry)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.CardID, formatTime(e.AnalyzedAt), string(e.TriggerSource), string(data))
	if err != nil {
		return fmt.Errorf("insert history entry %s: %w", e.ID, err)
	}
	return nil
}

// ListHistory returns a card's history, oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, cardID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM analysis_history WHERE card_id = ? ORDER BY history_id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.HistoryEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastAnalyzedAt returns the most recent analysis time per card of a
// pipeline (all pipelines when empty).
func (s *SQLiteStore) LastAnalyzedAt(ctx context.Context, pipelineID string) (map[string]time.Time, error) {
	query := `SELECT h.card_id, MAX(h.analyzed_at) FROM analysis_history h`
	var args []any
	if pipelineID != "" {
		query += ` JOIN cards c ON c.card_id = h.card_id WHERE c.pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` GROUP BY h.card_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query last analysis: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan last analysis: %w", err)
		}
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse analyzed_at: %w", err)
		}
		out[id] = t
	}
	return out, rows.Err()
}

// --- Customers ---

// UpsertCustomer creates or renames a customer profile without touching its
// counters.
func (s *SQLiteStore) UpsertCustomer(ctx context.Context, p models.CustomerProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (customer_id, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(customer_id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, formatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", p.ID, err)
	}
	return nil
}

// IncrementCustomerCounter adds one to the counter matching completion,
// creating the profile if needed.
func (s *SQLiteStore) IncrementCustomerCounter(ctx context.Context, customerID string, completion models.CompletionType) error {
	var column string
	switch completion {
	case models.CompletionWon:
		column = "total_won"
	case models.CompletionLost:
		column = "total_lost"
	case models.CompletionCompleted:
		column = "total_completed"
	default:
		return fmt.Errorf("unknown completion type %q", completion)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (customer_id, `+column+`, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT(customer_id) DO UPDATE SET
			`+column+` = `+column+` + 1,
			updated_at = excluded.updated_at`,
		customerID, formatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("increment %s for customer %s: %w", column, customerID, err)
	}
	return nil
}

// GetCustomer returns a customer profile.
func (s *SQLiteStore) GetCustomer(ctx context.Context, customerID string) (*models.CustomerProfile, error) {
	var (
		p         models.CustomerProfile
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id, name, total_won, total_lost, total_completed, updated_at
		 FROM customers WHERE customer_id = ?`, customerID).
		Scan(&p.ID, &p.Name, &p.TotalWon, &p.TotalLost, &p.TotalCompleted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s not found", customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse customer updated_at: %w", err)
	}
	return &p, nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return &t, nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(s string, dst *map[string]any) error {
	if s == "" || s == "{}" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
