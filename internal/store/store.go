package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cat9999aaa/moneyclaw/internal/migration"
)

// Store persists all MoneyClaw entities in a single embedded database.
type Store struct {
	db  *sql.DB
	log logr.Logger
}

// Open opens (creating if necessary) the SQLite database at path, applies
// any missing migration, and returns a ready Store. A failed migration
// aborts startup, per the store's fatal-on-migration-failure contract.
func Open(path string, log logr.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	runner := migration.NewRunner("moneyclaw", migrations, log)
	if err := runner.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

func ts(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- Identity ---

// InsertIdentity records the one-time identity row. Fails if an identity
// already exists.
func (s *Store) InsertIdentity(id Identity) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM identity`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("identity already initialised")
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO identity (id, wallet_address, creator_address, genesis_prompt, created_at)
		VALUES (0, ?, ?, ?, ?)`,
		id.WalletAddress, id.CreatorAddress, id.GenesisPrompt, ts(id.CreatedAt))
	return err
}

// GetIdentity returns the singleton identity row.
func (s *Store) GetIdentity() (*Identity, error) {
	row := s.db.QueryRow(`SELECT wallet_address, creator_address, genesis_prompt, created_at FROM identity WHERE id = 0`)
	var (
		id        Identity
		createdAt string
	)
	if err := row.Scan(&id.WalletAddress, &id.CreatorAddress, &id.GenesisPrompt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id.CreatedAt = parseTS(createdAt)
	return &id, nil
}

// --- Session ---

// OpenSession closes any currently-open session (defensive; at most one
// should ever exist) and opens a new one.
func (s *Store) OpenSession() (*Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL`, ts(now)); err != nil {
		return nil, err
	}

	session := Session{ID: uuid.NewString(), StartedAt: now}
	if _, err := tx.Exec(`INSERT INTO sessions (id, started_at, ended_at) VALUES (?, ?, NULL)`,
		session.ID, ts(session.StartedAt)); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &session, nil
}

// CloseSession sets the session's end time.
func (s *Store) CloseSession(id string) error {
	result, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		ts(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenSessionRow returns the currently open session, if any.
func (s *Store) OpenSessionRow() (*Session, error) {
	row := s.db.QueryRow(`SELECT id, started_at, ended_at FROM sessions WHERE ended_at IS NULL LIMIT 1`)
	return scanSession(row)
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		session           Session
		startedAt         string
		endedAt           sql.NullString
	)
	if err := row.Scan(&session.ID, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	session.StartedAt = parseTS(startedAt)
	if endedAt.Valid {
		t := parseTS(endedAt.String)
		session.EndedAt = &t
	}
	return &session, nil
}

// --- Turn ---

// NextTurnIndex returns the next monotonic turn index for a session.
func (s *Store) NextTurnIndex(sessionID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(turn_index) FROM turns WHERE session_id = ?`, sessionID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

// InsertPendingTurn opens a new turn row in pending state.
func (s *Store) InsertPendingTurn(sessionID string, tier Tier) (*Turn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(turn_index) FROM turns WHERE session_id = ?`, sessionID).Scan(&max); err != nil {
		return nil, err
	}
	index := int64(0)
	if max.Valid {
		index = max.Int64 + 1
	}

	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TurnIndex: index,
		Tier:      tier,
		Status:    TurnPending,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.Exec(`INSERT INTO turns (id, session_id, turn_index, tier, model_id, prompt_tokens, completion_tokens, credit_delta, status, error_text, created_at, completed_at)
		VALUES (?, ?, ?, ?, '', 0, 0, 0, ?, '', ?, NULL)`,
		turn.ID, turn.SessionID, turn.TurnIndex, string(turn.Tier), string(turn.Status), ts(turn.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &turn, nil
}

// CompleteTurn commits a terminal turn status with usage, credit delta, and
// (for failures) error text. A completed or failed turn is immutable
// thereafter.
func (s *Store) CompleteTurn(turnID string, status TurnStatus, modelID string, promptTokens, completionTokens int64, creditDelta float64, errText string) error {
	if status == TurnPending {
		return fmt.Errorf("CompleteTurn called with non-terminal status %q", status)
	}
	result, err := s.db.Exec(`UPDATE turns
		SET status = ?, model_id = ?, prompt_tokens = ?, completion_tokens = ?, credit_delta = ?, error_text = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), modelID, promptTokens, completionTokens, creditDelta, errText, ts(time.Now().UTC()), turnID)
	if err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTurn returns a single turn by id, with its tool calls in dispatch order.
func (s *Store) GetTurn(id string) (*Turn, []ToolCall, error) {
	row := s.db.QueryRow(`SELECT id, session_id, turn_index, tier, model_id, prompt_tokens, completion_tokens, credit_delta, status, error_text, created_at, completed_at
		FROM turns WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if err != nil {
		return nil, nil, err
	}
	calls, err := s.ListToolCalls(id)
	if err != nil {
		return nil, nil, err
	}
	return turn, calls, nil
}

// LastNonEmptyTurnError returns the error text of the most recent failed
// turn with a non-empty error, for status reporting.
func (s *Store) LastNonEmptyTurnError(sessionID string) (string, error) {
	var errText string
	err := s.db.QueryRow(`SELECT error_text FROM turns
		WHERE session_id = ? AND status = 'failed' AND error_text != ''
		ORDER BY turn_index DESC LIMIT 1`, sessionID).Scan(&errText)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return errText, nil
}

// RecentErrorRate returns the fraction of the last n turns in a session that
// failed, used by the tier governor's error-rate signal.
func (s *Store) RecentErrorRate(sessionID string, n int) (float64, error) {
	rows, err := s.db.Query(`SELECT status FROM turns WHERE session_id = ? ORDER BY turn_index DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	total, failed := 0, 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		total++
		if status == string(TurnFailed) {
			failed++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// AggregateUsage totals completed turns within the last window, grouped by
// model, for status reporting. Failed turns consume no tokens worth
// reporting but their credit_delta (typically 0 or a partial charge) is
// still folded in.
func (s *Store) AggregateUsage(window time.Duration) ([]UsageSummary, error) {
	since := ts(time.Now().UTC().Add(-window))
	rows, err := s.db.Query(`SELECT model_id, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(credit_delta), 0)
		FROM turns
		WHERE created_at >= ? AND status != 'pending'
		GROUP BY model_id
		ORDER BY model_id ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]UsageSummary, 0)
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.ModelID, &u.TurnCount, &u.PromptTokens, &u.CompletionTokens, &u.CreditSpent); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanTurn(row interface{ Scan(...any) error }) (*Turn, error) {
	var (
		turn                 Turn
		tier, status         string
		createdAt            string
		completedAt          sql.NullString
	)
	if err := row.Scan(&turn.ID, &turn.SessionID, &turn.TurnIndex, &tier, &turn.ModelID,
		&turn.PromptTokens, &turn.CompletionTokens, &turn.CreditDelta, &status, &turn.ErrorText,
		&createdAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	turn.Tier = Tier(tier)
	turn.Status = TurnStatus(status)
	turn.CreatedAt = parseTS(createdAt)
	if completedAt.Valid {
		t := parseTS(completedAt.String)
		turn.CompletedAt = &t
	}
	return &turn, nil
}

// --- ToolCall ---

// AppendToolCall records one tool call result, in dispatch order, under its
// turn. The turn's status is not checked.
func (s *Store) AppendToolCall(call ToolCall) (*ToolCall, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM tool_calls WHERE turn_id = ?`, call.TurnID).Scan(&max); err != nil {
		return nil, err
	}
	call.Seq = 0
	if max.Valid {
		call.Seq = max.Int64 + 1
	}

	var finishedAt interface{}
	if call.FinishedAt != nil {
		finishedAt = ts(*call.FinishedAt)
	}

	if _, err := tx.Exec(`INSERT INTO tool_calls (id, turn_id, seq, tool_name, input, output, exit_code, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.TurnID, call.Seq, call.ToolName, call.Input, call.Output, call.ExitCode, ts(call.StartedAt), finishedAt); err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &call, nil
}

// ListToolCalls returns a turn's tool calls in dispatch order.
func (s *Store) ListToolCalls(turnID string) ([]ToolCall, error) {
	rows, err := s.db.Query(`SELECT id, turn_id, seq, tool_name, input, output, exit_code, started_at, finished_at
		FROM tool_calls WHERE turn_id = ? ORDER BY seq ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ToolCall, 0)
	for rows.Next() {
		var (
			call       ToolCall
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&call.ID, &call.TurnID, &call.Seq, &call.ToolName, &call.Input, &call.Output,
			&call.ExitCode, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		call.StartedAt = parseTS(startedAt)
		if finishedAt.Valid {
			t := parseTS(finishedAt.String)
			call.FinishedAt = &t
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

// --- KV ---

// GetKV returns the latest committed value for key, or "" if unset.
func (s *Store) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetKV writes key=value, last-write-wins.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, ts(time.Now().UTC()))
	return err
}

// --- Model Registry ---

// UpsertModelRegistryRow inserts a new registry row or updates an existing
// one, per the discovery subsystem's field-preservation rules: callers that
// want to preserve human-edited fields should read the existing row first
// and merge before calling this, since it overwrites every field given.
func (s *Store) UpsertModelRegistryRow(row ModelRegistryRow) error {
	now := time.Now().UTC()
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}

	enabled, tools, vision := boolToInt(row.Enabled), boolToInt(row.SupportsTools), boolToInt(row.SupportsVision)

	_, err := s.db.Exec(`INSERT INTO model_registry
		(model_id, provider, display_name, tier_minimum, input_cost_per_1k, output_cost_per_1k, max_output_tokens, context_window, supports_tools, supports_vision, param_style, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			display_name = excluded.display_name,
			tier_minimum = excluded.tier_minimum,
			input_cost_per_1k = excluded.input_cost_per_1k,
			output_cost_per_1k = excluded.output_cost_per_1k,
			max_output_tokens = excluded.max_output_tokens,
			context_window = excluded.context_window,
			supports_tools = excluded.supports_tools,
			supports_vision = excluded.supports_vision,
			param_style = excluded.param_style,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		row.ModelID, string(row.Provider), row.DisplayName, string(row.TierMinimum),
		row.InputCostPer1K, row.OutputCostPer1K, row.MaxOutputTokens, row.ContextWindow,
		tools, vision, string(row.ParamStyle), enabled, ts(row.CreatedAt), ts(row.UpdatedAt))
	return err
}

// GetModelRegistryRow returns a single registry row.
func (s *Store) GetModelRegistryRow(modelID string) (*ModelRegistryRow, error) {
	row := s.db.QueryRow(`SELECT model_id, provider, display_name, tier_minimum, input_cost_per_1k, output_cost_per_1k,
		max_output_tokens, context_window, supports_tools, supports_vision, param_style, enabled, created_at, updated_at
		FROM model_registry WHERE model_id = ?`, modelID)
	return scanModelRegistryRow(row)
}

// ListEnabledModelRegistryRows returns every enabled row, optionally filtered
// by provider (empty string means all providers).
func (s *Store) ListEnabledModelRegistryRows(provider ProviderName) ([]ModelRegistryRow, error) {
	query := `SELECT model_id, provider, display_name, tier_minimum, input_cost_per_1k, output_cost_per_1k,
		max_output_tokens, context_window, supports_tools, supports_vision, param_style, enabled, created_at, updated_at
		FROM model_registry WHERE enabled = 1`
	args := []any{}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(provider))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ModelRegistryRow, 0)
	for rows.Next() {
		row, err := scanModelRegistryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// TombstoneMissing disables every currently-enabled row of provider whose
// model_id is not in seenIDs. Used after a discovery pass completes.
func (s *Store) TombstoneMissing(provider ProviderName, seenIDs []string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT model_id FROM model_registry WHERE provider = ? AND enabled = 1`, string(provider))
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(seenIDs))
	for _, id := range seenIDs {
		seen[id] = true
	}
	var toDisable []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if !seen[id] {
			toDisable = append(toDisable, id)
		}
	}
	rows.Close()

	now := ts(time.Now().UTC())
	for _, id := range toDisable {
		if _, err := tx.Exec(`UPDATE model_registry SET enabled = 0, updated_at = ? WHERE model_id = ?`, now, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(toDisable)), nil
}

// SetModelRegistryEnabled flips a single row's enabled flag, used when the
// router learns a model id is not actually servable (404/model-not-found).
func (s *Store) SetModelRegistryEnabled(modelID string, enabled bool) error {
	result, err := s.db.Exec(`UPDATE model_registry SET enabled = ?, updated_at = ? WHERE model_id = ?`,
		boolToInt(enabled), ts(time.Now().UTC()), modelID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanModelRegistryRow(row interface{ Scan(...any) error }) (*ModelRegistryRow, error) {
	var (
		m                          ModelRegistryRow
		provider, tierMin, pstyle  string
		tools, vision, enabled     int
		createdAt, updatedAt       string
	)
	if err := row.Scan(&m.ModelID, &provider, &m.DisplayName, &tierMin, &m.InputCostPer1K, &m.OutputCostPer1K,
		&m.MaxOutputTokens, &m.ContextWindow, &tools, &vision, &pstyle, &enabled, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Provider = ProviderName(provider)
	m.TierMinimum = Tier(tierMin)
	m.ParamStyle = ParamStyle(pstyle)
	m.SupportsTools = tools == 1
	m.SupportsVision = vision == 1
	m.Enabled = enabled == 1
	m.CreatedAt = parseTS(createdAt)
	m.UpdatedAt = parseTS(updatedAt)
	return &m, nil
}

// --- Child + LifecycleEvent ---

// InsertChild inserts a new child row and its first lifecycle event,
// atomically. Per the spawn protocol, this is only called after a valid
// wallet address has been obtained.
func (s *Store) InsertChild(child Child, transition string) (*Child, error) {
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	if child.CreatedAt.IsZero() {
		child.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO children (id, name, address, sandbox_id, genesis_prompt, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		child.ID, child.Name, child.Address, child.SandboxID, child.GenesisPrompt, string(child.Status), ts(child.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}

	if err := appendLifecycleEvent(tx, child.ID, transition, child.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &child, nil
}

// UpdateChildStatus transitions a child and appends the corresponding
// lifecycle event atomically.
func (s *Store) UpdateChildStatus(childID, transition string, newStatus ChildStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE children SET status = ? WHERE id = ?`, string(newStatus), childID)
	if err != nil {
		return fmt.Errorf("update child status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if err := appendLifecycleEvent(tx, childID, transition, newStatus); err != nil {
		return err
	}

	return tx.Commit()
}

func appendLifecycleEvent(tx *sql.Tx, childID, transition string, toState ChildStatus) error {
	_, err := tx.Exec(`INSERT INTO lifecycle_events (id, child_id, transition, to_state, ts)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), childID, transition, string(toState), ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("append lifecycle event: %w", err)
	}
	return nil
}

// GetChild returns a single child by id.
func (s *Store) GetChild(id string) (*Child, error) {
	row := s.db.QueryRow(`SELECT id, name, address, sandbox_id, genesis_prompt, status, created_at FROM children WHERE id = ?`, id)
	return scanChild(row)
}

// ListChildrenByStatus returns children with the given status, oldest first.
func (s *Store) ListChildrenByStatus(status ChildStatus) ([]Child, error) {
	rows, err := s.db.Query(`SELECT id, name, address, sandbox_id, genesis_prompt, status, created_at
		FROM children WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Child, 0)
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanChild(row interface{ Scan(...any) error }) (*Child, error) {
	var (
		c         Child
		status    string
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &c.SandboxID, &c.GenesisPrompt, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = ChildStatus(status)
	c.CreatedAt = parseTS(createdAt)
	return &c, nil
}

// LatestLifecycleEvent returns the most recent lifecycle event for a child.
func (s *Store) LatestLifecycleEvent(childID string) (*LifecycleEvent, error) {
	row := s.db.QueryRow(`SELECT id, child_id, transition, to_state, ts FROM lifecycle_events
		WHERE child_id = ? ORDER BY ts DESC LIMIT 1`, childID)
	var (
		e         LifecycleEvent
		toState   string
		tsStr     string
	)
	if err := row.Scan(&e.ID, &e.ChildID, &e.Transition, &toState, &tsStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.ToState = ChildStatus(toState)
	e.Timestamp = parseTS(tsStr)
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
