// Package audit provides the append-only run/security/delegate event log
// backed by SQLite, with secret scrubbing applied before every insert and
// scheduled pruning by retention window and row count.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const defaultAutoPruneInterval = 1000

const createRunTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	user_prompt TEXT NOT NULL,
	model TEXT NOT NULL,
	provider TEXT NOT NULL,
	output TEXT NOT NULL,
	tokens_in INTEGER NOT NULL,
	tokens_out INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	tool_calls INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	trigger_type TEXT,
	trigger_metadata TEXT
);`

var createRunIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_audit_agent_name ON audit_log (agent_name);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log (timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_log (run_id);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_trigger_type ON audit_log (trigger_type);`,
}

const createSecurityTable = `
CREATE TABLE IF NOT EXISTS security_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	details TEXT NOT NULL,
	source_ip TEXT
);`

var createSecurityIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sec_event_type ON security_events (event_type);`,
	`CREATE INDEX IF NOT EXISTS idx_sec_timestamp ON security_events (timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_sec_agent ON security_events (agent_name);`,
}

const createDelegateTable = `
CREATE TABLE IF NOT EXISTS delegate_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_service TEXT NOT NULL,
	target_service TEXT NOT NULL,
	status TEXT NOT NULL,
	source_run_id TEXT NOT NULL,
	reason TEXT,
	trace TEXT,
	payload_preview TEXT NOT NULL
);`

var createDelegateIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_del_source ON delegate_events (source_service);`,
	`CREATE INDEX IF NOT EXISTS idx_del_target ON delegate_events (target_service);`,
	`CREATE INDEX IF NOT EXISTS idx_del_status ON delegate_events (status);`,
	`CREATE INDEX IF NOT EXISTS idx_del_timestamp ON delegate_events (timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_del_run_id ON delegate_events (source_run_id);`,
}

// Logger is an append-only audit log backed by a single shared SQLite
// connection. Every write is serialized through mu; writes never propagate
// an error to the caller — failures are logged and swallowed.
type Logger struct {
	db   *sql.DB
	mu   sync.Mutex
	log  zerolog.Logger
	path string

	insertCount       int64
	autoPruneInterval int
	retentionDays     int
	maxRecords        int
}

// Option configures a Logger at construction.
type Option func(*Logger)

// WithRetention sets how many days of rows survive a prune pass.
func WithRetention(days int) Option {
	return func(l *Logger) { l.retentionDays = days }
}

// WithMaxRecords caps the run table's size; prune trims to the most recent
// N rows by timestamp.
func WithMaxRecords(n int) Option {
	return func(l *Logger) { l.maxRecords = n }
}

// WithAutoPruneInterval triggers an in-lock prune every N inserts. Zero
// disables auto-prune.
func WithAutoPruneInterval(n int) Option {
	return func(l *Logger) { l.autoPruneInterval = n }
}

// WithLogger overrides the package's default stderr logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Logger) { l.log = logger }
}

// Open creates (or reuses) the audit database at path, owner-only
// permissions on the parent directory and the file, WAL journaling, and a
// single shared connection — the concurrency model the spec requires: one
// connection behind one mutex, not a pool.
func Open(path string, opts ...Option) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Logger{
		db:                db,
		path:              path,
		log:               zerolog.New(os.Stderr).With().Timestamp().Str("component", "audit").Logger(),
		autoPruneInterval: defaultAutoPruneInterval,
		retentionDays:     90,
		maxRecords:        100_000,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil {
		l.log.Warn().Err(err).Msg("failed to chmod audit db to 0600")
	}

	return l, nil
}

func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "busy_timeout=30000")
	v.Add("_pragma", "synchronous=NORMAL")
	return path + "?" + v.Encode()
}

func (l *Logger) init() error {
	statements := []string{createRunTable, createSecurityTable, createDelegateTable}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("create audit tables: %w", err)
		}
	}

	// Idempotent migration: add trigger columns to pre-existing databases.
	// ALTER TABLE fails harmlessly with "duplicate column name" once the
	// columns already exist; that error is swallowed on purpose.
	_, _ = l.db.Exec(`ALTER TABLE audit_log ADD COLUMN trigger_type TEXT`)
	_, _ = l.db.Exec(`ALTER TABLE audit_log ADD COLUMN trigger_metadata TEXT`)

	for _, idx := range append(append(append([]string{}, createRunIndexes...), createSecurityIndexes...), createDelegateIndexes...) {
		if _, err := l.db.Exec(idx); err != nil {
			return fmt.Errorf("create audit indexes: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// Log inserts a run audit record. Never returns an error to the caller —
// failures are logged and swallowed, per the audit logger's durability
// contract.
func (l *Logger) Log(rec Record) {
	userPrompt := scrubSecrets(rec.UserPrompt)
	output := scrubSecrets(rec.Output)
	errText := rec.Error
	if errText != "" {
		errText = scrubSecrets(errText)
	}

	l.insertLocked(
		`INSERT INTO audit_log (
			run_id, agent_name, timestamp, user_prompt, model, provider,
			output, tokens_in, tokens_out, total_tokens, tool_calls,
			duration_ms, success, error, trigger_type, trigger_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		[]any{
			rec.RunID, rec.AgentName, timestamp(rec.Timestamp), userPrompt, rec.Model, rec.Provider,
			output, rec.TokensIn, rec.TokensOut, rec.TotalTokens, rec.ToolCalls,
			rec.DurationMs, rec.Success, nullable(errText), nullable(rec.TriggerType), nullable(rec.TriggerMetadata),
		},
		"audit record",
		true,
	)
}

// LogSecurityEvent inserts a security_events row. ts is the time the event
// itself occurred, not when it happened to reach this call; a zero ts falls
// back to time.Now(). Never raises.
func (l *Logger) LogSecurityEvent(eventType, agentName, details, sourceIP string, ts time.Time) {
	l.insertLocked(
		`INSERT INTO security_events (timestamp, event_type, agent_name, details, source_ip) VALUES (?, ?, ?, ?, ?);`,
		[]any{timestamp(ts), eventType, agentName, scrubSecrets(details), nullable(sourceIP)},
		"security event",
		false,
	)
}

// LogDelegateEvent inserts a delegate_events row. reason and payloadPreview
// are scrubbed; payloadPreview is truncated to 200 characters first.
func (l *Logger) LogDelegateEvent(ev DelegateEvent) {
	preview := ev.PayloadPreview
	if len(preview) > 200 {
		preview = preview[:200]
	}
	preview = scrubSecrets(preview)
	reason := ev.Reason
	if reason != "" {
		reason = scrubSecrets(reason)
	}

	l.insertLocked(
		`INSERT INTO delegate_events (
			timestamp, source_service, target_service, status,
			source_run_id, reason, trace, payload_preview
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		[]any{timestamp(ev.Timestamp), ev.SourceService, ev.TargetService, string(ev.Status), ev.SourceRunID, nullable(reason), nullable(ev.Trace), preview},
		"delegate event",
		true,
	)
}

// insertLocked executes sql under the shared lock, commits are implicit
// (autocommit mode), and optionally advances the auto-prune counter.
// Errors are logged, never returned — this is the single choke point every
// write method above funnels through, matching the "never raises" contract.
func (l *Logger) insertLocked(query string, args []any, label string, countsTowardPrune bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(query, args...); err != nil {
		l.log.Error().Err(err).Str("kind", label).Msg("failed to write audit row")
		return
	}

	if !countsTowardPrune || l.autoPruneInterval <= 0 {
		return
	}
	l.insertCount++
	if l.insertCount%int64(l.autoPruneInterval) == 0 {
		l.pruneLocked(l.retentionDays, l.maxRecords)
	}
}

// Prune deletes rows older than retentionDays across all three tables, then
// trims audit_log to the most recent maxRecords rows. Returns the number of
// rows deleted. Safe to call at any time, concurrently with writes.
func (l *Logger) Prune(retentionDays, maxRecords int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(retentionDays, maxRecords)
}

func (l *Logger) pruneLocked(retentionDays, maxRecords int) int64 {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	var deleted int64

	for _, table := range []string{"audit_log", "security_events", "delegate_events"} {
		res, err := l.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
		if err != nil {
			l.log.Warn().Err(err).Str("table", table).Msg("prune delete failed")
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}

	res, err := l.db.Exec(
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY timestamp DESC LIMIT ?)`,
		maxRecords,
	)
	if err != nil {
		l.log.Warn().Err(err).Msg("prune trim failed")
	} else if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	return deleted
}

// Query returns run records matching filter, newest first.
func (l *Logger) Query(filter QueryFilter) ([]Record, error) {
	clauses, args := []string{}, []any{}
	if filter.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, filter.AgentName)
	}
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.TriggerType != "" {
		clauses = append(clauses, "trigger_type = ?")
		args = append(args, filter.TriggerType)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, timestamp(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, timestamp(filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := "SELECT id, run_id, agent_name, timestamp, user_prompt, model, provider, output, tokens_in, tokens_out, total_tokens, tool_calls, duration_ms, success, error, trigger_type, trigger_metadata FROM audit_log"
	query += whereClause(clauses) + " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	l.mu.Lock()
	rows, err := l.db.Query(query, args...)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		var errText, triggerType, triggerMeta sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.AgentName, &ts, &r.UserPrompt, &r.Model, &r.Provider,
			&r.Output, &r.TokensIn, &r.TokensOut, &r.TotalTokens, &r.ToolCalls, &r.DurationMs,
			&r.Success, &errText, &triggerType, &triggerMeta); err != nil {
			return nil, fmt.Errorf("scan audit_log row: %w", err)
		}
		r.Timestamp = parseTimestamp(ts)
		r.Error = errText.String
		r.TriggerType = triggerType.String
		r.TriggerMetadata = triggerMeta.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// QuerySecurityEvents returns security_events rows matching filter, newest first.
func (l *Logger) QuerySecurityEvents(filter SecurityQueryFilter) ([]SecurityEvent, error) {
	clauses, args := []string{}, []any{}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, filter.AgentName)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := "SELECT id, timestamp, event_type, agent_name, details, source_ip FROM security_events"
	query += whereClause(clauses) + " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	l.mu.Lock()
	rows, err := l.db.Query(query, args...)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query security_events: %w", err)
	}
	defer rows.Close()

	var out []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var ts string
		var sourceIP sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.EventType, &e.AgentName, &e.Details, &sourceIP); err != nil {
			return nil, fmt.Errorf("scan security_events row: %w", err)
		}
		e.Timestamp = parseTimestamp(ts)
		e.SourceIP = sourceIP.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryDelegateEvents returns delegate_events rows matching filter, newest first.
func (l *Logger) QueryDelegateEvents(filter DelegateQueryFilter) ([]DelegateEvent, error) {
	clauses, args := []string{}, []any{}
	if filter.SourceService != "" {
		clauses = append(clauses, "source_service = ?")
		args = append(args, filter.SourceService)
	}
	if filter.TargetService != "" {
		clauses = append(clauses, "target_service = ?")
		args = append(args, filter.TargetService)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SourceRunID != "" {
		clauses = append(clauses, "source_run_id = ?")
		args = append(args, filter.SourceRunID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, timestamp(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, timestamp(filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := "SELECT id, timestamp, source_service, target_service, status, source_run_id, reason, trace, payload_preview FROM delegate_events"
	query += whereClause(clauses) + " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	l.mu.Lock()
	rows, err := l.db.Query(query, args...)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query delegate_events: %w", err)
	}
	defer rows.Close()

	var out []DelegateEvent
	for rows.Next() {
		var e DelegateEvent
		var ts string
		var reason, trace sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.SourceService, &e.TargetService, &e.Status, &e.SourceRunID, &reason, &trace, &e.PayloadPreview); err != nil {
			return nil, fmt.Errorf("scan delegate_events row: %w", err)
		}
		e.Timestamp = parseTimestamp(ts)
		e.Reason = reason.String
		e.Trace = trace.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	out := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ExportJSON marshals records into the wire-compatible export shape, with
// trigger_metadata deserialized to an object where present.
func ExportJSON(records []Record) ([]byte, error) {
	type exported struct {
		RunID           string `json:"run_id"`
		AgentName       string `json:"agent_name"`
		Timestamp       string `json:"timestamp"`
		UserPrompt      string `json:"user_prompt"`
		Model           string `json:"model"`
		Provider        string `json:"provider"`
		Output          string `json:"output"`
		TokensIn        int    `json:"tokens_in"`
		TokensOut       int    `json:"tokens_out"`
		TotalTokens     int    `json:"total_tokens"`
		ToolCalls       int    `json:"tool_calls"`
		DurationMs      int64  `json:"duration_ms"`
		Success         bool   `json:"success"`
		Error           string `json:"error,omitempty"`
		TriggerType     string `json:"trigger_type,omitempty"`
		TriggerMetadata any    `json:"trigger_metadata,omitempty"`
	}

	out := make([]exported, 0, len(records))
	for _, r := range records {
		var meta any
		if r.TriggerMetadata != "" {
			_ = json.Unmarshal([]byte(r.TriggerMetadata), &meta)
		}
		out = append(out, exported{
			RunID: r.RunID, AgentName: r.AgentName, Timestamp: timestamp(r.Timestamp),
			UserPrompt: r.UserPrompt, Model: r.Model, Provider: r.Provider, Output: r.Output,
			TokensIn: r.TokensIn, TokensOut: r.TokensOut, TotalTokens: r.TotalTokens,
			ToolCalls: r.ToolCalls, DurationMs: r.DurationMs, Success: r.Success,
			Error: r.Error, TriggerType: r.TriggerType, TriggerMetadata: meta,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// CSVHeader is the stable export column order.
var CSVHeader = []string{
	"run_id", "agent_name", "timestamp", "user_prompt", "model", "provider",
	"output", "tokens_in", "tokens_out", "total_tokens", "tool_calls",
	"duration_ms", "success", "error", "trigger_type", "trigger_metadata",
}

// ExportCSVRow renders one record as a CSV row matching CSVHeader's order.
func ExportCSVRow(r Record) []string {
	return []string{
		r.RunID, r.AgentName, timestamp(r.Timestamp), r.UserPrompt, r.Model, r.Provider,
		r.Output, itoa(r.TokensIn), itoa(r.TokensOut), itoa(r.TotalTokens), itoa(r.ToolCalls),
		itoa64(r.DurationMs), boolStr(r.Success), r.Error, r.TriggerType, r.TriggerMetadata,
	}
}

func itoa(n int) string      { return fmt.Sprintf("%d", n) }
func itoa64(n int64) string  { return fmt.Sprintf("%d", n) }
func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
