package roleload

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"initrunner/internal/composerun"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role_name TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

// SQLiteMemoryPruner implements composerun.MemoryPruner by trimming a role's
// session table in its own (or shared) SQLite memory store down to the
// most recent maxSessions rows. The memory store's own schema (messages,
// embeddings, whatever the agent-loading collaborator needs) is out of this
// orchestrator's scope; only the session bookkeeping rows it shares with
// the pruning contract live here.
type SQLiteMemoryPruner struct {
	storePath string
	log       zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteMemoryPruner builds a pruner over storePath. The database file
// and sessions table are created lazily, on first PruneSessions call.
func NewSQLiteMemoryPruner(storePath string, log zerolog.Logger) *SQLiteMemoryPruner {
	return &SQLiteMemoryPruner{storePath: storePath, log: log}
}

func (p *SQLiteMemoryPruner) open() (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return p.db, nil
	}
	if p.storePath == "" {
		return nil, fmt.Errorf("memory pruner: empty store path")
	}
	if err := os.MkdirAll(filepath.Dir(p.storePath), 0o755); err != nil {
		return nil, fmt.Errorf("create memory store dir: %w", err)
	}

	db, err := sql.Open("sqlite", p.storePath)
	if err != nil {
		return nil, fmt.Errorf("open memory store %s: %w", p.storePath, err)
	}
	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory store schema: %w", err)
	}
	p.db = db
	return db, nil
}

// PruneSessions deletes every session row for roleName beyond the
// maxSessions most recent. maxSessions<=0 disables pruning.
func (p *SQLiteMemoryPruner) PruneSessions(roleName string, maxSessions int) error {
	if maxSessions <= 0 {
		return nil
	}

	db, err := p.open()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		DELETE FROM sessions
		WHERE role_name = ? AND id NOT IN (
			SELECT id FROM sessions WHERE role_name = ?
			ORDER BY id DESC LIMIT ?
		)`, roleName, roleName, maxSessions)
	if err != nil {
		return fmt.Errorf("prune sessions for %s: %w", roleName, err)
	}
	return nil
}

var _ composerun.MemoryPruner = (*SQLiteMemoryPruner)(nil)
