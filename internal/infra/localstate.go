package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/niyambadha/watchd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const stateDBName = "state.db"

// LocalState implements domain.IdentityStore and domain.DaemonRegistry
// using a SQLCipher encrypted SQLite database. It holds the connected
// user identity and the running daemon record.
type LocalState struct {
	db     *sql.DB
	dbPath string
}

// NewLocalState opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewLocalState(dataDir string, key []byte) (*LocalState, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	st := &LocalState{db: db, dbPath: dbPath}
	if err := st.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

func (s *LocalState) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		uid TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		connected_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daemon_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.IdentityStore implementation ---

// SaveIdentity stores the connected user identity, replacing any prior one.
func (s *LocalState) SaveIdentity(id domain.Identity) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO identity (id, uid, email, connected_at)
		VALUES (1, ?, ?, ?)`,
		id.UID, id.Email, now,
	)
	return err
}

// LoadIdentity returns the stored identity, or nil if none saved yet.
func (s *LocalState) LoadIdentity() (*domain.Identity, error) {
	var id domain.Identity
	err := s.db.QueryRow(`SELECT uid, email FROM identity WHERE id = 1`).
		Scan(&id.UID, &id.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// --- domain.DaemonRegistry implementation ---

// Register saves the current daemon's PID and start time.
func (s *LocalState) Register(state domain.DaemonState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_state (id, pid, started_at, last_heartbeat, app_version)
		VALUES (1, ?, ?, ?, ?)`,
		state.PID, state.StartedAt.Unix(), time.Now().Unix(), state.AppVersion,
	)
	return err
}

// UpdateHeartbeat updates the timestamp for liveness checks.
func (s *LocalState) UpdateHeartbeat() error {
	result, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE id = 1`,
		time.Now().Unix())
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("daemon not registered")
	}
	return nil
}

// Get returns the last registered daemon state, or nil if never registered.
func (s *LocalState) Get() (*domain.DaemonState, error) {
	var state domain.DaemonState
	var startedAt int64
	err := s.db.QueryRow(`SELECT pid, started_at, last_heartbeat, app_version FROM daemon_state WHERE id = 1`).
		Scan(&state.PID, &startedAt, &state.LastHeartbeat, &state.AppVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.StartedAt = time.Unix(startedAt, 0)
	return &state, nil
}

// Clear removes the daemon record (for clean restart).
func (s *LocalState) Clear() error {
	_, err := s.db.Exec(`DELETE FROM daemon_state`)
	return err
}

// GetStatePath returns the database file path.
func (s *LocalState) GetStatePath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *LocalState) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure LocalState implements both interfaces.
var _ domain.IdentityStore = (*LocalState)(nil)
var _ domain.DaemonRegistry = (*LocalState)(nil)
