package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/niyambadha/watchd/internal/domain"
)

const docDBName = "documents.db"

// DocStore backs the API service with user documents, redirect records
// and feedback, all in one SQLCipher encrypted SQLite database. It
// implements domain.UserStore, domain.RedirectStore and
// domain.FeedbackStore.
type DocStore struct {
	db *sql.DB
}

// NewDocStore opens (or creates) the encrypted document database.
func NewDocStore(dataDir string, key []byte) (*DocStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, docDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	ds := &DocStore{db: db}
	if err := ds.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return ds, nil
}

func (s *DocStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		blocked_domains TEXT NOT NULL DEFAULT '[]',
		settings TEXT NOT NULL DEFAULT '{}',
		last_blocked_domain TEXT NOT NULL DEFAULT '',
		last_blocked_at INTEGER,
		block_history TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS redirects (
		uid TEXT NOT NULL,
		domain TEXT NOT NULL,
		redirect_count INTEGER NOT NULL,
		first_redirect_at INTEGER NOT NULL,
		last_redirect_at INTEGER NOT NULL,
		puzzle_solved_at INTEGER,
		watch_time_minutes REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (uid, domain)
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		rating INTEGER,
		reason TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.UserStore implementation ---

// Get returns the user document, or nil if the user doesn't exist.
func (s *DocStore) Get(ctx context.Context, uid string) (*domain.UserDocument, error) {
	var (
		domainsJSON  string
		settingsJSON string
		historyJSON  string
		lastBlocked  string
		lastAt       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT blocked_domains, settings, last_blocked_domain, last_blocked_at, block_history
		FROM users WHERE uid = ?`, uid).
		Scan(&domainsJSON, &settingsJSON, &lastBlocked, &lastAt, &historyJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc := &domain.UserDocument{UID: uid, LastBlockedDomain: lastBlocked}
	if err := json.Unmarshal([]byte(domainsJSON), &doc.BlockedDomains); err != nil {
		return nil, fmt.Errorf("decode blocked domains for %s: %w", uid, err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &doc.Settings); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", uid, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &doc.BlockHistory); err != nil {
		return nil, fmt.Errorf("decode block history for %s: %w", uid, err)
	}
	if lastAt.Valid {
		t := time.Unix(lastAt.Int64, 0).UTC()
		doc.LastBlockedAt = &t
	}
	return doc, nil
}

// Put creates or replaces the user document.
func (s *DocStore) Put(ctx context.Context, doc *domain.UserDocument) error {
	domains := doc.BlockedDomains
	if domains == nil {
		domains = []string{}
	}
	domainsJSON, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	settingsJSON, err := json.Marshal(doc.Settings)
	if err != nil {
		return err
	}
	history := doc.BlockHistory
	if history == nil {
		history = []domain.BlockHistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}

	var lastAt interface{}
	if doc.LastBlockedAt != nil {
		lastAt = doc.LastBlockedAt.Unix()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users
			(uid, blocked_domains, settings, last_blocked_domain, last_blocked_at, block_history)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.UID, string(domainsJSON), string(settingsJSON),
		doc.LastBlockedDomain, lastAt, string(historyJSON),
	)
	return err
}

// MergeWatchTime updates only settings.watchTimeMinutes, creating the
// user document if it doesn't exist yet.
func (s *DocStore) MergeWatchTime(ctx context.Context, uid string, minutes float64) error {
	doc, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &domain.UserDocument{UID: uid}
	}
	doc.Settings.WatchTimeMinutes = &minutes
	return s.Put(ctx, doc)
}

// RecordBlock updates lastBlockedDomain/lastBlockedAt and appends to the
// block history.
func (s *DocStore) RecordBlock(ctx context.Context, uid, d string, at time.Time) error {
	doc, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &domain.UserDocument{UID: uid}
	}
	doc.LastBlockedDomain = d
	doc.LastBlockedAt = &at
	doc.BlockHistory = append(doc.BlockHistory, domain.BlockHistoryEntry{Domain: d, Time: at})
	return s.Put(ctx, doc)
}

// --- domain.RedirectStore implementation ---

// GetRedirect returns the record for (uid, domain), or nil if none exists.
func (s *DocStore) GetRedirect(ctx context.Context, uid, d string) (*domain.RedirectRecord, error) {
	var (
		rec      domain.RedirectRecord
		firstAt  int64
		lastAt   int64
		solvedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT redirect_count, first_redirect_at, last_redirect_at, puzzle_solved_at, watch_time_minutes
		FROM redirects WHERE uid = ? AND domain = ?`, uid, d).
		Scan(&rec.RedirectCount, &firstAt, &lastAt, &solvedAt, &rec.WatchTimeMinutes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.UID = uid
	rec.Domain = d
	rec.FirstRedirectAt = time.Unix(firstAt, 0).UTC()
	rec.LastRedirectAt = time.Unix(lastAt, 0).UTC()
	if solvedAt.Valid {
		t := time.Unix(solvedAt.Int64, 0).UTC()
		rec.PuzzleSolvedAt = &t
	}
	return &rec, nil
}

// PutRedirect creates or replaces a redirect record.
func (s *DocStore) PutRedirect(ctx context.Context, rec *domain.RedirectRecord) error {
	var solvedAt interface{}
	if rec.PuzzleSolvedAt != nil {
		solvedAt = rec.PuzzleSolvedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO redirects
			(uid, domain, redirect_count, first_redirect_at, last_redirect_at, puzzle_solved_at, watch_time_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UID, rec.Domain, rec.RedirectCount,
		rec.FirstRedirectAt.Unix(), rec.LastRedirectAt.Unix(),
		solvedAt, rec.WatchTimeMinutes,
	)
	return err
}

// Increment bumps redirectCount and lastRedirectAt on an existing record.
func (s *DocStore) Increment(ctx context.Context, uid, d string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE redirects SET redirect_count = redirect_count + 1, last_redirect_at = ?
		WHERE uid = ? AND domain = ?`,
		at.Unix(), uid, d)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("redirect record (%s, %s) not found", uid, d)
	}
	return nil
}

// MarkSolved sets puzzleSolvedAt and the allowance snapshot.
func (s *DocStore) MarkSolved(ctx context.Context, uid, d string, at time.Time, watchTimeMinutes float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE redirects SET puzzle_solved_at = ?, watch_time_minutes = ?
		WHERE uid = ? AND domain = ?`,
		at.Unix(), watchTimeMinutes, uid, d)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("redirect record (%s, %s) not found", uid, d)
	}
	return nil
}

// --- domain.FeedbackStore implementation ---

// Add persists a feedback submission.
func (s *DocStore) Add(ctx context.Context, fb *domain.Feedback) error {
	var rating interface{}
	if fb.Rating != nil {
		rating = *fb.Rating
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, rating, reason, details, email, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, rating, fb.Reason, fb.Details, fb.Email, fb.Source, fb.CreatedAt.Unix(),
	)
	return err
}

// Close releases the database connection.
func (s *DocStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RedirectStore exposes the redirects table under the
// domain.RedirectStore method set. The Get/Put names clash with the
// user table's, so the redirect view is a separate value.
func (s *DocStore) RedirectStore() domain.RedirectStore {
	return redirectView{s}
}

type redirectView struct {
	s *DocStore
}

func (v redirectView) Get(ctx context.Context, uid, d string) (*domain.RedirectRecord, error) {
	return v.s.GetRedirect(ctx, uid, d)
}

func (v redirectView) Put(ctx context.Context, rec *domain.RedirectRecord) error {
	return v.s.PutRedirect(ctx, rec)
}

func (v redirectView) Increment(ctx context.Context, uid, d string, at time.Time) error {
	return v.s.Increment(ctx, uid, d, at)
}

func (v redirectView) MarkSolved(ctx context.Context, uid, d string, at time.Time, watchTimeMinutes float64) error {
	return v.s.MarkSolved(ctx, uid, d, at, watchTimeMinutes)
}

var _ domain.UserStore = (*DocStore)(nil)
var _ domain.FeedbackStore = (*DocStore)(nil)
var _ domain.RedirectStore = redirectView{}
