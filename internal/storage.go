package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal records enrollment sessions, their transcripts and chunk upload
// outcomes in the local SQLite database
type Journal struct {
	db   *sql.DB
	path string
}

// NewJournal wraps an open database
func NewJournal(db *sql.DB, path string) *Journal {
	return &Journal{db: db, path: path}
}

// OpenJournal opens the journal database at path
func OpenJournal(path string) (*Journal, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	return NewJournal(db, path), nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database location
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) writeErr(err error) error {
	return &JournalError{Op: "write", Path: j.path, Err: err}
}

func (j *Journal) readErr(err error) error {
	return &JournalError{Op: "read", Path: j.path, Err: err}
}

// RecordSessionStart inserts a newly started session
func (j *Journal) RecordSessionStart(s *Session) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, user_id, topic, state, elapsed_seconds, chunks_accepted, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Topic, string(s.State), s.ElapsedSeconds, s.ChunksAccepted, s.StartedAt.UnixMilli(),
	)
	if err != nil {
		return j.writeErr(err)
	}
	return nil
}

// UpdateSessionState records a state transition. A non-nil endedAt closes
// the session.
func (j *Journal) UpdateSessionState(id string, state State, endedAt *time.Time) error {
	var ended sql.NullInt64
	if endedAt != nil {
		ended = sql.NullInt64{Int64: endedAt.UnixMilli(), Valid: true}
	}
	_, err := j.db.Exec(
		`UPDATE sessions SET state = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
		string(state), ended, id,
	)
	if err != nil {
		return j.writeErr(err)
	}
	return nil
}

// UpdateElapsed records the session's active time
func (j *Journal) UpdateElapsed(id string, elapsed int) error {
	if _, err := j.db.Exec(`UPDATE sessions SET elapsed_seconds = ? WHERE id = ?`, elapsed, id); err != nil {
		return j.writeErr(err)
	}
	return nil
}

// AppendTurn appends a transcript turn; insertion order is transcript order
func (j *Journal) AppendTurn(sessionID string, turn Turn) error {
	_, err := j.db.Exec(
		`INSERT INTO turns (session_id, role, content, inserted_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(turn.Role), turn.Content, turn.InsertedAt.UnixMilli(),
	)
	if err != nil {
		return j.writeErr(err)
	}
	return nil
}

// RecordChunk logs one chunk upload outcome and keeps the session's
// accepted counter in step
func (j *Journal) RecordChunk(sessionID string, seq, rawSize int, accepted bool, at time.Time) error {
	tx, err := j.db.Begin()
	if err != nil {
		return j.writeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO chunks (id, session_id, sequence, raw_size, accepted, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, seq, rawSize, boolToInt(accepted), at.UnixMilli(),
	); err != nil {
		return j.writeErr(err)
	}
	if accepted {
		if _, err := tx.Exec(`UPDATE sessions SET chunks_accepted = chunks_accepted + 1 WHERE id = ?`, sessionID); err != nil {
			return j.writeErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return j.writeErr(err)
	}
	return nil
}

// ChunkStats returns how many chunks were uploaded for a session, how many
// the service accepted, and the raw bytes they carried
func (j *Journal) ChunkStats(sessionID string) (total, accepted, rawBytes int, err error) {
	row := j.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(accepted), 0), COALESCE(SUM(raw_size), 0) FROM chunks WHERE session_id = ?`,
		sessionID,
	)
	if err := row.Scan(&total, &accepted, &rawBytes); err != nil {
		return 0, 0, 0, j.readErr(err)
	}
	return total, accepted, rawBytes, nil
}

// ListSessions returns all sessions, newest first, without transcripts
func (j *Journal) ListSessions() ([]*Session, error) {
	rows, err := j.db.Query(
		`SELECT id, user_id, topic, state, elapsed_seconds, chunks_accepted, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, j.readErr(fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, j.readErr(fmt.Errorf("scan failed: %w", err))
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, j.readErr(fmt.Errorf("rows iteration error: %w", err))
	}
	return sessions, nil
}

// LoadSession returns one session with its transcript
func (j *Journal) LoadSession(id string) (*Session, error) {
	row := j.db.QueryRow(
		`SELECT id, user_id, topic, state, elapsed_seconds, chunks_accepted, started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, j.readErr(err)
	}

	rows, err := j.db.Query(
		`SELECT role, content, inserted_at FROM turns WHERE session_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, j.readErr(fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	s.Turns = make([]Turn, 0)
	for rows.Next() {
		var role, content string
		var insertedAt int64
		if err := rows.Scan(&role, &content, &insertedAt); err != nil {
			return nil, j.readErr(fmt.Errorf("scan failed: %w", err))
		}
		s.Turns = append(s.Turns, Turn{Role: Role(role), Content: content, InsertedAt: time.UnixMilli(insertedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, j.readErr(fmt.Errorf("rows iteration error: %w", err))
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var s Session
	var state string
	var startedAt int64
	var endedAt sql.NullInt64
	if err := r.Scan(&s.ID, &s.UserID, &s.Topic, &state, &s.ElapsedSeconds, &s.ChunksAccepted, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	s.State = State(state)
	s.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JournalRecorder is an EventSink that mirrors controller events into the
// journal. Write failures are logged and never reach the session.
type JournalRecorder struct {
	journal *Journal

	mu      sync.Mutex
	started map[string]bool
}

// NewJournalRecorder creates a recorder writing to j
func NewJournalRecorder(j *Journal) *JournalRecorder {
	return &JournalRecorder{journal: j, started: make(map[string]bool)}
}

// Emit implements EventSink
func (r *JournalRecorder) Emit(e Event) {
	if e.SessionID == "" {
		return
	}

	var err error
	switch e.Type {
	case EventStateChanged:
		err = r.recordState(e)
	case EventTurnAppended:
		if e.Turn != nil && r.isStarted(e.SessionID) {
			err = r.journal.AppendTurn(e.SessionID, *e.Turn)
		}
	case EventElapsedTick:
		if r.isStarted(e.SessionID) {
			err = r.journal.UpdateElapsed(e.SessionID, e.Elapsed)
		}
	case EventChunkUploaded:
		if r.isStarted(e.SessionID) {
			err = r.journal.RecordChunk(e.SessionID, e.ChunkSequence, e.ChunkSize, e.ChunkAccepted, e.At)
		}
	}
	if err != nil {
		LogWarn("Failed to journal %s for session %s: %v", e.Type, e.SessionID, err)
	}
}

func (r *JournalRecorder) isStarted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started[id]
}

func (r *JournalRecorder) recordState(e Event) error {
	r.mu.Lock()
	first := !r.started[e.SessionID]
	r.started[e.SessionID] = true
	r.mu.Unlock()

	if first {
		return r.journal.RecordSessionStart(&Session{
			ID:        e.SessionID,
			UserID:    e.UserID,
			Topic:     e.Topic,
			State:     e.State,
			StartedAt: e.At,
		})
	}

	var endedAt *time.Time
	if e.State == StateTerminated {
		at := e.At
		endedAt = &at
	}
	return r.journal.UpdateSessionState(e.SessionID, e.State, endedAt)
}
