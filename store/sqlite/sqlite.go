// Package sqlite implements store.SessionStore using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crucible-edu/crucible/model"
)

// Store manages session, turn, and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			subject_id     TEXT NOT NULL,
			mode           TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'active',
			participant_hp INTEGER NOT NULL DEFAULT 0,
			judge_hp       INTEGER NOT NULL DEFAULT 0,
			created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			closed_at      DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_subject_id
			ON sessions(subject_id);

		CREATE TABLE IF NOT EXISTS turns (
			session_id         TEXT NOT NULL,
			idx                INTEGER NOT NULL,
			prompt             TEXT NOT NULL,
			response           TEXT NOT NULL DEFAULT '',
			resolved           INTEGER NOT NULL DEFAULT 0,
			score              INTEGER NOT NULL DEFAULT 0,
			participant_damage INTEGER NOT NULL DEFAULT 0,
			judge_damage       INTEGER NOT NULL DEFAULT 0,
			feedback           TEXT NOT NULL DEFAULT '',
			asked_at           DATETIME NOT NULL,
			resolved_at        DATETIME,
			PRIMARY KEY (session_id, idx),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS session_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_id
			ON session_events(session_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(sess *model.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, subject_id, mode, status, participant_hp, judge_hp, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SubjectID, sess.Mode, sess.Status,
		sess.ParticipantHP, sess.JudgeHP, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// UpdateSession updates the mutable fields of a session.
func (s *Store) UpdateSession(sess *model.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	var closedAt any
	if sess.ClosedAt != nil {
		closedAt = *sess.ClosedAt
	}
	_, err := s.db.Exec(
		`UPDATE sessions SET
			status = ?, participant_hp = ?, judge_hp = ?, updated_at = ?, closed_at = ?
		 WHERE id = ?`,
		sess.Status, sess.ParticipantHP, sess.JudgeHP, sess.UpdatedAt, closedAt, sess.ID,
	)
	return err
}

// GetSession retrieves a session with its full turn history.
func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, subject_id, mode, status, participant_hp, judge_hp, created_at, updated_at, closed_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %q", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	turns, err := s.getTurns(id)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	return sess, nil
}

// ListSessions returns all sessions ordered by creation time (newest first),
// without turn history.
func (s *Store) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, subject_id, mode, status, participant_hp, judge_hp, created_at, updated_at, closed_at
		 FROM sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveTurn upserts one turn keyed by (session, index).
func (s *Store) SaveTurn(sessionID string, turn *model.Turn) error {
	var (
		resolved                int
		score, pDamage, jDamage int
		feedback                string
		resolvedAt              any
	)
	if turn.Verdict != nil {
		resolved = 1
		score = turn.Verdict.Score
		pDamage = turn.Verdict.ParticipantDamage
		jDamage = turn.Verdict.JudgeDamage
		feedback = turn.Verdict.Feedback
	}
	if turn.ResolvedAt != nil {
		resolvedAt = *turn.ResolvedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, idx, prompt, response, resolved, score,
		                    participant_damage, judge_damage, feedback, asked_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, idx) DO UPDATE SET
			response = excluded.response,
			resolved = excluded.resolved,
			score = excluded.score,
			participant_damage = excluded.participant_damage,
			judge_damage = excluded.judge_damage,
			feedback = excluded.feedback,
			resolved_at = excluded.resolved_at`,
		sessionID, turn.Index, turn.Prompt, turn.Response, resolved, score,
		pDamage, jDamage, feedback, turn.AskedAt, resolvedAt,
	)
	return err
}

func (s *Store) getTurns(sessionID string) ([]model.Turn, error) {
	rows, err := s.db.Query(
		`SELECT idx, prompt, response, resolved, score, participant_damage,
		        judge_damage, feedback, asked_at, resolved_at
		 FROM turns WHERE session_id = ? ORDER BY idx ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var (
			t          model.Turn
			resolved   int
			score      int
			pDamage    int
			jDamage    int
			feedback   string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&t.Index, &t.Prompt, &t.Response, &resolved, &score,
			&pDamage, &jDamage, &feedback, &t.AskedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolved == 1 {
			t.Verdict = &model.Verdict{
				Score:             score,
				ParticipantDamage: pDamage,
				JudgeDamage:       jDamage,
				Feedback:          feedback,
			}
		}
		if resolvedAt.Valid {
			ts := resolvedAt.Time
			t.ResolvedAt = &ts
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AddEvent inserts a new event and returns its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO session_events (session_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.SessionID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a session, optionally after a given event ID.
func (s *Store) GetEvents(sessionID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, type, data, created_at
		 FROM session_events
		 WHERE session_id = ? AND id > ?
		 ORDER BY id ASC`,
		sessionID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	sess := &model.Session{}
	var closedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.SubjectID, &sess.Mode, &sess.Status,
		&sess.ParticipantHP, &sess.JudgeHP,
		&sess.CreatedAt, &sess.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		ts := closedAt.Time
		sess.ClosedAt = &ts
	}
	return sess, nil
}
