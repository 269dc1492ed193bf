// Package sqlitedb is a single-file SQLite store for local runs and the CLI.
// It shares the transactional semantics of the PostgreSQL store; writes are
// serialized through a single connection.
package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

var _ store.Store = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS journeys (
		user_id TEXT PRIMARY KEY,
		current_stage TEXT NOT NULL,
		selected_path TEXT,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS journey_stage_history (
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		entered_at TEXT NOT NULL,
		PRIMARY KEY (user_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS generated_artifacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		input_fingerprint TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		superseded_at TEXT,
		invalidated_at TEXT,
		UNIQUE (user_id, artifact_type, version)
	);`,
}

// Store persists journeys and artifacts in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) GetJourney(ctx context.Context, userID uuid.UUID) (*types.JourneyState, error) {
	return loadJourney(ctx, s.db, userID)
}

func (s *Store) AdvanceStage(ctx context.Context, userID uuid.UUID, adv store.Advance) (*types.JourneyState, error) {
	var out *types.JourneyState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		next, err := s.applyAdvance(ctx, tx, userID, &adv)
		out = next
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveProfile(ctx context.Context, userID uuid.UUID, profile *types.Profile, adv *store.Advance) (*types.JourneyState, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	var out *types.JourneyState
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		next, err := s.applyAdvance(ctx, tx, userID, adv)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_profiles (user_id, profile, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (user_id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
			userID.String(), string(body), formatTime(s.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile FROM user_profiles WHERE user_id = ?`, userID.String(),
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	var p types.Profile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

func (s *Store) applyAdvance(ctx context.Context, tx *sql.Tx, userID uuid.UUID, adv *store.Advance) (*types.JourneyState, error) {
	now := s.now()
	state, err := loadJourney(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	persisted := 0
	if state == nil {
		state = types.NewJourneyState(userID, now)
	} else {
		persisted = len(state.StageHistory)
	}
	if adv != nil {
		if _, err := adv.Apply(state, now); err != nil {
			return nil, err
		}
	}

	var path sql.NullString
	if state.SelectedPath != nil {
		body, err := json.Marshal(state.SelectedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal selected path: %w", err)
		}
		path = sql.NullString{String: string(body), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO journeys (user_id, current_stage, selected_path, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET current_stage = excluded.current_stage,
		   selected_path = excluded.selected_path, updated_at = excluded.updated_at`,
		userID.String(), state.CurrentStage.String(), path, formatTime(state.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}
	for i := persisted; i < len(state.StageHistory); i++ {
		entry := state.StageHistory[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO journey_stage_history (user_id, seq, stage, action, entered_at) VALUES (?, ?, ?, ?, ?)`,
			userID.String(), i, entry.Stage.String(), entry.Action, formatTime(entry.EnteredAt),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to append stage history: %w", err)
		}
	}
	return state, nil
}

func loadJourney(ctx context.Context, q queryer, userID uuid.UUID) (*types.JourneyState, error) {
	var stage, updated string
	var path sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT current_stage, selected_path, updated_at FROM journeys WHERE user_id = ?`, userID.String(),
	).Scan(&stage, &path, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}

	state := &types.JourneyState{UserID: userID}
	if state.CurrentStage, err = types.ParseStage(stage); err != nil {
		return nil, err
	}
	if state.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if path.Valid {
		var p types.CareerPath
		if err := json.Unmarshal([]byte(path.String), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected path: %w", err)
		}
		state.SelectedPath = &p
	}

	rows, err := q.QueryContext(ctx,
		`SELECT stage, action, entered_at FROM journey_stage_history WHERE user_id = ? ORDER BY seq`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, action, entered string
		if err := rows.Scan(&name, &action, &entered); err != nil {
			return nil, fmt.Errorf("failed to scan stage history: %w", err)
		}
		entry := types.StageEntry{Action: action}
		if entry.Stage, err = types.ParseStage(name); err != nil {
			return nil, err
		}
		if entry.EnteredAt, err = parseTime(entered); err != nil {
			return nil, err
		}
		state.StageHistory = append(state.StageHistory, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage history: %w", err)
	}
	return state, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
