package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetJourney returns the user's journey, or nil when none is stored.
func (db *DB) GetJourney(ctx context.Context, userID uuid.UUID) (*types.JourneyState, error) {
	return loadJourney(ctx, db.pool, userID, false)
}

// AdvanceStage moves the journey when adv allows it.
func (db *DB) AdvanceStage(ctx context.Context, userID uuid.UUID, adv store.Advance) (*types.JourneyState, error) {
	var out *types.JourneyState
	err := db.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		next, err := db.applyAdvance(ctx, tx, userID, &adv)
		out = next
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveProfile upserts the profile and applies adv in the same transaction.
func (db *DB) SaveProfile(ctx context.Context, userID uuid.UUID, profile *types.Profile, adv *store.Advance) (*types.JourneyState, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	var out *types.JourneyState
	err = db.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		next, err := db.applyAdvance(ctx, tx, userID, adv)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO user_profiles (user_id, profile, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO UPDATE SET profile = $2, updated_at = $3`,
			userID, body, db.now(),
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

// GetProfile returns the stored profile, or nil.
func (db *DB) GetProfile(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	var body []byte
	err := db.pool.QueryRow(ctx,
		`SELECT profile FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&body)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var p types.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// applyAdvance loads the journey inside tx, applies adv and persists the
// result. A nil adv still materializes the initial journey row.
func (db *DB) applyAdvance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, adv *store.Advance) (*types.JourneyState, error) {
	now := db.now()
	state, err := loadJourney(ctx, tx, userID, true)
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
	if err := saveJourney(ctx, tx, state, persisted); err != nil {
		return nil, err
	}
	return state, nil
}

func loadJourney(ctx context.Context, q querier, userID uuid.UUID, forUpdate bool) (*types.JourneyState, error) {
	query := `SELECT current_stage, selected_path, updated_at FROM journeys WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var stage string
	var path []byte
	state := &types.JourneyState{UserID: userID}
	err := q.QueryRow(ctx, query, userID).Scan(&stage, &path, &state.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}
	if state.CurrentStage, err = types.ParseStage(stage); err != nil {
		return nil, fmt.Errorf("journey %s: %w", userID, err)
	}
	if len(path) > 0 {
		var p types.CareerPath
		if err := json.Unmarshal(path, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected path: %w", err)
		}
		state.SelectedPath = &p
	}

	rows, err := q.Query(ctx,
		`SELECT stage, action, entered_at FROM journey_stage_history
		 WHERE user_id = $1 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry types.StageEntry
		var name string
		if err := rows.Scan(&name, &entry.Action, &entry.EnteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage history: %w", err)
		}
		if entry.Stage, err = types.ParseStage(name); err != nil {
			return nil, fmt.Errorf("journey %s history: %w", userID, err)
		}
		state.StageHistory = append(state.StageHistory, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage history: %w", err)
	}
	return state, nil
}

// saveJourney upserts the journey row and appends history entries from
// index persisted onward.
func saveJourney(ctx context.Context, tx pgx.Tx, state *types.JourneyState, persisted int) error {
	var path []byte
	if state.SelectedPath != nil {
		var err error
		if path, err = json.Marshal(state.SelectedPath); err != nil {
			return fmt.Errorf("failed to marshal selected path: %w", err)
		}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO journeys (user_id, current_stage, selected_path, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET current_stage = $2, selected_path = $3, updated_at = $4`,
		state.UserID, state.CurrentStage.String(), path, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}

	for i := persisted; i < len(state.StageHistory); i++ {
		entry := state.StageHistory[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO journey_stage_history (user_id, seq, stage, action, entered_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			state.UserID, i, entry.Stage.String(), entry.Action, entry.EnteredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append stage history: %w", err)
		}
	}
	return nil
}
