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

const artifactColumns = `id, user_id, artifact_type, version, payload, input_fingerprint,
	generated_at, superseded_at, invalidated_at`

// GetArtifact returns the current artifact, or nil when the latest version
// is missing or invalidated.
func (db *DB) GetArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	a, err := scanArtifact(db.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM generated_artifacts
		 WHERE user_id = $1 AND artifact_type = $2
		 ORDER BY version DESC LIMIT 1`,
		userID, string(t),
	))
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", t, err)
	}
	if !a.Current() {
		return nil, nil
	}
	return a, nil
}

// PutArtifact inserts the next version and supersedes the previous one. adv,
// when set, is applied to the journey in the same transaction.
func (db *DB) PutArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType, payload json.RawMessage, fingerprint string, adv *store.Advance) (*types.Artifact, error) {
	var out *types.Artifact
	err := db.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		if adv != nil {
			if _, err := db.applyAdvance(ctx, tx, userID, adv); err != nil {
				return err
			}
		}

		now := db.now()
		var version int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM generated_artifacts
			 WHERE user_id = $1 AND artifact_type = $2`,
			userID, string(t),
		).Scan(&version)
		if err != nil {
			return fmt.Errorf("failed to read artifact version: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE generated_artifacts SET superseded_at = $3
			 WHERE user_id = $1 AND artifact_type = $2 AND superseded_at IS NULL`,
			userID, string(t), now,
		)
		if err != nil {
			return fmt.Errorf("failed to supersede artifact %s: %w", t, err)
		}

		a, err := scanArtifact(tx.QueryRow(ctx,
			`INSERT INTO generated_artifacts
			   (id, user_id, artifact_type, version, payload, input_fingerprint, generated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+artifactColumns,
			uuid.New(), userID, string(t), version+1, []byte(payload), fingerprint, now,
		))
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", t, err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvalidateArtifact marks the latest version invalidated.
func (db *DB) InvalidateArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) error {
	return db.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE generated_artifacts SET invalidated_at = $3
			 WHERE user_id = $1 AND artifact_type = $2 AND invalidated_at IS NULL
			   AND version = (SELECT MAX(version) FROM generated_artifacts
			                  WHERE user_id = $1 AND artifact_type = $2)`,
			userID, string(t), db.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to invalidate artifact %s: %w", t, err)
		}
		return nil
	})
}

// ListArtifactVersions returns all versions, newest first.
func (db *DB) ListArtifactVersions(ctx context.Context, userID uuid.UUID, t types.ArtifactType) ([]types.Artifact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM generated_artifacts
		 WHERE user_id = $1 AND artifact_type = $2
		 ORDER BY version DESC`,
		userID, string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts %s: %w", t, err)
	}
	defer rows.Close()

	artifacts := []types.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return artifacts, nil
}

func scanArtifact(row pgx.Row) (*types.Artifact, error) {
	var a types.Artifact
	var typ string
	var payload []byte
	err := row.Scan(&a.ID, &a.UserID, &typ, &a.Version, &payload, &a.InputFingerprint,
		&a.GeneratedAt, &a.SupersededAt, &a.InvalidatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = types.ArtifactType(typ)
	a.Payload = json.RawMessage(payload)
	return &a, nil
}
