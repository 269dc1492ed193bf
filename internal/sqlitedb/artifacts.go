package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

const artifactColumns = `id, user_id, artifact_type, version, payload, input_fingerprint,
	generated_at, superseded_at, invalidated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) GetArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	a, err := scanArtifact(s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM generated_artifacts
		 WHERE user_id = ? AND artifact_type = ? ORDER BY version DESC LIMIT 1`,
		userID.String(), string(t),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", t, err)
	}
	if !a.Current() {
		return nil, nil
	}
	return a, nil
}

func (s *Store) PutArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType, payload json.RawMessage, fingerprint string, adv *store.Advance) (*types.Artifact, error) {
	var out *types.Artifact
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if adv != nil {
			if _, err := s.applyAdvance(ctx, tx, userID, adv); err != nil {
				return err
			}
		}

		now := s.now()
		var version int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM generated_artifacts WHERE user_id = ? AND artifact_type = ?`,
			userID.String(), string(t),
		).Scan(&version)
		if err != nil {
			return fmt.Errorf("failed to read artifact version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE generated_artifacts SET superseded_at = ?
			 WHERE user_id = ? AND artifact_type = ? AND superseded_at IS NULL`,
			formatTime(now), userID.String(), string(t),
		)
		if err != nil {
			return fmt.Errorf("failed to supersede artifact %s: %w", t, err)
		}

		a := &types.Artifact{
			ID:               uuid.New(),
			UserID:           userID,
			Type:             t,
			Payload:          append(json.RawMessage(nil), payload...),
			InputFingerprint: fingerprint,
			GeneratedAt:      now,
			Version:          version + 1,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO generated_artifacts
			   (id, user_id, artifact_type, version, payload, input_fingerprint, generated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), userID.String(), string(t), a.Version, string(payload), fingerprint, formatTime(now),
		)
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

func (s *Store) InvalidateArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE generated_artifacts SET invalidated_at = ?
		 WHERE user_id = ? AND artifact_type = ? AND invalidated_at IS NULL
		   AND version = (SELECT MAX(version) FROM generated_artifacts WHERE user_id = ? AND artifact_type = ?)`,
		formatTime(s.now()), userID.String(), string(t), userID.String(), string(t),
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate artifact %s: %w", t, err)
	}
	return nil
}

func (s *Store) ListArtifactVersions(ctx context.Context, userID uuid.UUID, t types.ArtifactType) ([]types.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM generated_artifacts
		 WHERE user_id = ? AND artifact_type = ? ORDER BY version DESC`,
		userID.String(), string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts %s: %w", t, err)
	}
	defer rows.Close()

	out := []types.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return out, nil
}

func scanArtifact(row rowScanner) (*types.Artifact, error) {
	var (
		a                       types.Artifact
		id, user, typ, payload  string
		generated               string
		superseded, invalidated sql.NullString
	)
	if err := row.Scan(&id, &user, &typ, &a.Version, &payload, &a.InputFingerprint,
		&generated, &superseded, &invalidated); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.UserID, err = uuid.Parse(user); err != nil {
		return nil, err
	}
	if a.GeneratedAt, err = parseTime(generated); err != nil {
		return nil, err
	}
	if a.SupersededAt, err = parseNullTime(superseded); err != nil {
		return nil, err
	}
	if a.InvalidatedAt, err = parseNullTime(invalidated); err != nil {
		return nil, err
	}
	a.Type = types.ArtifactType(typ)
	a.Payload = json.RawMessage(payload)
	return &a, nil
}
