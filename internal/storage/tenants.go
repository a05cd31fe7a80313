package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) GetInstallation(ctx context.Context, teamID string) (*Installation, error) {
	query := `
		SELECT team_id, team_domain, bot_token, bot_user_id, enable_smart_context,
		       context_last_toggled_at, installed_at, updated_at
		FROM installations
		WHERE team_id = $1
	`

	var inst Installation
	var toggled sql.NullTime
	err := s.db.QueryRowContext(ctx, query, teamID).Scan(
		&inst.TeamID,
		&inst.TeamDomain,
		&inst.BotToken,
		&inst.BotUserID,
		&inst.SmartContextEnabled,
		&toggled,
		&inst.InstalledAt,
		&inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	if toggled.Valid {
		inst.ContextToggledAt = &toggled.Time
	}

	return &inst, nil
}

func (s *PostgresStore) SetSmartContext(ctx context.Context, teamID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE installations
		SET enable_smart_context = $2, context_last_toggled_at = NOW(), updated_at = NOW()
		WHERE team_id = $1
	`, teamID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update smart context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) OptedOutUsers(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_opt_outs WHERE team_id = $1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch opted-out users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan opted-out user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// OptOut records the opt-out and removes everything already stored for the
// user in the workspace. It reports false when the user had already opted out.
func (s *PostgresStore) OptOut(ctx context.Context, teamID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin opt-out: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO user_opt_outs (team_id, user_id) VALUES ($1, $2)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to record opt-out: %w", err)
	}
	inserted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slack_messages WHERE team_id = $1 AND user_id = $2`, teamID, userID); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE team_id = $1 AND user_id = $2`, teamID, userID); err != nil {
		return false, fmt.Errorf("failed to delete documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit opt-out: %w", err)
	}
	return inserted > 0, nil
}

// OptIn reports false when the user was not opted out.
func (s *PostgresStore) OptIn(ctx context.Context, teamID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_opt_outs WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove opt-out: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
