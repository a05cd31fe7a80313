package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *PostgresStore) GetSyncState(ctx context.Context, teamID, channelID string) (*SyncState, error) {
	query := `
		SELECT last_main_ts, thread_ts_data, updated_at
		FROM slack_sync_state
		WHERE team_id = $1 AND channel_id = $2
	`

	state := &SyncState{TeamID: teamID, ChannelID: channelID}
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, teamID, channelID).Scan(&state.LastMainTS, &raw, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	state.Threads = map[string]ThreadMark{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state.Threads); err != nil {
			return nil, fmt.Errorf("failed to decode thread data: %w", err)
		}
	}

	return state, nil
}

// SaveSyncState overwrites the channel's sync state.
func (s *PostgresStore) SaveSyncState(ctx context.Context, state SyncState) error {
	threads := state.Threads
	if threads == nil {
		threads = map[string]ThreadMark{}
	}
	raw, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("failed to encode thread data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slack_sync_state (team_id, channel_id, last_main_ts, thread_ts_data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (team_id, channel_id)
		DO UPDATE SET
			last_main_ts = EXCLUDED.last_main_ts,
			thread_ts_data = EXCLUDED.thread_ts_data,
			updated_at = NOW()
	`, state.TeamID, state.ChannelID, state.LastMainTS, raw)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
