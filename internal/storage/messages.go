package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// StoreMessages upserts messages in one transaction. A message whose text is
// unchanged keeps its existing embedding when the new one is missing.
func (s *PostgresStore) StoreMessages(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slack_messages (team_id, channel_id, ts, thread_ts, type, user_id, text, content_hash, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (team_id, channel_id, ts)
		DO UPDATE SET
			text = EXCLUDED.text,
			content_hash = EXCLUDED.content_hash,
			embedding = CASE
				WHEN slack_messages.content_hash = EXCLUDED.content_hash
					THEN COALESCE(EXCLUDED.embedding, slack_messages.embedding)
				ELSE EXCLUDED.embedding
			END
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		hash := msg.ContentHash
		if hash == "" {
			hash = HashContent(msg.Text)
		}
		if _, err := stmt.ExecContext(ctx,
			msg.TeamID, msg.ChannelID, msg.TS, nullString(msg.ThreadTS), msg.Kind(),
			msg.UserID, msg.Text, hash, vectorParam(msg.Embedding),
		); err != nil {
			return fmt.Errorf("failed to store message %s: %w", msg.TS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

const messageColumns = `id, team_id, channel_id, ts, COALESCE(thread_ts, '') AS thread_ts, user_id, text, content_hash, created_at`

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TeamID, &m.ChannelID, &m.TS, &m.ThreadTS, &m.UserID, &m.Text, &m.ContentHash, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SurroundingMessages returns up to count messages on each side of ts, in
// ascending order.
func (s *PostgresStore) SurroundingMessages(ctx context.Context, teamID, channelID, ts string, count int) ([]Message, error) {
	query := `
		SELECT * FROM (
			(SELECT ` + messageColumns + ` FROM slack_messages
			 WHERE team_id = $1 AND channel_id = $2 AND ts::numeric < $3::numeric
			 ORDER BY ts::numeric DESC LIMIT $4)
			UNION ALL
			(SELECT ` + messageColumns + ` FROM slack_messages
			 WHERE team_id = $1 AND channel_id = $2 AND ts::numeric > $3::numeric
			 ORDER BY ts::numeric ASC LIMIT $4)
		) window_messages
		ORDER BY ts::numeric ASC
	`
	rows, err := s.db.QueryContext(ctx, query, teamID, channelID, ts, count)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch surrounding messages: %w", err)
	}
	return scanMessages(rows)
}

// ThreadPreview returns the first limit messages filed under threadTS.
func (s *PostgresStore) ThreadPreview(ctx context.Context, teamID, channelID, threadTS string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM slack_messages
		WHERE team_id = $1 AND channel_id = $2 AND thread_ts = $3
		ORDER BY ts::numeric ASC
		LIMIT $4
	`, teamID, channelID, threadTS, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread preview: %w", err)
	}
	return scanMessages(rows)
}

// ChannelMessages returns messages in ascending order. When limit > 0 the
// newest limit messages inside the bounds are returned.
func (s *PostgresStore) ChannelMessages(ctx context.Context, teamID, channelID string, bounds TimeBounds, limit int) ([]Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + ` FROM slack_messages
			WHERE team_id = $1 AND channel_id = $2
			  AND ($3::bigint IS NULL OR ts::numeric >= $3::bigint)
			  AND ($4::bigint IS NULL OR ts::numeric <= $4::bigint)
			ORDER BY ts::numeric DESC
			LIMIT CASE WHEN $5 > 0 THEN $5 END
		) recent
		ORDER BY ts::numeric ASC
	`
	rows, err := s.db.QueryContext(ctx, query, teamID, channelID, nullInt64(bounds.Start), nullInt64(bounds.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel messages: %w", err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) MessagesWithoutEmbeddings(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM slack_messages
		WHERE embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages without embeddings: %w", err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) UpdateMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE slack_messages SET embedding = $1 WHERE id = $2`, pgvector.NewVector(embedding), messageID)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}
