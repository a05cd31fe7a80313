package storage

import (
	"context"
	"fmt"
	"strings"
)

// SearchMessages calls the rank-fused message search procedure.
func (s *PostgresStore) SearchMessages(ctx context.Context, p SearchParams) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, COALESCE(thread_ts, ''), COALESCE(user_id, ''), text, COALESCE(score, 0)
		FROM search_in_slack_messages($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, searchArgs(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m := Message{TeamID: p.TeamID, ChannelID: p.ChannelID}
		if err := rows.Scan(&m.TS, &m.ThreadTS, &m.UserID, &m.Text, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan message hit: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SearchDocumentChunks calls the rank-fused document chunk search procedure.
func (s *PostgresStore) SearchDocumentChunks(ctx context.Context, p SearchParams) ([]ChunkHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, COALESCE(name, ''), COALESCE(permalink, ''), ts, COALESCE(thread_ts, ''),
		       chunk_index, text, COALESCE(score, 0)
		FROM search_in_document_chunks($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, searchArgs(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search document chunks: %w", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.FileID, &h.Name, &h.Permalink, &h.TS, &h.ThreadTS, &h.ChunkIndex, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchArgs orders parameters as the procedures declare them:
// query, embedding, team, channel, start, end, match_count, match_threshold,
// rrf_k, vector_weight, keyword_weight.
func searchArgs(p SearchParams) []interface{} {
	return []interface{}{
		p.KeywordQuery,
		vectorParam(p.Embedding),
		p.TeamID,
		strings.TrimSpace(p.ChannelID),
		nullInt64(p.Bounds.Start),
		nullInt64(p.Bounds.End),
		p.MatchCount,
		p.MatchThreshold,
		p.RRFK,
		p.VectorWeight,
		p.KeywordWeight,
	}
}
