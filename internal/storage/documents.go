package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StoreDocument writes the document row and replaces its chunks in one
// transaction.
func (s *PostgresStore) StoreDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			team_id, file_id, channel_id, ts, thread_ts, name, title, mimetype,
			filetype, user_id, size, permalink, url_private_download
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (team_id, file_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			title = EXCLUDED.title,
			permalink = EXCLUDED.permalink,
			size = EXCLUDED.size
	`,
		doc.TeamID, doc.FileID, doc.ChannelID, doc.TS, nullString(doc.ThreadTS), doc.Name,
		doc.Title, doc.Mimetype, doc.Filetype, doc.UserID, doc.Size, doc.Permalink, doc.DownloadURL,
	)
	if err != nil {
		return fmt.Errorf("failed to store document metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE team_id = $1 AND file_id = $2`, doc.TeamID, doc.FileID); err != nil {
		return fmt.Errorf("failed to clear document chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, team_id, channel_id, file_id, chunk_index, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, doc.TeamID, doc.ChannelID, doc.FileID, chunk.ChunkIndex, chunk.Text, vectorParam(chunk.Embedding)); err != nil {
			return fmt.Errorf("failed to store chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}

// DocumentsByName loads the named documents of a channel with all their
// chunks in order.
func (s *PostgresStore) DocumentsByName(ctx context.Context, teamID, channelID string, names []string, bounds TimeBounds) ([]Document, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.file_id, d.channel_id, d.ts, COALESCE(d.thread_ts, ''), d.name, COALESCE(d.title, ''),
		       d.user_id, COALESCE(d.permalink, ''), d.created_at,
		       c.chunk_index, c.text
		FROM documents d
		LEFT JOIN document_chunks c ON c.team_id = d.team_id AND c.file_id = d.file_id
		WHERE d.team_id = $1 AND d.channel_id = $2 AND d.name = ANY($3)
		  AND ($4::bigint IS NULL OR d.ts::numeric >= $4::bigint)
		  AND ($5::bigint IS NULL OR d.ts::numeric <= $5::bigint)
		ORDER BY d.ts::numeric ASC, c.chunk_index ASC
	`, teamID, channelID, pq.Array(names), nullInt64(bounds.Start), nullInt64(bounds.End))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	index := map[string]int{}
	for rows.Next() {
		var d Document
		var chunkIndex *int
		var chunkText *string
		if err := rows.Scan(&d.FileID, &d.ChannelID, &d.TS, &d.ThreadTS, &d.Name, &d.Title,
			&d.UserID, &d.Permalink, &d.CreatedAt, &chunkIndex, &chunkText); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.TeamID = teamID

		pos, ok := index[d.FileID]
		if !ok {
			pos = len(docs)
			index[d.FileID] = pos
			docs = append(docs, d)
		}
		if chunkIndex != nil && chunkText != nil {
			docs[pos].Chunks = append(docs[pos].Chunks, Chunk{FileID: d.FileID, ChunkIndex: *chunkIndex, Text: *chunkText})
		}
	}
	return docs, rows.Err()
}

// ChunksInRange returns chunks of documents uploaded to the channel inside
// the bounds, oldest document first.
func (s *PostgresStore) ChunksInRange(ctx context.Context, teamID, channelID string, bounds TimeBounds, limit int) ([]ChunkHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.file_id, d.name, COALESCE(d.permalink, ''), d.ts, COALESCE(d.thread_ts, ''), c.chunk_index, c.text
		FROM documents d
		JOIN document_chunks c ON c.team_id = d.team_id AND c.file_id = d.file_id
		WHERE d.team_id = $1 AND d.channel_id = $2
		  AND ($3::bigint IS NULL OR d.ts::numeric >= $3::bigint)
		  AND ($4::bigint IS NULL OR d.ts::numeric <= $4::bigint)
		ORDER BY d.ts::numeric ASC, c.chunk_index ASC
		LIMIT $5
	`, teamID, channelID, nullInt64(bounds.Start), nullInt64(bounds.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document chunks: %w", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.FileID, &h.Name, &h.Permalink, &h.TS, &h.ThreadTS, &h.ChunkIndex, &h.Text); err != nil {
			return nil, fmt.Errorf("failed to scan document chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
