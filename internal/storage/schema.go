package storage

import (
	"context"
	"fmt"
	"log/slog"
)

var schemaStatements = []string{
	"CREATE EXTENSION IF NOT EXISTS vector;",
	`CREATE TABLE IF NOT EXISTS installations (
		team_id TEXT PRIMARY KEY,
		team_domain TEXT NOT NULL DEFAULT '',
		bot_token TEXT NOT NULL,
		bot_user_id TEXT NOT NULL DEFAULT '',
		enable_smart_context BOOLEAN NOT NULL DEFAULT FALSE,
		context_last_toggled_at TIMESTAMP WITH TIME ZONE,
		installed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS user_opt_outs (
		team_id TEXT NOT NULL REFERENCES installations(team_id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		opted_out_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (team_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS slack_sync_state (
		team_id TEXT NOT NULL REFERENCES installations(team_id) ON DELETE CASCADE,
		channel_id TEXT NOT NULL,
		last_main_ts TEXT NOT NULL,
		thread_ts_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (team_id, channel_id)
	);`,
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS slack_messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		team_id TEXT NOT NULL REFERENCES installations(team_id) ON DELETE CASCADE,
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		thread_ts TEXT,
		type TEXT NOT NULL DEFAULT 'message',
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding VECTOR(%d),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (team_id, channel_id, ts)
	);`, EmbeddingDimensions),
	`CREATE TABLE IF NOT EXISTS documents (
		team_id TEXT NOT NULL REFERENCES installations(team_id) ON DELETE CASCADE,
		file_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		thread_ts TEXT,
		name TEXT NOT NULL,
		title TEXT,
		mimetype TEXT,
		filetype TEXT,
		user_id TEXT NOT NULL,
		size INTEGER,
		permalink TEXT,
		url_private_download TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (team_id, file_id)
	);`,
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
		id UUID PRIMARY KEY,
		team_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding VECTOR(%d),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (team_id, file_id, chunk_index),
		FOREIGN KEY (team_id, file_id) REFERENCES documents(team_id, file_id) ON DELETE CASCADE
	);`, EmbeddingDimensions),
}

var indexStatements = []string{
	"CREATE INDEX IF NOT EXISTS idx_slack_messages_channel_ts ON slack_messages(team_id, channel_id, (ts::numeric));",
	"CREATE INDEX IF NOT EXISTS idx_slack_messages_thread ON slack_messages(team_id, channel_id, thread_ts);",
	"CREATE INDEX IF NOT EXISTS idx_slack_messages_missing_embedding ON slack_messages(created_at) WHERE embedding IS NULL;",
	"CREATE INDEX IF NOT EXISTS idx_documents_channel_name ON documents(team_id, channel_id, name);",
	"CREATE INDEX IF NOT EXISTS idx_document_chunks_file ON document_chunks(team_id, file_id, chunk_index);",
	"CREATE INDEX IF NOT EXISTS idx_slack_messages_fts ON slack_messages USING gin (to_tsvector('english', text));",
	"CREATE INDEX IF NOT EXISTS idx_document_chunks_fts ON document_chunks USING gin (to_tsvector('english', text));",
}

// InitSchema creates the tables this service owns. The rank-fused search
// procedures (search_in_slack_messages, search_in_document_chunks) are
// provisioned with the database and only called from here.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	slog.Info("Initializing database schema...")

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			slog.Warn("Failed to create index", "error", err, "sql", stmt)
		}
	}

	// ivfflat needs rows to train on, so this is allowed to fail on an empty table
	vectorIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_slack_messages_embedding ON slack_messages USING ivfflat (embedding vector_cosine_ops);",
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING ivfflat (embedding vector_cosine_ops);",
	}
	for _, stmt := range vectorIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			slog.Warn("Could not create vector index", "error", err)
		}
	}

	slog.Info("Database schema initialization completed")
	return nil
}
