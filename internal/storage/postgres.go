package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions matches text-embedding-3-small.
const EmbeddingDimensions = 1536

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", adjustDatabaseURLForEnvironment(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewPostgresStoreFromDB wraps an existing handle without touching the schema.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func adjustDatabaseURLForEnvironment(databaseURL string) string {
	// Railway PostgreSQL does not speak SSL
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" && !strings.Contains(databaseURL, "railway.app") {
		return databaseURL
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL
	}
	values := parsedURL.Query()
	values.Set("sslmode", "disable")
	parsedURL.RawQuery = values.Encode()
	return parsedURL.String()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// vectorParam converts an embedding into a query argument; empty embeddings
// are stored as NULL.
func vectorParam(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
