package storage

import (
	"encoding/json"
	"testing"

	"github.com/pgvector/pgvector-go"
)

func TestHashContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty content",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "simple content",
			content:  "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashContent(tt.content); got != tt.expected {
				t.Errorf("HashContent() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestThreadMarkUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected ThreadMark
	}{
		{
			name:     "legacy timestamp string",
			raw:      `"1700000000.000200"`,
			expected: ThreadMark{LastReplyTS: "1700000000.000200"},
		},
		{
			name:     "structured mark",
			raw:      `{"last_reply_ts":"1700000000.000300","reply_count":4,"checked":true}`,
			expected: ThreadMark{LastReplyTS: "1700000000.000300", ReplyCount: 4, Checked: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ThreadMark
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestThreadDataMixedShapes(t *testing.T) {
	raw := `{"1.000100":"1.000150","2.000100":{"last_reply_ts":"2.000900","reply_count":2,"checked":true}}`

	var threads map[string]ThreadMark
	if err := json.Unmarshal([]byte(raw), &threads); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threads["1.000100"].LastReplyTS != "1.000150" || threads["1.000100"].Checked {
		t.Errorf("legacy entry decoded incorrectly: %+v", threads["1.000100"])
	}
	if threads["2.000100"].ReplyCount != 2 {
		t.Errorf("structured entry decoded incorrectly: %+v", threads["2.000100"])
	}
}

func TestSyncStateClone(t *testing.T) {
	original := SyncState{
		TeamID:     "T1",
		ChannelID:  "C1",
		LastMainTS: "10.0",
		Threads:    map[string]ThreadMark{"10.0": {LastReplyTS: "11.0"}},
	}

	clone := original.Clone()
	clone.Threads["12.0"] = ThreadMark{LastReplyTS: "13.0"}
	delete(clone.Threads, "10.0")

	if len(original.Threads) != 1 {
		t.Errorf("clone mutated original thread map: %+v", original.Threads)
	}
	if _, ok := original.Threads["10.0"]; !ok {
		t.Errorf("original lost its thread entry")
	}
}

func TestMessageKind(t *testing.T) {
	if (Message{TS: "1"}).Kind() != "message" {
		t.Errorf("root message should be kind message")
	}
	if (Message{TS: "2", ThreadTS: "1"}).Kind() != "thread" {
		t.Errorf("threaded message should be kind thread")
	}
}

func TestVectorParam(t *testing.T) {
	if vectorParam(nil) != nil {
		t.Errorf("empty embedding should map to NULL")
	}

	v, ok := vectorParam([]float32{0.1, 0.2}).(pgvector.Vector)
	if !ok {
		t.Fatalf("expected pgvector.Vector")
	}
	if len(v.Slice()) != 2 {
		t.Errorf("expected 2 dimensions, got %d", len(v.Slice()))
	}
}

func TestSearchArgsOrder(t *testing.T) {
	start := int64(100)
	args := searchArgs(SearchParams{
		TeamID:         "T1",
		ChannelID:      " C1 ",
		KeywordQuery:   "deploy & rollback",
		Embedding:      []float32{1, 2, 3},
		Bounds:         TimeBounds{Start: &start},
		MatchCount:     8,
		MatchThreshold: 0.3,
		RRFK:           60,
		VectorWeight:   1,
		KeywordWeight:  1,
	})

	if len(args) != 11 {
		t.Fatalf("expected 11 args, got %d", len(args))
	}
	if args[0] != "deploy & rollback" {
		t.Errorf("keyword query should be first, got %v", args[0])
	}
	if args[3] != "C1" {
		t.Errorf("channel should be trimmed, got %q", args[3])
	}
	if s := nullInt64(&start); args[4] != s {
		t.Errorf("start bound mismatch: %v", args[4])
	}
	if args[5] != nullInt64(nil) {
		t.Errorf("end bound should be NULL, got %v", args[5])
	}
	if _, ok := args[1].(pgvector.Vector); !ok {
		t.Errorf("embedding should be a pgvector.Vector, got %T", args[1])
	}
}

func TestSearchArgs_KeywordOnlySendsNullEmbedding(t *testing.T) {
	args := searchArgs(SearchParams{
		TeamID:       "T1",
		ChannelID:    "C1",
		KeywordQuery: "deploy",
	})

	if args[1] != nil {
		t.Fatalf("missing embedding should be sent as NULL, got %T %v", args[1], args[1])
	}
	if args[0] != "deploy" {
		t.Errorf("keyword query should still be passed, got %v", args[0])
	}
}

func TestAdjustDatabaseURLForEnvironment(t *testing.T) {
	t.Setenv("RAILWAY_ENVIRONMENT", "")
	plain := "postgres://u:p@localhost:5432/zap?sslmode=require"
	if got := adjustDatabaseURLForEnvironment(plain); got != plain {
		t.Errorf("non-railway url should be untouched, got %s", got)
	}

	t.Setenv("RAILWAY_ENVIRONMENT", "production")
	got := adjustDatabaseURLForEnvironment(plain)
	if got != "postgres://u:p@localhost:5432/zap?sslmode=disable" {
		t.Errorf("railway url should disable ssl, got %s", got)
	}
}
