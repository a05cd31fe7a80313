package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Installation struct {
	TeamID              string     `json:"team_id"`
	TeamDomain          string     `json:"team_domain"`
	BotToken            string     `json:"-"`
	BotUserID           string     `json:"bot_user_id"`
	SmartContextEnabled bool       `json:"enable_smart_context"`
	ContextToggledAt    *time.Time `json:"context_last_toggled_at,omitempty"`
	InstalledAt         time.Time  `json:"installed_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ThreadMark is the per-thread entry of a channel's sync state.
type ThreadMark struct {
	LastReplyTS string `json:"last_reply_ts"`
	ReplyCount  int    `json:"reply_count"`
	// Checked is set once the thread has been through a reply fetch.
	// Unchecked threads are never pruned.
	Checked bool `json:"checked"`
}

// UnmarshalJSON also accepts the older shape where a mark was just the
// last reply timestamp.
func (m *ThreadMark) UnmarshalJSON(data []byte) error {
	var ts string
	if err := json.Unmarshal(data, &ts); err == nil {
		*m = ThreadMark{LastReplyTS: ts}
		return nil
	}

	type plain ThreadMark
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = ThreadMark(p)
	return nil
}

type SyncState struct {
	TeamID     string
	ChannelID  string
	LastMainTS string
	Threads    map[string]ThreadMark
	UpdatedAt  time.Time
}

// Clone returns a deep copy so callers can mutate the thread map freely.
func (s SyncState) Clone() SyncState {
	out := s
	out.Threads = make(map[string]ThreadMark, len(s.Threads))
	for k, v := range s.Threads {
		out.Threads[k] = v
	}
	return out
}

type Message struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"team_id"`
	ChannelID   string    `json:"channel_id"`
	TS          string    `json:"ts"`
	ThreadTS    string    `json:"thread_ts,omitempty"`
	UserID      string    `json:"user_id"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	Score       float64   `json:"score,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Kind is "thread" for messages inside a thread and "message" otherwise.
func (m Message) Kind() string {
	if m.ThreadTS != "" {
		return "thread"
	}
	return "message"
}

type Document struct {
	TeamID      string    `json:"team_id"`
	FileID      string    `json:"file_id"`
	ChannelID   string    `json:"channel_id"`
	TS          string    `json:"ts"`
	ThreadTS    string    `json:"thread_ts,omitempty"`
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Mimetype    string    `json:"mimetype"`
	Filetype    string    `json:"filetype"`
	UserID      string    `json:"user_id"`
	Size        int       `json:"size"`
	Permalink   string    `json:"permalink"`
	DownloadURL string    `json:"url_private_download"`
	CreatedAt   time.Time `json:"created_at"`
	Chunks      []Chunk   `json:"chunks,omitempty"`
}

type Chunk struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkHit is a document chunk returned by the ranked chunk search.
type ChunkHit struct {
	FileID     string  `json:"file_id"`
	Name       string  `json:"name"`
	Permalink  string  `json:"permalink"`
	TS         string  `json:"ts"`
	ThreadTS   string  `json:"thread_ts,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// TimeBounds are Unix seconds. Nil bounds are open.
type TimeBounds struct {
	Start *int64
	End   *int64
}

// SearchParams feeds the rank-fused search procedures.
type SearchParams struct {
	TeamID         string
	ChannelID      string
	KeywordQuery   string
	Embedding      []float32
	Bounds         TimeBounds
	MatchCount     int
	MatchThreshold float64
	RRFK           int
	VectorWeight   float64
	KeywordWeight  float64
}
