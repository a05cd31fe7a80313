// Package discourse turns flat retrieval results into threaded conversations.
package discourse

import (
	"sort"
	"strconv"

	"zapask/internal/timeutil"
)

type Source string

const (
	SourceMessage  Source = "slack_messages"
	SourceDocument Source = "document_chunks"
)

// Item is a flat retrieval result. Document fields are only meaningful when
// Source is SourceDocument.
type Item struct {
	Source   Source
	TS       string
	ThreadTS string
	User     string
	Text     string

	DocumentID   string
	DocumentName string
	Permalink    string
	ChunkIndex   int

	// Score is the fused rank score reported by the search store, if any.
	Score float64
}

// IsReply reports whether the item sits inside another item's thread.
func (i Item) IsReply() bool {
	return i.ThreadTS != "" && i.ThreadTS != i.TS
}

// Key identifies the item for deduplication. Chunks of one document share a
// timestamp, so their chunk index is part of the key.
func (i Item) Key() string {
	if i.Source == SourceDocument {
		return string(SourceDocument) + ":" + i.DocumentID + ":" + i.TS + ":" + strconv.Itoa(i.ChunkIndex)
	}
	return i.TS
}

// Entry is the projection handed to the answer model.
type Entry struct {
	Source   Source  `json:"source"`
	TS       string  `json:"ts"`
	ThreadTS *string `json:"thread_ts"`
	User     string  `json:"user,omitempty"`
	Text     string  `json:"text"`

	Permalink  *string `json:"permalink,omitempty"`
	Name       *string `json:"name,omitempty"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`

	Replies []Entry `json:"replies,omitempty"`
}

func project(item Item) Entry {
	entry := Entry{
		Source: item.Source,
		TS:     item.TS,
		Text:   item.Text,
	}
	if entry.Source == "" {
		entry.Source = SourceMessage
	}
	if item.ThreadTS != "" {
		threadTS := item.ThreadTS
		entry.ThreadTS = &threadTS
	}

	if entry.Source == SourceDocument {
		permalink, name, idx := item.Permalink, item.DocumentName, item.ChunkIndex
		entry.Permalink = &permalink
		entry.Name = &name
		entry.ChunkIndex = &idx
		return entry
	}

	entry.User = item.User
	return entry
}

// Dedupe drops repeated items, keeping the position of the first occurrence
// and the content of the last one.
func Dedupe(items []Item) []Item {
	index := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		key := item.Key()
		if pos, ok := index[key]; ok {
			out[pos] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

// Structure groups items into roots with their replies attached. Roots and
// replies are both in ascending timestamp order. A reply whose root is not
// among the items is kept as a root of its own, still carrying its thread
// pointer.
func Structure(items []Item) []Entry {
	replies := make(map[string][]Entry)
	var threadOrder []string
	roots := make([]Entry, 0, len(items))
	rootTS := make(map[string]bool)

	for _, item := range items {
		entry := project(item)
		if item.IsReply() {
			if _, seen := replies[item.ThreadTS]; !seen {
				threadOrder = append(threadOrder, item.ThreadTS)
			}
			replies[item.ThreadTS] = append(replies[item.ThreadTS], entry)
			continue
		}
		roots = append(roots, entry)
		rootTS[item.TS] = true
	}

	for i := range roots {
		if rs, ok := replies[roots[i].TS]; ok {
			sortEntries(rs)
			roots[i].Replies = rs
		}
	}
	// Search hits are often replies whose root was not retrieved. Those are
	// surfaced as top-level entries rather than dropped; ThreadTS still
	// marks them as replies.
	for _, threadTS := range threadOrder {
		if !rootTS[threadTS] {
			roots = append(roots, replies[threadTS]...)
		}
	}

	sortEntries(roots)
	return roots
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(a, b int) bool {
		return timeutil.CompareTS(entries[a].TS, entries[b].TS) < 0
	})
}

// Count returns the number of entries including replies.
func Count(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += 1 + len(e.Replies)
	}
	return n
}
