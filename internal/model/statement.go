package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minio/highwayhash"
)

// hashKey is fixed so content hashes stay comparable across runs and hosts.
var hashKey = []byte("qverify-content-hash-key-v1.0000")

// Statement is a normalized (trimmed) statement and its content hash
type Statement struct {
	Text string `json:"text"`
	Hash string `json:"hash"`
}

// NewStatement trims the raw text and computes its content hash
func NewStatement(raw string) Statement {
	text := strings.TrimSpace(raw)
	return Statement{
		Text: text,
		Hash: ContentHash(text),
	}
}

// ContentHash returns a deterministic 64-bit HighwayHash of text as 16 hex digits
func ContentHash(text string) string {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		// only possible with a key that is not 32 bytes long
		panic(err)
	}
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}

// WorkSet is the set of distinct statements to verify, keyed by trimmed text
type WorkSet struct {
	items map[string]Statement
}

// NewWorkSet creates an empty work set
func NewWorkSet() *WorkSet {
	return &WorkSet{items: make(map[string]Statement)}
}

// Add normalizes raw and inserts it. It reports whether the statement was new.
// Statements that are empty after trimming are never added.
func (w *WorkSet) Add(raw string) bool {
	stmt := NewStatement(raw)
	if stmt.Text == "" {
		return false
	}
	if _, exists := w.items[stmt.Text]; exists {
		return false
	}
	w.items[stmt.Text] = stmt
	return true
}

// Len returns the number of distinct statements
func (w *WorkSet) Len() int {
	return len(w.items)
}

// Statements returns a copy of the set ordered by text.
// The order is a display convenience; callers must not depend on it.
func (w *WorkSet) Statements() []Statement {
	out := make([]Statement, 0, len(w.items))
	for _, s := range w.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out
}
