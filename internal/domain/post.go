package domain

import "time"

// Post is a raw harvested channel message; immutable once observed.
type Post struct {
	ChannelRef string
	MessageID  string
	Text       string
	URL        string
	ParsedAt   time.Time
}

// FactKey identifies a fact (and its source post) inside the fact cache.
type FactKey struct {
	ChannelRef string
	MessageID  string
}

// Key returns the cache key of the post.
func (p Post) Key() FactKey {
	return FactKey{ChannelRef: p.ChannelRef, MessageID: p.MessageID}
}

// Channel is a harvestable source feed.
type Channel struct {
	ID       int64
	Username string
	Title    string
	IsActive bool
}

// FactItem is a stage-1 normalized summary of a single post.
type FactItem struct {
	ChannelRef  string
	MessageID   string
	TextSHA256  string
	Summary     string
	URL         string
	ChannelName string
	Model       string
}

// Key returns the cache key of the fact.
func (f FactItem) Key() FactKey {
	return FactKey{ChannelRef: f.ChannelRef, MessageID: f.MessageID}
}

// Usable reports whether a cached fact can stand in for re-summarizing the
// post: the stored hash must match the current text and the summary must be
// non-empty. Staleness checking is the caller's job, not the cache's.
func (f FactItem) Usable(currentSHA256 string) bool {
	return f.Summary != "" && f.TextSHA256 != "" && f.TextSHA256 == currentSHA256
}
