package models

import "time"

// Post is one post of a topic as materialized by the client.
type Post struct {
	ID                int       `json:"id"`
	TopicID           int       `json:"topic_id"`
	PostNumber        int       `json:"post_number"`
	UserID            int       `json:"user_id"`
	Username          string    `json:"username"`
	Raw               string    `json:"raw,omitempty"`
	Cooked            string    `json:"cooked,omitempty"`
	ReplyToPostNumber *int      `json:"reply_to_post_number,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Deleted           bool      `json:"deleted"`

	// Staged marks a provisional post that has not been confirmed by the
	// server yet. Staged posts carry a negative sentinel ID.
	Staged bool `json:"-"`
}

// Topic is the mutable per-topic header the post stream keeps counters on.
type Topic struct {
	ID                int       `json:"id"`
	Title             string    `json:"title"`
	PostsCount        int       `json:"posts_count"`
	HighestPostNumber int       `json:"highest_post_number"`
	LastPostedAt      time.Time `json:"last_posted_at,omitempty"`

	// ErrorLoading is set when a stream fetch fails; the UI renders an
	// error panel instead of the post stream.
	ErrorLoading bool   `json:"-"`
	ErrorMessage string `json:"-"`
	// NoRetry suppresses retry affordances (set on HTTP 403).
	NoRetry bool `json:"-"`
}

// TopicView is a topic detail response: the topic header, the full post id
// stream and the window of posts the server chose to materialize.
type TopicView struct {
	Topic     Topic  `json:"topic"`
	StreamIDs []int  `json:"stream"`
	Posts     []Post `json:"posts"`

	// GapsBefore/GapsAfter map a loaded post id to the hidden neighbor ids
	// a reply-chain or participant filter suppressed.
	GapsBefore map[int][]int `json:"gaps_before,omitempty"`
	GapsAfter  map[int][]int `json:"gaps_after,omitempty"`
}
