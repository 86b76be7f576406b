// Package models defines the data types shared across the Driftwood client:
// topics, posts, tracking state, and bus message envelopes.
package models

import "time"

// NotificationLevel is the per-topic notification preference.
type NotificationLevel int

const (
	NotificationMuted    NotificationLevel = 0
	NotificationRegular  NotificationLevel = 1
	NotificationTracking NotificationLevel = 2
	NotificationWatching NotificationLevel = 3
)

// TopicState is the client-side tracking record for one topic. Pointer
// fields distinguish "unset" from zero: a nil LastReadPostNumber means the
// topic has never been read and is a candidate for "new".
type TopicState struct {
	TopicID            int                `json:"topic_id"`
	LastReadPostNumber *int               `json:"last_read_post_number,omitempty"`
	HighestPostNumber  int                `json:"highest_post_number"`
	NotificationLevel  *NotificationLevel `json:"notification_level,omitempty"`
	CategoryID         *int               `json:"category_id,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	IsSeen             bool               `json:"is_seen"`
	Deleted            bool               `json:"deleted"`
	CreatedInNewPeriod bool               `json:"created_in_new_period"`
	IsCategoryTopic    bool               `json:"is_category_topic"`

	// CreatedAt is set for topics delivered over the bus; list responses
	// may omit it.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// PM-only fields.
	GroupIDs []int `json:"group_ids,omitempty"`
}

// Clone returns a deep copy of the state.
func (s TopicState) Clone() TopicState {
	out := s
	if s.LastReadPostNumber != nil {
		v := *s.LastReadPostNumber
		out.LastReadPostNumber = &v
	}
	if s.NotificationLevel != nil {
		v := *s.NotificationLevel
		out.NotificationLevel = &v
	}
	if s.CategoryID != nil {
		v := *s.CategoryID
		out.CategoryID = &v
	}
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	if s.GroupIDs != nil {
		out.GroupIDs = append([]int(nil), s.GroupIDs...)
	}
	return out
}

// Equal reports full structural equality. Used to short-circuit no-op merges
// so observers are not notified for writes that change nothing.
func (s TopicState) Equal(other TopicState) bool {
	if s.TopicID != other.TopicID ||
		s.HighestPostNumber != other.HighestPostNumber ||
		s.IsSeen != other.IsSeen ||
		s.Deleted != other.Deleted ||
		s.CreatedInNewPeriod != other.CreatedInNewPeriod ||
		s.IsCategoryTopic != other.IsCategoryTopic ||
		!s.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	if !intPtrEqual(s.LastReadPostNumber, other.LastReadPostNumber) {
		return false
	}
	if (s.NotificationLevel == nil) != (other.NotificationLevel == nil) {
		return false
	}
	if s.NotificationLevel != nil && *s.NotificationLevel != *other.NotificationLevel {
		return false
	}
	if !intPtrEqual(s.CategoryID, other.CategoryID) {
		return false
	}
	if len(s.Tags) != len(other.Tags) {
		return false
	}
	for i := range s.Tags {
		if s.Tags[i] != other.Tags[i] {
			return false
		}
	}
	if len(s.GroupIDs) != len(other.GroupIDs) {
		return false
	}
	for i := range s.GroupIDs {
		if s.GroupIDs[i] != other.GroupIDs[i] {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// TopicListItem is one entry of a topic list response. The client only
// depends on the fields named here; everything else the server sends is
// dropped at decode time.
type TopicListItem struct {
	ID                 int                `json:"id"`
	LastReadPostNumber *int               `json:"last_read_post_number,omitempty"`
	HighestPostNumber  int                `json:"highest_post_number"`
	UnreadPosts        *int               `json:"unread_posts,omitempty"`
	NotificationLevel  *NotificationLevel `json:"notification_level,omitempty"`
	CategoryID         *int               `json:"category_id,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	IsSeen             bool               `json:"is_seen"`
	CreatedInNewPeriod bool               `json:"created_in_new_period"`
	IsCategoryTopic    bool               `json:"is_category_topic"`
	PostsCount         int                `json:"posts_count"`
}

// TopicList is a topic list response as shown by the UI.
type TopicList struct {
	Topics []TopicListItem `json:"topics"`

	// MoreTopicsURL is non-empty when the list is paginated. Absence of a
	// topic from a paginated list says nothing about its read state.
	MoreTopicsURL string `json:"more_topics_url,omitempty"`
}

// Category describes the category metadata the tracker needs for
// subcategory-aware counting.
type Category struct {
	ID               int    `json:"id"`
	Slug             string `json:"slug"`
	ParentCategoryID *int   `json:"parent_category_id,omitempty"`
}

// User identifies the current user and the preferences/mute rules the
// tracking core consults. It is a snapshot owned by the caller; the tracker
// never mutates it.
type User struct {
	ID          int      `json:"id"`
	Username    string   `json:"username"`
	GroupIDs    []int    `json:"group_ids,omitempty"`
	Groups      []Group  `json:"groups,omitempty"`
	TrackedTags []string `json:"tracked_tags,omitempty"`

	MutedCategoryIDs           []int    `json:"muted_category_ids,omitempty"`
	IndirectlyMutedCategoryIDs []int    `json:"indirectly_muted_category_ids,omitempty"`
	MutedTags                  []string `json:"muted_tags,omitempty"`
	MuteAllCategoriesByDefault bool     `json:"mute_all_categories_by_default,omitempty"`

	// NewNewView merges the new and unread displays into one "latest" count.
	NewNewView bool `json:"new_new_view,omitempty"`
}

// Group is a user group; messaging-enabled groups get their own PM channel.
type Group struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	HasMessages bool   `json:"has_messages"`
}

// InGroup reports whether the user belongs to the group with the given id.
func (u *User) InGroup(groupID int) bool {
	for _, id := range u.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// CategoryMuted reports whether the category is muted directly or through a
// muted parent.
func (u *User) CategoryMuted(categoryID int) bool {
	for _, id := range u.MutedCategoryIDs {
		if id == categoryID {
			return true
		}
	}
	for _, id := range u.IndirectlyMutedCategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// TagMuted reports whether the tag is in the user's muted set.
func (u *User) TagMuted(tag string) bool {
	for _, t := range u.MutedTags {
		if t == tag {
			return true
		}
	}
	return false
}
