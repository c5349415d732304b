// Package model defines the domain types used across the application.
package model

import "time"

// MentionStatus is the lifecycle state of an inbound mention.
type MentionStatus string

// Mention lifecycle states.
const (
	StatusPending  MentionStatus = "pending"
	StatusVerified MentionStatus = "verified"
	StatusDeleted  MentionStatus = "deleted"
)

// MentionType classifies how the source page refers to the target.
// The classification is best-effort; MentionPlain is the safe default.
type MentionType string

// Supported mention types, inferred from Microformats markup on the source.
const (
	MentionPlain  MentionType = "mention"
	MentionReply  MentionType = "reply"
	MentionLike   MentionType = "like"
	MentionRepost MentionType = "repost"
)

// MentionTypeFromRaw maps a raw Microformats property name to a MentionType.
func MentionTypeFromRaw(raw string) MentionType {
	switch raw {
	case "in-reply-to", "u-in-reply-to", "reply":
		return MentionReply
	case "like-of", "u-like-of", "like":
		return MentionLike
	case "repost-of", "u-repost-of", "repost":
		return MentionRepost
	default:
		return MentionPlain
	}
}

// Mention is an inbound Webmention record, unique per (source, target).
type Mention struct {
	Source   string        `yaml:"source"`
	Target   string        `yaml:"target"`
	PostSlug string        `yaml:"post_slug"`
	Status   MentionStatus `yaml:"status"`
	Type     MentionType   `yaml:"mention_type"`

	// Display metadata extracted from the source page at verification time.
	Title          string `yaml:"title,omitempty"`
	AuthorName     string `yaml:"author_name,omitempty"`
	AuthorURL      string `yaml:"author_url,omitempty"`
	AuthorPhoto    string `yaml:"author_photo,omitempty"`
	ContentSnippet string `yaml:"content_snippet,omitempty"`

	ReceivedAt time.Time  `yaml:"received_at"`
	VerifiedAt *time.Time `yaml:"verified_at,omitempty"`
	DeletedAt  *time.Time `yaml:"deleted_at,omitempty"`
}

// SendResult is the outcome of the last outbound notification attempt.
type SendResult string

// Outbound send outcomes.
const (
	SendPending    SendResult = "pending"
	SendSuccess    SendResult = "success"
	SendFailure    SendResult = "failure"
	SendNoEndpoint SendResult = "no-endpoint"
)

// OutboundLink is a cross-domain link found in one of the site's own articles.
type OutboundLink struct {
	ID          int64
	ArticleSlug string
	TargetURL   string
	Endpoint    string // empty when the target does not accept Webmentions
	LastSentAt  *time.Time
	LastResult  SendResult
	CreatedAt   time.Time
}
