package store

import (
	"context"
	"errors"

	"github.com/teacherforum/teacherforum/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateID      = errors.New("duplicate id")
	ErrInvalidReference = errors.New("invalid reference")
)

// IDMode controls how create calls treat caller-supplied ids.
type IDMode int

const (
	// ClientIDs stores a positive caller-supplied id as given and assigns
	// the next free id when it is zero.
	ClientIDs IDMode = iota
	// ServerIDs ignores caller-supplied ids.
	ServerIDs
)

type Store interface {
	TopicTagStore
	DiscussionStore
	CommentStore
	Lifecycle
	Close() error
}

type TopicTagStore interface {
	CreateTopicTag(ctx context.Context, tag *model.TopicTag) (int64, error)
	GetTopicTag(ctx context.Context, id int64) (model.TopicTag, error)
	ListTopicTags(ctx context.Context) ([]model.TopicTag, error)
}

// DiscussionStore methods return ErrInvalidReference when a discussion
// would point at a missing topic tag.
type DiscussionStore interface {
	CreateDiscussion(ctx context.Context, d *model.Discussion) (int64, error)
	GetDiscussion(ctx context.Context, id int64) (model.Discussion, error)
	ListDiscussions(ctx context.Context) ([]model.Discussion, error)
	ListDiscussionsByTag(ctx context.Context, tagID int64) ([]model.Discussion, error)
	UpdateDiscussion(ctx context.Context, id int64, patch model.DiscussionPatch) error
	// DeleteDiscussion removes the discussion and all of its comments.
	DeleteDiscussion(ctx context.Context, id int64) error
}

type CommentStore interface {
	CreateComment(ctx context.Context, c *model.Comment) (int64, error)
	GetComment(ctx context.Context, id int64) (model.Comment, error)
	ListComments(ctx context.Context) ([]model.Comment, error)
	ListCommentsByDiscussion(ctx context.Context, discussionID int64) ([]model.Comment, error)
	UpdateComment(ctx context.Context, id int64, patch model.CommentPatch) error
	DeleteComment(ctx context.Context, id int64) error
}

// Lifecycle is the migrate/seed contract fixtures rely on.
type Lifecycle interface {
	Migrate(ctx context.Context) error
	// Seed replaces every row with the given fixtures.
	Seed(ctx context.Context, fx model.Fixtures) error
	Truncate(ctx context.Context) error
}

// Reset truncates the store and loads the default fixtures.
func Reset(ctx context.Context, st Lifecycle) error {
	return st.Seed(ctx, DefaultFixtures())
}
