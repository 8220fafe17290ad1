package model

// TopicTag is a curriculum standard code discussions are filed under.
type TopicTag struct {
	ID       int64  `json:"id"`
	TagTitle string `json:"tagTitle"`
}

type Discussion struct {
	ID    int64  `json:"id"`
	TagID int64  `json:"tagId"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Comment struct {
	ID           int64  `json:"id"`
	DiscussionID int64  `json:"discussionId"`
	Body         string `json:"body"`
}

// DiscussionPatch holds the fields of a partial discussion update. Nil
// fields are left unchanged.
type DiscussionPatch struct {
	TagID *int64
	Title *string
	Body  *string
}

func (p DiscussionPatch) Empty() bool {
	return p.TagID == nil && p.Title == nil && p.Body == nil
}

type CommentPatch struct {
	Body *string
}

func (p CommentPatch) Empty() bool {
	return p.Body == nil
}

// Fixtures is the full data set loaded by a seed run.
type Fixtures struct {
	TopicTags   []TopicTag
	Discussions []Discussion
	Comments    []Comment
}
