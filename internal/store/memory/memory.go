// Package memory is a store.Store kept entirely in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	idMode      store.IDMode
	tags        map[int64]model.TopicTag
	discussions map[int64]model.Discussion
	comments    map[int64]model.Comment

	// highest id ever stored per table; deleted ids are never handed out again
	lastTagID, lastDiscussionID, lastCommentID int64
}

var _ store.Store = (*Store)(nil)

func New(idMode store.IDMode) *Store {
	s := &Store{idMode: idMode}
	s.clear()
	return s
}

func (s *Store) clear() {
	s.tags = make(map[int64]model.TopicTag)
	s.discussions = make(map[int64]model.Discussion)
	s.comments = make(map[int64]model.Comment)
	s.lastTagID, s.lastDiscussionID, s.lastCommentID = 0, 0, 0
}

func (s *Store) Close() error { return nil }

func (s *Store) Migrate(ctx context.Context) error { return nil }

func (s *Store) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	return nil
}

func (s *Store) Seed(ctx context.Context, fx model.Fixtures) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	for _, t := range fx.TopicTags {
		if _, exists := s.tags[t.ID]; exists {
			return fmt.Errorf("seed topic tag %d: %w", t.ID, store.ErrDuplicateID)
		}
		s.tags[t.ID] = t
		s.lastTagID = max(s.lastTagID, t.ID)
	}
	for _, d := range fx.Discussions {
		if _, exists := s.discussions[d.ID]; exists {
			return fmt.Errorf("seed discussion %d: %w", d.ID, store.ErrDuplicateID)
		}
		if _, ok := s.tags[d.TagID]; !ok {
			return fmt.Errorf("seed discussion %d: %w", d.ID, store.ErrInvalidReference)
		}
		s.discussions[d.ID] = d
		s.lastDiscussionID = max(s.lastDiscussionID, d.ID)
	}
	for _, c := range fx.Comments {
		if _, exists := s.comments[c.ID]; exists {
			return fmt.Errorf("seed comment %d: %w", c.ID, store.ErrDuplicateID)
		}
		if _, ok := s.discussions[c.DiscussionID]; !ok {
			return fmt.Errorf("seed comment %d: %w", c.ID, store.ErrInvalidReference)
		}
		s.comments[c.ID] = c
		s.lastCommentID = max(s.lastCommentID, c.ID)
	}
	return nil
}

func (s *Store) CreateTopicTag(ctx context.Context, tag *model.TopicTag) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := assignID(s.idMode, tag.ID, s.tags, &s.lastTagID)
	if err != nil {
		return 0, err
	}
	t := *tag
	t.ID = id
	s.tags[id] = t
	return id, nil
}

func (s *Store) GetTopicTag(ctx context.Context, id int64) (model.TopicTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tags[id]
	if !ok {
		return model.TopicTag{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTopicTags(ctx context.Context) ([]model.TopicTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.tags, func(model.TopicTag) bool { return true }), nil
}

func (s *Store) CreateDiscussion(ctx context.Context, d *model.Discussion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[d.TagID]; !ok {
		return 0, fmt.Errorf("topic tag %d: %w", d.TagID, store.ErrInvalidReference)
	}
	id, err := assignID(s.idMode, d.ID, s.discussions, &s.lastDiscussionID)
	if err != nil {
		return 0, err
	}
	stored := *d
	stored.ID = id
	s.discussions[id] = stored
	return id, nil
}

func (s *Store) GetDiscussion(ctx context.Context, id int64) (model.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.discussions[id]
	if !ok {
		return model.Discussion{}, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDiscussions(ctx context.Context) ([]model.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.discussions, func(model.Discussion) bool { return true }), nil
}

func (s *Store) ListDiscussionsByTag(ctx context.Context, tagID int64) ([]model.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.discussions, func(d model.Discussion) bool { return d.TagID == tagID }), nil
}

func (s *Store) UpdateDiscussion(ctx context.Context, id int64, patch model.DiscussionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discussions[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.TagID != nil {
		if _, ok := s.tags[*patch.TagID]; !ok {
			return fmt.Errorf("topic tag %d: %w", *patch.TagID, store.ErrInvalidReference)
		}
		d.TagID = *patch.TagID
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Body != nil {
		d.Body = *patch.Body
	}
	s.discussions[id] = d
	return nil
}

func (s *Store) DeleteDiscussion(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discussions[id]; !ok {
		return store.ErrNotFound
	}
	for cid, c := range s.comments {
		if c.DiscussionID == id {
			delete(s.comments, cid)
		}
	}
	delete(s.discussions, id)
	return nil
}

func (s *Store) CreateComment(ctx context.Context, c *model.Comment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discussions[c.DiscussionID]; !ok {
		return 0, fmt.Errorf("discussion %d: %w", c.DiscussionID, store.ErrInvalidReference)
	}
	id, err := assignID(s.idMode, c.ID, s.comments, &s.lastCommentID)
	if err != nil {
		return 0, err
	}
	stored := *c
	stored.ID = id
	s.comments[id] = stored
	return id, nil
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return model.Comment{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.comments, func(model.Comment) bool { return true }), nil
}

func (s *Store) ListCommentsByDiscussion(ctx context.Context, discussionID int64) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.comments, func(c model.Comment) bool { return c.DiscussionID == discussionID }), nil
}

func (s *Store) UpdateComment(ctx context.Context, id int64, patch model.CommentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Body != nil {
		c.Body = *patch.Body
	}
	s.comments[id] = c
	return nil
}

func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

// assignID picks the id a new row is stored under and advances the table's
// high-water mark. Callers hold s.mu.
func assignID[V any](mode store.IDMode, requested int64, rows map[int64]V, last *int64) (int64, error) {
	if mode == store.ClientIDs && requested > 0 {
		if _, exists := rows[requested]; exists {
			return 0, fmt.Errorf("id %d: %w", requested, store.ErrDuplicateID)
		}
		*last = max(*last, requested)
		return requested, nil
	}
	*last++
	return *last, nil
}

func sorted[V any](rows map[int64]V, keep func(V) bool) []V {
	ids := make([]int64, 0, len(rows))
	for id, v := range rows {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, rows[id])
	}
	return out
}
