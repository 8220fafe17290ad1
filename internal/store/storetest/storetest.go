// Package storetest holds the behavioral suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/store"
)

// Factory returns a fresh, migrated, empty store using the given id mode.
// The suite closes it when the test ends.
type Factory func(t *testing.T, mode store.IDMode) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"SeedLoadsFixturesInOrder", testSeedLoadsFixturesInOrder},
		{"SeedReplacesRows", testSeedReplacesRows},
		{"TopicTagLookup", testTopicTagLookup},
		{"CreateDiscussionClientIDs", testCreateDiscussionClientIDs},
		{"CreateDiscussionServerIDs", testCreateDiscussionServerIDs},
		{"CreateDiscussionUnknownTag", testCreateDiscussionUnknownTag},
		{"UpdateDiscussion", testUpdateDiscussion},
		{"DeleteDiscussionCascades", testDeleteDiscussionCascades},
		{"CommentLifecycle", testCommentLifecycle},
		{"CreateCommentUnknownDiscussion", testCreateCommentUnknownDiscussion},
		{"Truncate", testTruncate},
		{"DeletedIDsAreNotReused", testDeletedIDsAreNotReused},
		{"ConcurrentCreatesGetDistinctIDs", testConcurrentCreatesGetDistinctIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

func seeded(t *testing.T, newStore Factory, mode store.IDMode) store.Store {
	t.Helper()
	st := newStore(t, mode)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, store.Reset(context.Background(), st))
	return st
}

func testSeedLoadsFixturesInOrder(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	tags, err := st.ListTopicTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.TopicTag{
		{ID: 1, TagTitle: "6.RP.A.1"},
		{ID: 2, TagTitle: "6.RP.A.2"},
	}, tags)

	discussions, err := st.ListDiscussions(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultFixtures().Discussions, discussions)

	comments, err := st.ListComments(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultFixtures().Comments, comments)
}

func testSeedReplacesRows(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	_, err := st.CreateDiscussion(ctx, &model.Discussion{ID: 40, TagID: 1, Title: "extra", Body: "extra"})
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, st))

	discussions, err := st.ListDiscussions(ctx)
	require.NoError(t, err)
	assert.Len(t, discussions, len(store.DefaultFixtures().Discussions))
	_, err = st.GetDiscussion(ctx, 40)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTopicTagLookup(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	tag, err := st.GetTopicTag(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "6.RP.A.2", tag.TagTitle)

	_, err = st.GetTopicTag(ctx, 99)
	assert.ErrorIs(t, err, store.ErrNotFound)

	id, err := st.CreateTopicTag(ctx, &model.TopicTag{TagTitle: "6.RP.A.3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func testCreateDiscussionClientIDs(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	id, err := st.CreateDiscussion(ctx, &model.Discussion{ID: 10, TagID: 2, Title: "Rates", Body: "Miles per hour"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	got, err := st.GetDiscussion(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.Discussion{ID: 10, TagID: 2, Title: "Rates", Body: "Miles per hour"}, got)

	_, err = st.CreateDiscussion(ctx, &model.Discussion{ID: 10, TagID: 1, Title: "dup", Body: "dup"})
	assert.ErrorIs(t, err, store.ErrDuplicateID)

	id, err = st.CreateDiscussion(ctx, &model.Discussion{TagID: 1, Title: "next", Body: "next"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	byTag, err := st.ListDiscussionsByTag(ctx, 2)
	require.NoError(t, err)
	require.Len(t, byTag, 2)
	assert.Equal(t, int64(2), byTag[0].ID)
	assert.Equal(t, int64(10), byTag[1].ID)
}

func testCreateDiscussionServerIDs(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ServerIDs)
	ctx := context.Background()

	id, err := st.CreateDiscussion(ctx, &model.Discussion{ID: 1, TagID: 1, Title: "ignored id", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	first, err := st.GetDiscussion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Introducing ratio language", first.Title)
}

func testCreateDiscussionUnknownTag(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	_, err := st.CreateDiscussion(ctx, &model.Discussion{ID: 5, TagID: 42, Title: "t", Body: "b"})
	assert.ErrorIs(t, err, store.ErrInvalidReference)

	discussions, err := st.ListDiscussions(ctx)
	require.NoError(t, err)
	assert.Len(t, discussions, 2)
}

func testUpdateDiscussion(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	body := "Revised body"
	patch := model.DiscussionPatch{Body: &body}
	require.NoError(t, st.UpdateDiscussion(ctx, 1, patch))
	require.NoError(t, st.UpdateDiscussion(ctx, 1, patch))

	got, err := st.GetDiscussion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Revised body", got.Body)
	assert.Equal(t, "Introducing ratio language", got.Title)

	missingTag := int64(77)
	err = st.UpdateDiscussion(ctx, 1, model.DiscussionPatch{TagID: &missingTag})
	assert.ErrorIs(t, err, store.ErrInvalidReference)

	err = st.UpdateDiscussion(ctx, 99, patch)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteDiscussionCascades(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	require.NoError(t, st.DeleteDiscussion(ctx, 1))

	_, err := st.GetDiscussion(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	discussions, err := st.ListDiscussions(ctx)
	require.NoError(t, err)
	assert.Len(t, discussions, 1)

	comments, err := st.ListComments(ctx)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(2), comments[0].DiscussionID)

	assert.ErrorIs(t, st.DeleteDiscussion(ctx, 1), store.ErrNotFound)
}

func testCommentLifecycle(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	id, err := st.CreateComment(ctx, &model.Comment{ID: 8, DiscussionID: 2, Body: "Try Desmos"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)

	forDiscussion, err := st.ListCommentsByDiscussion(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, forDiscussion, 2)

	body := "Try Desmos activities"
	require.NoError(t, st.UpdateComment(ctx, 8, model.CommentPatch{Body: &body}))
	got, err := st.GetComment(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)

	require.NoError(t, st.DeleteComment(ctx, 8))
	_, err = st.GetComment(ctx, 8)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, st.DeleteComment(ctx, 8), store.ErrNotFound)
	assert.ErrorIs(t, st.UpdateComment(ctx, 8, model.CommentPatch{Body: &body}), store.ErrNotFound)
}

func testCreateCommentUnknownDiscussion(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)

	_, err := st.CreateComment(context.Background(), &model.Comment{DiscussionID: 50, Body: "lost"})
	assert.ErrorIs(t, err, store.ErrInvalidReference)
}

func testTruncate(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	require.NoError(t, st.Truncate(ctx))
	tags, err := st.ListTopicTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
	discussions, err := st.ListDiscussions(ctx)
	require.NoError(t, err)
	assert.Empty(t, discussions)
}

func testDeletedIDsAreNotReused(t *testing.T, newStore Factory) {
	modes := map[string]store.IDMode{"ClientIDs": store.ClientIDs, "ServerIDs": store.ServerIDs}
	for name, mode := range modes {
		t.Run(name, func(t *testing.T) {
			deletedIDsAreNotReused(t, seeded(t, newStore, mode))
		})
	}
}

func deletedIDsAreNotReused(t *testing.T, st store.Store) {
	ctx := context.Background()

	id, err := st.CreateComment(ctx, &model.Comment{DiscussionID: 2, Body: "first"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	require.NoError(t, st.DeleteComment(ctx, id))

	id, err = st.CreateComment(ctx, &model.Comment{DiscussionID: 2, Body: "second"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	require.NoError(t, st.DeleteDiscussion(ctx, 2))
	id, err = st.CreateDiscussion(ctx, &model.Discussion{TagID: 1, Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	require.NoError(t, st.DeleteDiscussion(ctx, id))
	id, err = st.CreateDiscussion(ctx, &model.Discussion{TagID: 1, Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	// reseeding starts the sequence over
	require.NoError(t, store.Reset(ctx, st))
	id, err = st.CreateComment(ctx, &model.Comment{DiscussionID: 1, Body: "after reset"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func testConcurrentCreatesGetDistinctIDs(t *testing.T, newStore Factory) {
	st := seeded(t, newStore, store.ClientIDs)
	ctx := context.Background()

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.CreateComment(ctx, &model.Comment{DiscussionID: 1, Body: "concurrent"})
			if assert.NoError(t, err) {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	comments, err := st.ListComments(ctx)
	require.NoError(t, err)
	assert.Len(t, comments, 3+n)
}
