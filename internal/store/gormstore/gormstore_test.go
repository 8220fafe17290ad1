package gormstore

import (
	"context"
	"testing"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/store"
	"github.com/teacherforum/teacherforum/internal/store/storetest"
)

// setupTestDB opens an in-memory sqlite database. Postgres itself is not
// exercised here since it needs a running server.
func setupTestDB(t *testing.T, mode store.IDMode) *Store {
	t.Helper()
	db, err := gorm.Open("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to connect to in-memory SQLite")
	// every new connection would get its own empty :memory: database
	db.DB().SetMaxOpenConns(1)

	st, err := New(db, mode)
	require.NoError(t, err, "Failed to migrate database schema")
	return st
}

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, mode store.IDMode) store.Store {
		return setupTestDB(t, mode)
	})
}

func TestMigrateTwice(t *testing.T) {
	st := setupTestDB(t, store.ClientIDs)
	defer st.Close()

	require.NoError(t, st.Migrate(context.Background()))
	assert.True(t, st.db.HasTable(&discussionRow{}))
	assert.True(t, st.db.HasTable("comments"))
}

func TestUpdateWithoutFieldsChecksExistence(t *testing.T) {
	st := setupTestDB(t, store.ClientIDs)
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, store.Reset(ctx, st))

	assert.NoError(t, st.UpdateDiscussion(ctx, 1, model.DiscussionPatch{}))
	assert.ErrorIs(t, st.UpdateDiscussion(ctx, 9, model.DiscussionPatch{}), store.ErrNotFound)
	assert.ErrorIs(t, st.UpdateComment(ctx, 9, model.CommentPatch{}), store.ErrNotFound)
}

func TestWritesHonorCanceledContext(t *testing.T) {
	st := setupTestDB(t, store.ClientIDs)
	defer st.Close()
	require.NoError(t, store.Reset(context.Background(), st))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.CreateDiscussion(ctx, &model.Discussion{TagID: 1, Title: "t", Body: "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, st.DeleteComment(ctx, 1), context.Canceled)

	_, err = st.GetComment(context.Background(), 1)
	assert.NoError(t, err)
}

func TestSeedRecordsHighWaterMarks(t *testing.T) {
	st := setupTestDB(t, store.ServerIDs)
	defer st.Close()
	require.NoError(t, store.Reset(context.Background(), st))

	var counters []idCounterRow
	require.NoError(t, st.db.Order("table_name").Find(&counters).Error)
	assert.Equal(t, []idCounterRow{
		{Name: "comments", LastID: 3},
		{Name: "discussions", LastID: 2},
		{Name: "topic_tags", LastID: 2},
	}, counters)
}
