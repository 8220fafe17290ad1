// Package gormstore implements store.Store on top of gorm. Production
// deployments use the postgres dialect through the pgx driver.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"

	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/store"
)

type topicTagRow struct {
	ID       int64  `gorm:"primary_key;auto_increment:false"`
	TagTitle string `gorm:"not null"`
}

func (topicTagRow) TableName() string { return "topic_tags" }

type discussionRow struct {
	ID    int64  `gorm:"primary_key;auto_increment:false"`
	TagID int64  `gorm:"not null;index"`
	Title string `gorm:"not null"`
	Body  string `gorm:"type:text;not null"`
}

func (discussionRow) TableName() string { return "discussions" }

type commentRow struct {
	ID           int64  `gorm:"primary_key;auto_increment:false"`
	DiscussionID int64  `gorm:"not null;index"`
	Body         string `gorm:"type:text;not null"`
}

func (commentRow) TableName() string { return "comments" }

// idCounterRow is the highest id a table has ever held.
type idCounterRow struct {
	Name   string `gorm:"column:table_name;primary_key"`
	LastID int64  `gorm:"not null"`
}

func (idCounterRow) TableName() string { return "id_counters" }

type Store struct {
	db     *gorm.DB
	idMode store.IDMode
}

var _ store.Store = (*Store)(nil)

// OpenPostgres connects to dsn with the pgx driver and migrates the schema.
func OpenPostgres(dsn string, idMode store.IDMode) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}
	db, err := gorm.Open("postgres", sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return New(db, idMode)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB, idMode store.IDMode) (*Store, error) {
	db.LogMode(false)
	s := &Store{db: db, idMode: idMode}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close the database connection: %w", err)
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.AutoMigrate(&topicTagRow{}, &discussionRow{}, &commentRow{}, &idCounterRow{}).Error; err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if s.db.Dialect().GetName() != "postgres" {
		return nil
	}
	// AutoMigrate does not create constraints; sqlite cannot add them later,
	// so references are also checked in every write path below.
	fks := []struct {
		model    any
		table    string
		field    string
		dest     string
		onDelete string
	}{
		{&discussionRow{}, "discussions", "tag_id", "topic_tags(id)", "RESTRICT"},
		{&commentRow{}, "comments", "discussion_id", "discussions(id)", "CASCADE"},
	}
	for _, fk := range fks {
		var n int
		if err := s.db.Raw(`SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_name = ? AND constraint_type = 'FOREIGN KEY'`, fk.table).Row().Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := s.db.Model(fk.model).AddForeignKey(fk.field, fk.dest, fk.onDelete, "RESTRICT").Error; err != nil {
			return fmt.Errorf("failed to add foreign key %s: %w", fk.field, err)
		}
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		return truncate(tx)
	})
}

func (s *Store) Seed(ctx context.Context, fx model.Fixtures) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := truncate(tx); err != nil {
			return err
		}
		for _, t := range fx.TopicTags {
			row := topicTagRow{ID: t.ID, TagTitle: t.TagTitle}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed topic tag %d: %w", t.ID, mapErr(err))
			}
		}
		for _, d := range fx.Discussions {
			if err := requireRow(tx, &topicTagRow{}, d.TagID); err != nil {
				return fmt.Errorf("seed discussion %d: %w", d.ID, err)
			}
			row := discussionRow{ID: d.ID, TagID: d.TagID, Title: d.Title, Body: d.Body}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed discussion %d: %w", d.ID, mapErr(err))
			}
		}
		for _, c := range fx.Comments {
			if err := requireRow(tx, &discussionRow{}, c.DiscussionID); err != nil {
				return fmt.Errorf("seed comment %d: %w", c.ID, err)
			}
			row := commentRow{ID: c.ID, DiscussionID: c.DiscussionID, Body: c.Body}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed comment %d: %w", c.ID, mapErr(err))
			}
		}
		for _, m := range []tabler{&topicTagRow{}, &discussionRow{}, &commentRow{}} {
			table := m.TableName()
			if err := tx.Exec("INSERT INTO id_counters (table_name, last_id) SELECT ?, COALESCE(MAX(id), 0) FROM "+table, table).Error; err != nil {
				return fmt.Errorf("record %s ids: %w", table, err)
			}
		}
		return nil
	})
}

func truncate(tx *gorm.DB) error {
	for _, m := range []any{&commentRow{}, &discussionRow{}, &topicTagRow{}, &idCounterRow{}} {
		if err := tx.Delete(m).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateTopicTag(ctx context.Context, tag *model.TopicTag) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var err error
		id, err = s.assignID(tx, &topicTagRow{}, tag.ID)
		if err != nil {
			return err
		}
		return mapErr(tx.Create(&topicTagRow{ID: id, TagTitle: tag.TagTitle}).Error)
	})
	return id, err
}

func (s *Store) GetTopicTag(ctx context.Context, id int64) (model.TopicTag, error) {
	var row topicTagRow
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		return model.TopicTag{}, notFound(err)
	}
	return model.TopicTag{ID: row.ID, TagTitle: row.TagTitle}, nil
}

func (s *Store) ListTopicTags(ctx context.Context) ([]model.TopicTag, error) {
	var rows []topicTagRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not get topic tags: %w", err)
	}
	tags := make([]model.TopicTag, 0, len(rows))
	for _, r := range rows {
		tags = append(tags, model.TopicTag{ID: r.ID, TagTitle: r.TagTitle})
	}
	return tags, nil
}

func (s *Store) CreateDiscussion(ctx context.Context, d *model.Discussion) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &topicTagRow{}, d.TagID); err != nil {
			return fmt.Errorf("topic tag %d: %w", d.TagID, err)
		}
		var err error
		id, err = s.assignID(tx, &discussionRow{}, d.ID)
		if err != nil {
			return err
		}
		row := discussionRow{ID: id, TagID: d.TagID, Title: d.Title, Body: d.Body}
		return mapErr(tx.Create(&row).Error)
	})
	return id, err
}

func (s *Store) GetDiscussion(ctx context.Context, id int64) (model.Discussion, error) {
	var row discussionRow
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		return model.Discussion{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListDiscussions(ctx context.Context) ([]model.Discussion, error) {
	return s.findDiscussions(s.db)
}

func (s *Store) ListDiscussionsByTag(ctx context.Context, tagID int64) ([]model.Discussion, error) {
	return s.findDiscussions(s.db.Where("tag_id = ?", tagID))
}

func (s *Store) findDiscussions(q *gorm.DB) ([]model.Discussion, error) {
	var rows []discussionRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not get discussions: %w", err)
	}
	out := make([]model.Discussion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) UpdateDiscussion(ctx context.Context, id int64, patch model.DiscussionPatch) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &discussionRow{}, id); err != nil {
			return notFound(err)
		}
		updates := map[string]any{}
		if patch.TagID != nil {
			if err := requireRow(tx, &topicTagRow{}, *patch.TagID); err != nil {
				return fmt.Errorf("topic tag %d: %w", *patch.TagID, err)
			}
			updates["tag_id"] = *patch.TagID
		}
		if patch.Title != nil {
			updates["title"] = *patch.Title
		}
		if patch.Body != nil {
			updates["body"] = *patch.Body
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&discussionRow{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (s *Store) DeleteDiscussion(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("discussion_id = ?", id).Delete(&commentRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&discussionRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) CreateComment(ctx context.Context, c *model.Comment) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &discussionRow{}, c.DiscussionID); err != nil {
			return fmt.Errorf("discussion %d: %w", c.DiscussionID, err)
		}
		var err error
		id, err = s.assignID(tx, &commentRow{}, c.ID)
		if err != nil {
			return err
		}
		row := commentRow{ID: id, DiscussionID: c.DiscussionID, Body: c.Body}
		return mapErr(tx.Create(&row).Error)
	})
	return id, err
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	var row commentRow
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		return model.Comment{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListComments(ctx context.Context) ([]model.Comment, error) {
	return s.findComments(s.db)
}

func (s *Store) ListCommentsByDiscussion(ctx context.Context, discussionID int64) ([]model.Comment, error) {
	return s.findComments(s.db.Where("discussion_id = ?", discussionID))
}

func (s *Store) findComments(q *gorm.DB) ([]model.Comment, error) {
	var rows []commentRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not get comments: %w", err)
	}
	out := make([]model.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) UpdateComment(ctx context.Context, id int64, patch model.CommentPatch) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &commentRow{}, id); err != nil {
			return notFound(err)
		}
		if patch.Body == nil {
			return nil
		}
		return tx.Model(&commentRow{}).Where("id = ?", id).Update("body", *patch.Body).Error
	})
}

func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&commentRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// inTx runs fn in a transaction bound to ctx. gorm v1 has no per-query
// context, so reads outside a transaction do not observe cancellation.
func (s *Store) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.BeginTx(ctx, nil)
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// assignID returns the id for a new row of table m and advances the
// table's high-water mark, so ids of deleted rows are never handed out
// again. On postgres a transaction-scoped advisory lock serializes
// allocation per table; sqlite already serializes writers.
func (s *Store) assignID(tx *gorm.DB, m tabler, requested int64) (int64, error) {
	table := m.TableName()
	if tx.Dialect().GetName() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", table).Error; err != nil {
			return 0, fmt.Errorf("lock %s ids: %w", table, err)
		}
	}

	var highest sql.NullInt64
	if err := tx.Model(m).Select("MAX(id)").Row().Scan(&highest); err != nil {
		return 0, err
	}
	var counter idCounterRow
	err := tx.Where("table_name = ?", table).First(&counter).Error
	found := err == nil
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return 0, err
	}
	last := max(counter.LastID, highest.Int64)

	id := last + 1
	if s.idMode == store.ClientIDs && requested > 0 {
		var n int
		if err := tx.Model(m).Where("id = ?", requested).Count(&n).Error; err != nil {
			return 0, err
		}
		if n > 0 {
			return 0, fmt.Errorf("id %d: %w", requested, store.ErrDuplicateID)
		}
		id = requested
	}
	if id <= last {
		return id, nil
	}
	if found {
		err = tx.Model(&idCounterRow{}).Where("table_name = ?", table).Update("last_id", id).Error
	} else {
		err = tx.Create(&idCounterRow{Name: table, LastID: id}).Error
	}
	return id, err
}

type tabler interface {
	TableName() string
}

func requireRow(tx *gorm.DB, m any, id int64) error {
	var n int
	if err := tx.Model(m).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return store.ErrInvalidReference
	}
	return nil
}

func notFound(err error) error {
	if gorm.IsRecordNotFoundError(err) || errors.Is(err, store.ErrInvalidReference) {
		return store.ErrNotFound
	}
	return err
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return fmt.Errorf("%w: %v", store.ErrDuplicateID, err)
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") || strings.Contains(msg, "violates foreign key constraint") {
		return fmt.Errorf("%w: %v", store.ErrInvalidReference, err)
	}
	return err
}

func (r discussionRow) toModel() model.Discussion {
	return model.Discussion{ID: r.ID, TagID: r.TagID, Title: r.Title, Body: r.Body}
}

func (r commentRow) toModel() model.Comment {
	return model.Comment{ID: r.ID, DiscussionID: r.DiscussionID, Body: r.Body}
}
