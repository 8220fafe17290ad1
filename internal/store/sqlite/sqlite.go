package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	idMode store.IDMode
}

var _ store.Store = (*Store)(nil)

// Open connects to the database at path and applies pending migrations.
// path may be a file name or a sqlite URI such as
// "file:test?mode=memory&cache=shared".
func Open(path string, idMode store.IDMode) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(path))
	if err != nil {
		return nil, err
	}
	// One connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, idMode: idMode}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS topic_tags (
	id INTEGER PRIMARY KEY,
	tag_title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS discussions (
	id INTEGER PRIMARY KEY,
	tag_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	FOREIGN KEY(tag_id) REFERENCES topic_tags(id)
);
CREATE INDEX IF NOT EXISTS idx_discussions_tag_id ON discussions(tag_id);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY,
	discussion_id INTEGER NOT NULL,
	body TEXT NOT NULL,
	FOREIGN KEY(discussion_id) REFERENCES discussions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_comments_discussion_id ON comments(discussion_id);
`,
	// Migration 2: id high-water marks so deleted ids are not reissued
	`
CREATE TABLE IF NOT EXISTS id_counters (
	table_name TEXT PRIMARY KEY,
	last_id INTEGER NOT NULL
);
`,
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return applySchema(ctx, s.db)
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

func (s *Store) Truncate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := truncate(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Seed(ctx context.Context, fx model.Fixtures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := truncate(ctx, tx); err != nil {
		return err
	}
	for _, t := range fx.TopicTags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO topic_tags (id, tag_title) VALUES (?, ?)`, t.ID, t.TagTitle); err != nil {
			return fmt.Errorf("seed topic tag %d: %w", t.ID, mapErr(err))
		}
	}
	for _, d := range fx.Discussions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO discussions (id, tag_id, title, body) VALUES (?, ?, ?, ?)`, d.ID, d.TagID, d.Title, d.Body); err != nil {
			return fmt.Errorf("seed discussion %d: %w", d.ID, mapErr(err))
		}
	}
	for _, c := range fx.Comments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO comments (id, discussion_id, body) VALUES (?, ?, ?)`, c.ID, c.DiscussionID, c.Body); err != nil {
			return fmt.Errorf("seed comment %d: %w", c.ID, mapErr(err))
		}
	}
	for _, table := range idTables {
		if _, err := tx.ExecContext(ctx, `INSERT INTO id_counters (table_name, last_id) SELECT ?, COALESCE(MAX(id), 0) FROM `+table, table); err != nil {
			return fmt.Errorf("record %s ids: %w", table, err)
		}
	}
	return tx.Commit()
}

var idTables = []string{"topic_tags", "discussions", "comments"}

func truncate(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"comments", "discussions", "topic_tags", "id_counters"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateTopicTag(ctx context.Context, tag *model.TopicTag) (int64, error) {
	return s.insert(ctx, "topic_tags", tag.ID, func(tx *sql.Tx, id int64) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO topic_tags (id, tag_title) VALUES (?, ?)`, id, tag.TagTitle)
		return err
	})
}

func (s *Store) GetTopicTag(ctx context.Context, id int64) (model.TopicTag, error) {
	var t model.TopicTag
	err := s.db.QueryRowContext(ctx, `SELECT id, tag_title FROM topic_tags WHERE id = ?`, id).Scan(&t.ID, &t.TagTitle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TopicTag{}, store.ErrNotFound
		}
		return model.TopicTag{}, err
	}
	return t, nil
}

func (s *Store) ListTopicTags(ctx context.Context) ([]model.TopicTag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tag_title FROM topic_tags ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]model.TopicTag, 0)
	for rows.Next() {
		var t model.TopicTag
		if err := rows.Scan(&t.ID, &t.TagTitle); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) CreateDiscussion(ctx context.Context, d *model.Discussion) (int64, error) {
	return s.insert(ctx, "discussions", d.ID, func(tx *sql.Tx, id int64) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO discussions (id, tag_id, title, body)
VALUES (?, ?, ?, ?)
`, id, d.TagID, d.Title, d.Body)
		return err
	})
}

func (s *Store) GetDiscussion(ctx context.Context, id int64) (model.Discussion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tag_id, title, body FROM discussions WHERE id = ?`, id)
	return scanDiscussion(row)
}

func (s *Store) ListDiscussions(ctx context.Context) ([]model.Discussion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tag_id, title, body FROM discussions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectDiscussions(rows)
}

func (s *Store) ListDiscussionsByTag(ctx context.Context, tagID int64) ([]model.Discussion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tag_id, title, body FROM discussions WHERE tag_id = ? ORDER BY id`, tagID)
	if err != nil {
		return nil, err
	}
	return collectDiscussions(rows)
}

func (s *Store) UpdateDiscussion(ctx context.Context, id int64, patch model.DiscussionPatch) error {
	var sets []string
	var args []any
	if patch.TagID != nil {
		sets = append(sets, "tag_id = ?")
		args = append(args, *patch.TagID)
	}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Body != nil {
		sets = append(sets, "body = ?")
		args = append(args, *patch.Body)
	}
	if len(sets) == 0 {
		_, err := s.GetDiscussion(ctx, id)
		return err
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE discussions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteDiscussion(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE discussion_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM discussions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateComment(ctx context.Context, c *model.Comment) (int64, error) {
	return s.insert(ctx, "comments", c.ID, func(tx *sql.Tx, id int64) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO comments (id, discussion_id, body)
VALUES (?, ?, ?)
`, id, c.DiscussionID, c.Body)
		return err
	})
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	var c model.Comment
	err := s.db.QueryRowContext(ctx, `SELECT id, discussion_id, body FROM comments WHERE id = ?`, id).Scan(&c.ID, &c.DiscussionID, &c.Body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, discussion_id, body FROM comments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectComments(rows)
}

func (s *Store) ListCommentsByDiscussion(ctx context.Context, discussionID int64) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, discussion_id, body FROM comments WHERE discussion_id = ? ORDER BY id`, discussionID)
	if err != nil {
		return nil, err
	}
	return collectComments(rows)
}

func (s *Store) UpdateComment(ctx context.Context, id int64, patch model.CommentPatch) error {
	if patch.Body == nil {
		_, err := s.GetComment(ctx, id)
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET body = ? WHERE id = ?`, *patch.Body, id)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// insert allocates an id for a new row of table and runs write with it in
// one transaction.
func (s *Store) insert(ctx context.Context, table string, requested int64, write func(tx *sql.Tx, id int64) error) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := s.nextID(ctx, tx, table, requested)
	if err != nil {
		return 0, err
	}
	if err := write(tx, id); err != nil {
		return 0, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// nextID honors a requested id in client mode and otherwise hands out one
// past the highest id the table has ever held. Either way the table's
// high-water mark in id_counters is advanced.
func (s *Store) nextID(ctx context.Context, tx *sql.Tx, table string, requested int64) (int64, error) {
	var last int64
	err := tx.QueryRowContext(ctx, `
SELECT MAX(
	COALESCE((SELECT last_id FROM id_counters WHERE table_name = ?), 0),
	COALESCE((SELECT MAX(id) FROM `+table+`), 0)
)`, table).Scan(&last)
	if err != nil {
		return 0, err
	}
	id := last + 1
	if s.idMode == store.ClientIDs && requested > 0 {
		id = requested
	}
	if id > last {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO id_counters (table_name, last_id) VALUES (?, ?)
ON CONFLICT(table_name) DO UPDATE SET last_id = excluded.last_id
`, table, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func scanDiscussion(scanner interface{ Scan(dest ...any) error }) (model.Discussion, error) {
	var d model.Discussion
	if err := scanner.Scan(&d.ID, &d.TagID, &d.Title, &d.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Discussion{}, store.ErrNotFound
		}
		return model.Discussion{}, err
	}
	return d, nil
}

func collectDiscussions(rows *sql.Rows) ([]model.Discussion, error) {
	defer rows.Close()
	discussions := make([]model.Discussion, 0)
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, err
		}
		discussions = append(discussions, d)
	}
	return discussions, rows.Err()
}

func collectComments(rows *sql.Rows) ([]model.Comment, error) {
	defer rows.Close()
	comments := make([]model.Comment, 0)
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.DiscussionID, &c.Body); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicateID, err)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", store.ErrInvalidReference, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
