package httpapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/teacherforum/teacherforum/internal/auth"
	"github.com/teacherforum/teacherforum/internal/config"
	"github.com/teacherforum/teacherforum/internal/logging"
	"github.com/teacherforum/teacherforum/internal/model"
	"github.com/teacherforum/teacherforum/internal/rate"
	"github.com/teacherforum/teacherforum/internal/store"
	"github.com/teacherforum/teacherforum/internal/store/sqlite"
)

type testClient struct {
	server *httptest.Server
	client *http.Client
	store  store.Store
}

func testConfig() config.Config {
	return config.Config{
		AppName:    "Teacher Forum",
		AuthScheme: config.SchemeEither,
		TokenTTL:   time.Hour,
		RateLimits: config.RateLimits{AuthPerMinute: 1000, WritePerMinute: 1000},
	}
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	return newTestClientWithConfig(t, testConfig(), store.ClientIDs)
}

func newTestClientWithConfig(t *testing.T, cfg config.Config, mode store.IDMode) *testClient {
	t.Helper()
	dsnName := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnName), mode)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Reset(context.Background(), st); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	authSvc := auth.NewService([]byte("test-secret"), cfg.TokenTTL, auth.Scheme(cfg.AuthScheme))
	server, err := NewServer(st, authSvc, rate.NewMemory(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return &testClient{server: ts, client: ts.Client(), store: st}
}

func (c *testClient) do(t *testing.T, method, path string, body any, authHeader string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, _ := json.Marshal(b)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (c *testClient) expect(t *testing.T, method, path string, body any, authHeader string, want int) []byte {
	t.Helper()
	resp, data := c.do(t, method, path, body, authHeader)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, string(data))
	}
	return data
}

func (c *testClient) token(t *testing.T) string {
	t.Helper()
	data := c.expect(t, http.MethodPost, "/api/v1/authenticate",
		map[string]string{"email": "teacher@school.org", "appName": "forum-tests"}, "", http.StatusCreated)
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, data, &resp)
	if resp.Token == "" {
		t.Fatalf("expected token in %s", string(data))
	}
	return resp.Token
}

func decode(t *testing.T, data []byte, dest any) {
	t.Helper()
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("json parse %q: %v", string(data), err)
	}
}

func (c *testClient) discussions(t *testing.T) []model.Discussion {
	t.Helper()
	var out []model.Discussion
	decode(t, c.expect(t, http.MethodGet, "/api/v1/discussions", nil, "", http.StatusOK), &out)
	return out
}

func (c *testClient) comments(t *testing.T) []model.Comment {
	t.Helper()
	var out []model.Comment
	decode(t, c.expect(t, http.MethodGet, "/api/v1/comments", nil, "", http.StatusOK), &out)
	return out
}

func containsDiscussion(list []model.Discussion, id int64) bool {
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}

func TestHomepage(t *testing.T) {
	c := newTestClient(t)

	resp, body := c.do(t, http.MethodGet, "/", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	for _, want := range []string{"Teacher Forum", "6.RP.A.1", "Introducing ratio language"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected homepage to contain %q", want)
		}
	}
}

func TestHomepageTruncatesOnRuneBoundary(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	body := strings.Repeat("a", 119) + "éééé"
	c.expect(t, http.MethodPost, "/api/v1/topicTags/1/discussions", map[string]any{
		"title": "Accents", "body": body,
	}, bearer, http.StatusCreated)

	page := c.expect(t, http.MethodGet, "/", nil, "", http.StatusOK)
	if !utf8.Valid(page) {
		t.Fatal("homepage is not valid UTF-8")
	}
	if want := strings.Repeat("a", 119) + "é..."; !strings.Contains(string(page), want) {
		t.Fatalf("expected truncated body %q in homepage", want)
	}
}

func TestUnknownRoutesReturn404(t *testing.T) {
	c := newTestClient(t)

	cases := []struct {
		method string
		path   string
		json   bool
	}{
		{http.MethodGet, "/sadness", false},
		{http.MethodGet, "/sadness/with/more/segments", false},
		{http.MethodPost, "/", false},
		{http.MethodGet, "/api/v1/sadness", true},
		{http.MethodGet, "/api/v1/sadness/a/b/c", true},
		{http.MethodGet, "/api/v1/topicTags/abc", true},
		{http.MethodGet, "/api/v1/topicTags/1/extra", true},
		{http.MethodGet, "/api/v1/discussions/1/comments/9", true},
		{http.MethodPut, "/api/v1/discussions/1", true},
		{http.MethodDelete, "/api/v1/topicTags/1", true},
		{http.MethodGet, "/api/v2/topicTags", true},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := c.do(t, tc.method, tc.path, nil, "")
			if resp.StatusCode != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", resp.StatusCode)
			}
			if tc.json {
				var payload map[string]string
				decode(t, body, &payload)
				if payload["error"] != "not found" {
					t.Fatalf("expected not found error, got %v", payload)
				}
			}
		})
	}
}

func TestListTopicTags(t *testing.T) {
	c := newTestClient(t)

	var tags []model.TopicTag
	decode(t, c.expect(t, http.MethodGet, "/api/v1/topicTags", nil, "", http.StatusOK), &tags)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}
	want := []model.TopicTag{{ID: 1, TagTitle: "6.RP.A.1"}, {ID: 2, TagTitle: "6.RP.A.2"}}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag %d: expected %+v, got %+v", i, want[i], tags[i])
		}
	}
}

func TestGetTopicTag(t *testing.T) {
	c := newTestClient(t)

	var tags []model.TopicTag
	decode(t, c.expect(t, http.MethodGet, "/api/v1/topicTags/2", nil, "", http.StatusOK), &tags)
	if len(tags) != 1 || tags[0].TagTitle != "6.RP.A.2" {
		t.Fatalf("unexpected tags %+v", tags)
	}
	c.expect(t, http.MethodGet, "/api/v1/topicTags/99", nil, "", http.StatusNotFound)

	var discussions []model.Discussion
	decode(t, c.expect(t, http.MethodGet, "/api/v1/topicTags/1/discussions", nil, "", http.StatusOK), &discussions)
	if len(discussions) != 1 || discussions[0].TagID != 1 {
		t.Fatalf("unexpected tag discussions %+v", discussions)
	}
	c.expect(t, http.MethodGet, "/api/v1/topicTags/99/discussions", nil, "", http.StatusNotFound)
}

func TestAuthenticate(t *testing.T) {
	c := newTestClient(t)
	c.token(t)

	c.expect(t, http.MethodPost, "/api/v1/authenticate", map[string]string{"email": "teacher@school.org"}, "", http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/authenticate", map[string]string{"email": "nobody", "appName": "x"}, "", http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/authenticate", "{not json", "", http.StatusBadRequest)
	c.expect(t, http.MethodPost, "/api/v1/authenticate", "", "", http.StatusBadRequest)
}

func TestCreateDiscussionRoundTrip(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	before := c.discussions(t)

	var created model.Discussion
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions/", map[string]any{
		"id": 3, "tagId": 1, "title": "Ratio tables", "body": "How do you introduce them?",
	}, bearer, http.StatusCreated), &created)
	if created.ID != 3 || created.TagID != 1 || created.Title != "Ratio tables" {
		t.Fatalf("unexpected created discussion %+v", created)
	}

	after := c.discussions(t)
	if len(after) != len(before)+1 {
		t.Fatalf("expected %d discussions, got %d", len(before)+1, len(after))
	}
	if !containsDiscussion(after, 3) {
		t.Fatalf("expected discussion 3 in %+v", after)
	}

	var auto model.Discussion
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"tagId": 2, "title": "No id", "body": "server picks",
	}, bearer, http.StatusCreated), &auto)
	if auto.ID != 4 {
		t.Fatalf("expected next free id 4, got %d", auto.ID)
	}
}

func TestCreateDiscussionRejects(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"id": 1, "tagId": 1, "title": "dup", "body": "dup",
	}, bearer, http.StatusConflict)
	c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"tagId": 42, "title": "t", "body": "b",
	}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"tagId": 1, "body": "b",
	}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"title": "t", "body": "b",
	}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"tagId": 1, "title": "t", "body": "b", "author": "x",
	}, bearer, http.StatusBadRequest)

	c.expect(t, http.MethodPost, "/api/v1/discussions", `{"tagId":1,"title":"t","body":"b"} trailing`, bearer, http.StatusBadRequest)
	c.expect(t, http.MethodPost, "/api/v1/discussions", `{"tagId":1,"title":"t","body":"b"}{"tagId":1}`, bearer, http.StatusBadRequest)

	if got := len(c.discussions(t)); got != 2 {
		t.Fatalf("expected no new discussions, got %d", got)
	}
}

func TestCreateTagDiscussion(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	var created []model.Discussion
	decode(t, c.expect(t, http.MethodPost, "/api/v1/topicTags/2/discussions", map[string]any{
		"id": 5, "title": "Unit price", "body": "Grocery flyers work well.",
	}, bearer, http.StatusCreated), &created)
	if len(created) != 1 || created[0].ID != 5 || created[0].TagID != 2 {
		t.Fatalf("unexpected created %+v", created)
	}

	c.expect(t, http.MethodPost, "/api/v1/topicTags/99/discussions", map[string]any{
		"title": "t", "body": "b",
	}, bearer, http.StatusNotFound)
	c.expect(t, http.MethodPost, "/api/v1/topicTags/2/discussions", map[string]any{
		"tagId": 1, "title": "t", "body": "b",
	}, bearer, http.StatusUnprocessableEntity)
}

func TestPatchDiscussionIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	for i := 0; i < 2; i++ {
		c.expect(t, http.MethodPatch, "/api/v1/discussions/1", map[string]any{"body": "Revised body"}, bearer, http.StatusNoContent)
		var got []model.Discussion
		decode(t, c.expect(t, http.MethodGet, "/api/v1/discussions/1", nil, "", http.StatusOK), &got)
		if len(got) != 1 || got[0].Body != "Revised body" {
			t.Fatalf("run %d: unexpected discussion %+v", i+1, got)
		}
		if got[0].Title != "Introducing ratio language" {
			t.Fatalf("title should be untouched, got %q", got[0].Title)
		}
	}

	c.expect(t, http.MethodPatch, "/api/v1/discussions/1", map[string]any{"tagId": 2}, bearer, http.StatusNoContent)
	c.expect(t, http.MethodPatch, "/api/v1/discussions/1", map[string]any{"tagId": 9}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPatch, "/api/v1/discussions/1", map[string]any{}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPatch, "/api/v1/discussions/1", map[string]any{"id": 7, "body": "x"}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPatch, "/api/v1/discussions/99", map[string]any{"body": "x"}, bearer, http.StatusNotFound)
}

func TestDeleteDiscussionCascades(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	before := c.discussions(t)
	c.expect(t, http.MethodDelete, "/api/v1/discussions/1", nil, bearer, http.StatusNoContent)

	after := c.discussions(t)
	if len(after) != len(before)-1 || containsDiscussion(after, 1) {
		t.Fatalf("expected discussion 1 removed, got %+v", after)
	}
	c.expect(t, http.MethodGet, "/api/v1/discussions/1", nil, "", http.StatusNotFound)
	c.expect(t, http.MethodGet, "/api/v1/discussions/1/comments", nil, "", http.StatusNotFound)
	c.expect(t, http.MethodGet, "/api/v1/comments/1", nil, "", http.StatusNotFound)

	remaining := c.comments(t)
	if len(remaining) != 1 || remaining[0].DiscussionID != 2 {
		t.Fatalf("expected only discussion 2's comment to survive, got %+v", remaining)
	}
	c.expect(t, http.MethodDelete, "/api/v1/discussions/1", nil, bearer, http.StatusNotFound)
}

func TestCommentLifecycle(t *testing.T) {
	c := newTestClient(t)
	bearer := "Bearer " + c.token(t)

	var listed []model.Comment
	decode(t, c.expect(t, http.MethodGet, "/api/v1/discussions/1/comments", nil, "", http.StatusOK), &listed)
	if len(listed) != 2 {
		t.Fatalf("expected 2 seeded comments, got %d", len(listed))
	}

	var created []model.Comment
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions/2/comments", map[string]any{
		"id": 4, "body": "We use a number line.",
	}, bearer, http.StatusCreated), &created)
	if len(created) != 1 || created[0].ID != 4 || created[0].DiscussionID != 2 {
		t.Fatalf("unexpected created %+v", created)
	}

	c.expect(t, http.MethodPatch, "/api/v1/comments/4", map[string]any{"body": "We use double number lines."}, bearer, http.StatusNoContent)
	var got []model.Comment
	decode(t, c.expect(t, http.MethodGet, "/api/v1/comments/4", nil, "", http.StatusOK), &got)
	if len(got) != 1 || got[0].Body != "We use double number lines." {
		t.Fatalf("unexpected comment %+v", got)
	}

	c.expect(t, http.MethodDelete, "/api/v1/comments/4", nil, bearer, http.StatusNoContent)
	c.expect(t, http.MethodGet, "/api/v1/comments/4", nil, "", http.StatusNotFound)
	c.expect(t, http.MethodDelete, "/api/v1/comments/4", nil, bearer, http.StatusNotFound)

	c.expect(t, http.MethodPost, "/api/v1/discussions/99/comments", map[string]any{"body": "x"}, bearer, http.StatusNotFound)
	c.expect(t, http.MethodPost, "/api/v1/discussions/1/comments", map[string]any{"body": " "}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPost, "/api/v1/discussions/1/comments", map[string]any{"id": 1, "body": "dup"}, bearer, http.StatusConflict)
	c.expect(t, http.MethodPatch, "/api/v1/comments/1", map[string]any{"discussionId": 2, "body": "move"}, bearer, http.StatusUnprocessableEntity)
	c.expect(t, http.MethodPatch, "/api/v1/comments/99", map[string]any{"body": "x"}, bearer, http.StatusNotFound)
	c.expect(t, http.MethodPatch, "/api/v1/comments/1", `{"body":"x"} trailing`, bearer, http.StatusBadRequest)
	c.expect(t, http.MethodPatch, "/api/v1/comments/1", "{\"body\":\"Tape diagrams worked well.\"}\n", bearer, http.StatusNoContent)
}

func TestMutationsRequireAuthorization(t *testing.T) {
	c := newTestClient(t)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/v1/discussions", map[string]any{"id": 9, "tagId": 1, "title": "t", "body": "b"}},
		{http.MethodPost, "/api/v1/topicTags/1/discussions", map[string]any{"title": "t", "body": "b"}},
		{http.MethodPatch, "/api/v1/discussions/1", map[string]any{"body": "hijacked"}},
		{http.MethodDelete, "/api/v1/discussions/1", nil},
		{http.MethodPost, "/api/v1/discussions/1/comments", map[string]any{"body": "b"}},
		{http.MethodPatch, "/api/v1/comments/1", map[string]any{"body": "hijacked"}},
		{http.MethodDelete, "/api/v1/comments/1", nil},
	}
	for _, header := range []string{"", "Bearer not-a-token", "garbage"} {
		for _, tc := range cases {
			resp, body := c.do(t, tc.method, tc.path, tc.body, header)
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("%s %s with %q: expected 403, got %d: %s", tc.method, tc.path, header, resp.StatusCode, string(body))
			}
		}
	}

	discussions := c.discussions(t)
	if len(discussions) != 2 || discussions[0].Body == "hijacked" {
		t.Fatalf("discussions changed without auth: %+v", discussions)
	}
	comments := c.comments(t)
	if len(comments) != 3 || comments[0].Body == "hijacked" {
		t.Fatalf("comments changed without auth: %+v", comments)
	}
}

func TestAuthorizationSchemes(t *testing.T) {
	for _, tc := range []struct {
		scheme     string
		bearerCode int
		rawCode    int
	}{
		{config.SchemeEither, http.StatusNoContent, http.StatusNoContent},
		{config.SchemeBearer, http.StatusNoContent, http.StatusForbidden},
		{config.SchemeRaw, http.StatusForbidden, http.StatusNoContent},
	} {
		t.Run(tc.scheme, func(t *testing.T) {
			cfg := testConfig()
			cfg.AuthScheme = tc.scheme
			c := newTestClientWithConfig(t, cfg, store.ClientIDs)
			tok := c.token(t)

			c.expect(t, http.MethodPatch, "/api/v1/comments/1", map[string]any{"body": "bearer"}, "Bearer "+tok, tc.bearerCode)
			c.expect(t, http.MethodPatch, "/api/v1/comments/2", map[string]any{"body": "raw"}, tok, tc.rawCode)
		})
	}
}

func TestServerAssignedIDs(t *testing.T) {
	c := newTestClientWithConfig(t, testConfig(), store.ServerIDs)
	bearer := "Bearer " + c.token(t)

	var created model.Discussion
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions", map[string]any{
		"id": 1, "tagId": 1, "title": "t", "body": "b",
	}, bearer, http.StatusCreated), &created)
	if created.ID != 3 {
		t.Fatalf("expected server-assigned id 3, got %d", created.ID)
	}

	var first, second []model.Comment
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions/1/comments", map[string]any{"body": "first"}, bearer, http.StatusCreated), &first)
	c.expect(t, http.MethodDelete, fmt.Sprintf("/api/v1/comments/%d", first[0].ID), nil, bearer, http.StatusNoContent)
	decode(t, c.expect(t, http.MethodPost, "/api/v1/discussions/1/comments", map[string]any{"body": "second"}, bearer, http.StatusCreated), &second)
	if second[0].ID == first[0].ID {
		t.Fatalf("deleted comment id %d was handed out again", first[0].ID)
	}
	c.expect(t, http.MethodGet, fmt.Sprintf("/api/v1/comments/%d", first[0].ID), nil, "", http.StatusNotFound)
}

func TestAuthenticateRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.AuthPerMinute = 2
	c := newTestClientWithConfig(t, cfg, store.ClientIDs)

	c.token(t)
	c.token(t)
	resp, _ := c.do(t, http.MethodPost, "/api/v1/authenticate",
		map[string]string{"email": "teacher@school.org", "appName": "forum-tests"}, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
