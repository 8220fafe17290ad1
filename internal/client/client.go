// Package client provides a Go client for the Teacher Forum API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teacherforum/teacherforum/internal/model"
)

const apiPrefix = "/api/v1"

// Client is a Teacher Forum API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	// RawToken sends the token without the Bearer prefix.
	RawToken bool
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// New creates a new Teacher Forum client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Authenticate exchanges an email and app name for a token and keeps it
// for later requests.
func (c *Client) Authenticate(email, appName string) error {
	var result struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "appName": appName}
	if err := c.call(http.MethodPost, "/authenticate", body, http.StatusCreated, &result); err != nil {
		return err
	}
	c.Token = result.Token
	return nil
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != ""
}

func (c *Client) ListTopicTags() ([]model.TopicTag, error) {
	var tags []model.TopicTag
	err := c.call(http.MethodGet, "/topicTags", nil, http.StatusOK, &tags)
	return tags, err
}

func (c *Client) GetTopicTag(id int64) (*model.TopicTag, error) {
	var tags []model.TopicTag
	if err := c.call(http.MethodGet, fmt.Sprintf("/topicTags/%d", id), nil, http.StatusOK, &tags); err != nil {
		return nil, err
	}
	return first(tags)
}

func (c *Client) ListTagDiscussions(tagID int64) ([]model.Discussion, error) {
	var discussions []model.Discussion
	err := c.call(http.MethodGet, fmt.Sprintf("/topicTags/%d/discussions", tagID), nil, http.StatusOK, &discussions)
	return discussions, err
}

func (c *Client) ListDiscussions() ([]model.Discussion, error) {
	var discussions []model.Discussion
	err := c.call(http.MethodGet, "/discussions", nil, http.StatusOK, &discussions)
	return discussions, err
}

func (c *Client) GetDiscussion(id int64) (*model.Discussion, error) {
	var discussions []model.Discussion
	if err := c.call(http.MethodGet, fmt.Sprintf("/discussions/%d", id), nil, http.StatusOK, &discussions); err != nil {
		return nil, err
	}
	return first(discussions)
}

// CreateDiscussion posts d. A zero ID lets the server pick one.
func (c *Client) CreateDiscussion(d model.Discussion) (*model.Discussion, error) {
	var created model.Discussion
	body := map[string]any{"tagId": d.TagID, "title": d.Title, "body": d.Body}
	if d.ID != 0 {
		body["id"] = d.ID
	}
	if err := c.call(http.MethodPost, "/discussions", body, http.StatusCreated, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateTagDiscussion posts d under the tag d.TagID.
func (c *Client) CreateTagDiscussion(d model.Discussion) (*model.Discussion, error) {
	var created []model.Discussion
	body := map[string]any{"title": d.Title, "body": d.Body}
	if d.ID != 0 {
		body["id"] = d.ID
	}
	if err := c.call(http.MethodPost, fmt.Sprintf("/topicTags/%d/discussions", d.TagID), body, http.StatusCreated, &created); err != nil {
		return nil, err
	}
	return first(created)
}

func (c *Client) PatchDiscussion(id int64, patch model.DiscussionPatch) error {
	body := map[string]any{}
	if patch.TagID != nil {
		body["tagId"] = *patch.TagID
	}
	if patch.Title != nil {
		body["title"] = *patch.Title
	}
	if patch.Body != nil {
		body["body"] = *patch.Body
	}
	return c.call(http.MethodPatch, fmt.Sprintf("/discussions/%d", id), body, http.StatusNoContent, nil)
}

func (c *Client) DeleteDiscussion(id int64) error {
	return c.call(http.MethodDelete, fmt.Sprintf("/discussions/%d", id), nil, http.StatusNoContent, nil)
}

func (c *Client) ListComments() ([]model.Comment, error) {
	var comments []model.Comment
	err := c.call(http.MethodGet, "/comments", nil, http.StatusOK, &comments)
	return comments, err
}

func (c *Client) ListDiscussionComments(discussionID int64) ([]model.Comment, error) {
	var comments []model.Comment
	err := c.call(http.MethodGet, fmt.Sprintf("/discussions/%d/comments", discussionID), nil, http.StatusOK, &comments)
	return comments, err
}

func (c *Client) GetComment(id int64) (*model.Comment, error) {
	var comments []model.Comment
	if err := c.call(http.MethodGet, fmt.Sprintf("/comments/%d", id), nil, http.StatusOK, &comments); err != nil {
		return nil, err
	}
	return first(comments)
}

// CreateComment posts cm on discussion cm.DiscussionID.
func (c *Client) CreateComment(cm model.Comment) (*model.Comment, error) {
	var created []model.Comment
	body := map[string]any{"body": cm.Body}
	if cm.ID != 0 {
		body["id"] = cm.ID
	}
	if err := c.call(http.MethodPost, fmt.Sprintf("/discussions/%d/comments", cm.DiscussionID), body, http.StatusCreated, &created); err != nil {
		return nil, err
	}
	return first(created)
}

func (c *Client) PatchComment(id int64, body string) error {
	return c.call(http.MethodPatch, fmt.Sprintf("/comments/%d", id), map[string]string{"body": body}, http.StatusNoContent, nil)
}

func (c *Client) DeleteComment(id int64) error {
	return c.call(http.MethodDelete, fmt.Sprintf("/comments/%d", id), nil, http.StatusNoContent, nil)
}

// call sends the request and decodes the response into out when the
// status matches want. Any other status comes back as *APIError.
func (c *Client) call(method, path string, body any, want int, out any) error {
	resp, err := c.doRequest(method, apiPrefix+path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// doRequest performs an HTTP request, authenticated when the client holds
// a token.
func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		if c.RawToken {
			req.Header.Set("Authorization", c.Token)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}
	}
	return c.HTTPClient.Do(req)
}

func first[T any](items []T) (*T, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return &items[0], nil
}
