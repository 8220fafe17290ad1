package httpapp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teacherforum/teacherforum/internal/auth"
	"github.com/teacherforum/teacherforum/internal/model"
)

// handleAuthenticate godoc
//
//	@Summary		Get a token
//	@Description	Exchange an email and app name for a signed token used on mutating requests.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		object{email=string,appName=string}	true	"Credentials"
//	@Success		201			{object}	map[string]string	"Token"
//	@Failure		400			{object}	map[string]string	"Malformed body"
//	@Failure		422			{object}	map[string]string	"Missing email or appName"
//	@Failure		429			{object}	map[string]string	"Rate limited"
//	@Router			/api/v1/authenticate [post]
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute, "") {
		return
	}
	var req struct {
		Email   string `json:"email"`
		AppName string `json:"appName"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := s.auth.Issue(req.Email, req.AppName)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.requestLogger(r).WithError(err).Error("issue token")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.requestLogger(r).WithFields(logrus.Fields{"email": strings.TrimSpace(req.Email), "app": strings.TrimSpace(req.AppName)}).Info("token issued")
	writeJSON(w, http.StatusCreated, map[string]string{"token": tok.Token})
}

// handleListTopicTags godoc
//
//	@Summary	List topic tags
//	@Tags		TopicTags
//	@Produce	json
//	@Success	200	{array}	model.TopicTag
//	@Router		/api/v1/topicTags [get]
func (s *Server) handleListTopicTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTopicTags(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tags))
}

// handleGetTopicTag godoc
//
//	@Summary	Get a topic tag
//	@Tags		TopicTags
//	@Produce	json
//	@Param		id	path		int	true	"Tag ID"
//	@Success	200	{array}		model.TopicTag	"Array holding the one tag"
//	@Failure	404	{object}	map[string]string
//	@Router		/api/v1/topicTags/{id} [get]
func (s *Server) handleGetTopicTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	tag, err := s.store.GetTopicTag(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []model.TopicTag{tag})
}

func (s *Server) handleTagDiscussions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	if _, err := s.store.GetTopicTag(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	discussions, err := s.store.ListDiscussionsByTag(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(discussions))
}

type discussionRequest struct {
	ID    int64   `json:"id"`
	TagID int64   `json:"tagId"`
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

func (req discussionRequest) discussion() (model.Discussion, error) {
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return model.Discussion{}, errors.New("title is required")
	}
	if req.Body == nil || strings.TrimSpace(*req.Body) == "" {
		return model.Discussion{}, errors.New("body is required")
	}
	if req.ID < 0 {
		return model.Discussion{}, errors.New("id must be positive")
	}
	return model.Discussion{ID: req.ID, TagID: req.TagID, Title: *req.Title, Body: *req.Body}, nil
}

// handleCreateTagDiscussion godoc
//
//	@Summary		Start a discussion under a tag
//	@Description	Creates a discussion filed under the tag in the path. Requires authentication.
//	@Tags			Discussions
//	@Accept			json
//	@Produce		json
//	@Security		TokenAuth
//	@Param			id			path		int									true	"Tag ID"
//	@Param			discussion	body		object{id=int,title=string,body=string}	true	"Discussion"
//	@Success		201			{array}		model.Discussion	"Array holding the created discussion"
//	@Failure		403			{object}	map[string]string
//	@Failure		404			{object}	map[string]string	"Tag not found"
//	@Failure		409			{object}	map[string]string	"Duplicate id"
//	@Failure		422			{object}	map[string]string
//	@Router			/api/v1/topicTags/{id}/discussions [post]
func (s *Server) handleCreateTagDiscussion(w http.ResponseWriter, r *http.Request) {
	tagID, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var req discussionRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TagID != 0 && req.TagID != tagID {
		unprocessable(w, "tagId does not match the tag in the path")
		return
	}
	req.TagID = tagID
	d, err := req.discussion()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if _, err := s.store.GetTopicTag(r.Context(), tagID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if d.ID, err = s.store.CreateDiscussion(r.Context(), &d); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "discussion created", logrus.Fields{"discussion_id": d.ID, "tag_id": d.TagID})
	writeJSON(w, http.StatusCreated, []model.Discussion{d})
}

// handleListDiscussions godoc
//
//	@Summary	List discussions
//	@Tags		Discussions
//	@Produce	json
//	@Success	200	{array}	model.Discussion
//	@Router		/api/v1/discussions [get]
func (s *Server) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	discussions, err := s.store.ListDiscussions(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(discussions))
}

// handleCreateDiscussion godoc
//
//	@Summary		Start a discussion
//	@Description	Creates a discussion. The created object is returned unwrapped. Requires authentication.
//	@Tags			Discussions
//	@Accept			json
//	@Produce		json
//	@Security		TokenAuth
//	@Param			discussion	body		object{id=int,tagId=int,title=string,body=string}	true	"Discussion"
//	@Success		201			{object}	model.Discussion
//	@Failure		400			{object}	map[string]string	"Malformed body"
//	@Failure		403			{object}	map[string]string
//	@Failure		409			{object}	map[string]string	"Duplicate id"
//	@Failure		422			{object}	map[string]string	"Missing fields or unknown tagId"
//	@Router			/api/v1/discussions [post]
func (s *Server) handleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	var req discussionRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TagID <= 0 {
		unprocessable(w, "tagId is required")
		return
	}
	d, err := req.discussion()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if d.ID, err = s.store.CreateDiscussion(r.Context(), &d); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "discussion created", logrus.Fields{"discussion_id": d.ID, "tag_id": d.TagID})
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDiscussion godoc
//
//	@Summary	Get a discussion
//	@Tags		Discussions
//	@Produce	json
//	@Param		id	path		int	true	"Discussion ID"
//	@Success	200	{array}		model.Discussion	"Array holding the one discussion"
//	@Failure	404	{object}	map[string]string
//	@Router		/api/v1/discussions/{id} [get]
func (s *Server) handleGetDiscussion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	d, err := s.store.GetDiscussion(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []model.Discussion{d})
}

// handlePatchDiscussion godoc
//
//	@Summary		Edit a discussion
//	@Description	Partial update of title, body and tagId. Requires authentication.
//	@Tags			Discussions
//	@Accept			json
//	@Security		TokenAuth
//	@Param			id			path	int										true	"Discussion ID"
//	@Param			discussion	body	object{title=string,body=string,tagId=int}	true	"Fields to change"
//	@Success		204
//	@Failure		403	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Failure		422	{object}	map[string]string
//	@Router			/api/v1/discussions/{id} [patch]
func (s *Server) handlePatchDiscussion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var req struct {
		ID    *int64  `json:"id"`
		TagID *int64  `json:"tagId"`
		Title *string `json:"title"`
		Body  *string `json:"body"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID != nil && *req.ID != id {
		unprocessable(w, "id cannot be changed")
		return
	}
	patch := model.DiscussionPatch{TagID: req.TagID, Title: req.Title, Body: req.Body}
	if patch.Empty() {
		unprocessable(w, "nothing to update: send title, body or tagId")
		return
	}
	if (patch.Title != nil && strings.TrimSpace(*patch.Title) == "") || (patch.Body != nil && strings.TrimSpace(*patch.Body) == "") {
		unprocessable(w, "title and body cannot be blank")
		return
	}
	if err := s.store.UpdateDiscussion(r.Context(), id, patch); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "discussion updated", logrus.Fields{"discussion_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteDiscussion godoc
//
//	@Summary		Delete a discussion
//	@Description	Deletes the discussion and every comment on it. Requires authentication.
//	@Tags			Discussions
//	@Security		TokenAuth
//	@Param			id	path	int	true	"Discussion ID"
//	@Success		204
//	@Failure		403	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Router			/api/v1/discussions/{id} [delete]
func (s *Server) handleDeleteDiscussion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	if err := s.store.DeleteDiscussion(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "discussion deleted", logrus.Fields{"discussion_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscussionComments godoc
//
//	@Summary	List comments on a discussion
//	@Tags		Comments
//	@Produce	json
//	@Param		id	path		int	true	"Discussion ID"
//	@Success	200	{array}		model.Comment
//	@Failure	404	{object}	map[string]string	"Discussion not found"
//	@Router		/api/v1/discussions/{id}/comments [get]
func (s *Server) handleDiscussionComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	if _, err := s.store.GetDiscussion(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	comments, err := s.store.ListCommentsByDiscussion(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(comments))
}

// handleCreateComment godoc
//
//	@Summary		Comment on a discussion
//	@Description	Requires authentication.
//	@Tags			Comments
//	@Accept			json
//	@Produce		json
//	@Security		TokenAuth
//	@Param			id		path		int						true	"Discussion ID"
//	@Param			comment	body		object{id=int,body=string}	true	"Comment"
//	@Success		201		{array}		model.Comment	"Array holding the created comment"
//	@Failure		403		{object}	map[string]string
//	@Failure		404		{object}	map[string]string	"Discussion not found"
//	@Failure		409		{object}	map[string]string	"Duplicate id"
//	@Failure		422		{object}	map[string]string
//	@Router			/api/v1/discussions/{id}/comments [post]
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	discussionID, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var req struct {
		ID           int64   `json:"id"`
		DiscussionID int64   `json:"discussionId"`
		Body         *string `json:"body"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DiscussionID != 0 && req.DiscussionID != discussionID {
		unprocessable(w, "discussionId does not match the discussion in the path")
		return
	}
	if req.Body == nil || strings.TrimSpace(*req.Body) == "" {
		unprocessable(w, "body is required")
		return
	}
	if req.ID < 0 {
		unprocessable(w, "id must be positive")
		return
	}
	if _, err := s.store.GetDiscussion(r.Context(), discussionID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	c := model.Comment{ID: req.ID, DiscussionID: discussionID, Body: *req.Body}
	var err error
	if c.ID, err = s.store.CreateComment(r.Context(), &c); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "comment created", logrus.Fields{"comment_id": c.ID, "discussion_id": discussionID})
	writeJSON(w, http.StatusCreated, []model.Comment{c})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.ListComments(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(comments))
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	c, err := s.store.GetComment(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []model.Comment{c})
}

// handlePatchComment godoc
//
//	@Summary	Edit a comment
//	@Tags		Comments
//	@Accept		json
//	@Security	TokenAuth
//	@Param		id		path	int				true	"Comment ID"
//	@Param		comment	body	object{body=string}	true	"New body"
//	@Success	204
//	@Failure	403	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Failure	422	{object}	map[string]string
//	@Router		/api/v1/comments/{id} [patch]
func (s *Server) handlePatchComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var req struct {
		ID           *int64  `json:"id"`
		DiscussionID *int64  `json:"discussionId"`
		Body         *string `json:"body"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID != nil && *req.ID != id {
		unprocessable(w, "id cannot be changed")
		return
	}
	patch := model.CommentPatch{Body: req.Body}
	if patch.Empty() || strings.TrimSpace(*patch.Body) == "" {
		unprocessable(w, "body is required")
		return
	}
	if req.DiscussionID != nil {
		current, err := s.store.GetComment(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		if current.DiscussionID != *req.DiscussionID {
			unprocessable(w, "comments cannot move between discussions")
			return
		}
	}
	if err := s.store.UpdateComment(r.Context(), id, patch); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "comment updated", logrus.Fields{"comment_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteComment godoc
//
//	@Summary	Delete a comment
//	@Tags		Comments
//	@Security	TokenAuth
//	@Param		id	path	int	true	"Comment ID"
//	@Success	204
//	@Failure	403	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Router		/api/v1/comments/{id} [delete]
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	if err := s.store.DeleteComment(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.audit(r, "comment deleted", logrus.Fields{"comment_id": id})
	w.WriteHeader(http.StatusNoContent)
}
