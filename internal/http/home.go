package httpapp

import (
	"bytes"
	"net/http"

	"github.com/teacherforum/teacherforum/internal/model"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTopicTags(r.Context())
	if err != nil {
		s.requestLogger(r).WithError(err).Error("home: list topic tags")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	discussions, err := s.store.ListDiscussions(r.Context())
	if err != nil {
		s.requestLogger(r).WithError(err).Error("home: list discussions")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	byTag := make(map[int64][]model.Discussion, len(tags))
	for _, d := range discussions {
		byTag[d.TagID] = append(byTag[d.TagID], d)
	}

	data := map[string]any{
		"Title":       s.cfg.AppName,
		"AppName":     s.cfg.AppName,
		"Tags":        tags,
		"Discussions": byTag,
	}
	var buf bytes.Buffer
	if err := s.templates.Home.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.requestLogger(r).WithError(err).Error("home: render")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
