package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/teacherforum/teacherforum/internal/auth"
	"github.com/teacherforum/teacherforum/internal/config"
	"github.com/teacherforum/teacherforum/internal/rate"
	"github.com/teacherforum/teacherforum/internal/store"
)

const apiPrefix = "/api/v1"

type Server struct {
	store     store.Store
	auth      *auth.Service
	limiter   rate.Limiter
	cfg       config.Config
	logger    *logrus.Logger
	templates *Templates
	handler   http.Handler
}

func NewServer(st store.Store, authSvc *auth.Service, limiter rate.Limiter, cfg config.Config, logger *logrus.Logger) (*Server, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	s := &Server{store: st, auth: authSvc, limiter: limiter, cfg: cfg, logger: logger, templates: tmpl}
	s.handler = s.logRequests(s.recoverPanics(s.routes()))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	// an unsupported method on a known path looks like any unknown route
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/authenticate", s.handleAuthenticate).Methods(http.MethodPost)

	api.HandleFunc("/topicTags", s.handleListTopicTags).Methods(http.MethodGet)
	api.HandleFunc("/topicTags/{id:[0-9]+}", s.handleGetTopicTag).Methods(http.MethodGet)
	api.HandleFunc("/topicTags/{id:[0-9]+}/discussions", s.handleTagDiscussions).Methods(http.MethodGet)
	api.HandleFunc("/topicTags/{id:[0-9]+}/discussions", s.authorized(s.handleCreateTagDiscussion)).Methods(http.MethodPost)

	for _, path := range []string{"/discussions", "/discussions/"} {
		api.HandleFunc(path, s.handleListDiscussions).Methods(http.MethodGet)
		api.HandleFunc(path, s.authorized(s.handleCreateDiscussion)).Methods(http.MethodPost)
	}
	api.HandleFunc("/discussions/{id:[0-9]+}", s.handleGetDiscussion).Methods(http.MethodGet)
	api.HandleFunc("/discussions/{id:[0-9]+}", s.authorized(s.handlePatchDiscussion)).Methods(http.MethodPatch)
	api.HandleFunc("/discussions/{id:[0-9]+}", s.authorized(s.handleDeleteDiscussion)).Methods(http.MethodDelete)
	api.HandleFunc("/discussions/{id:[0-9]+}/comments", s.handleDiscussionComments).Methods(http.MethodGet)
	api.HandleFunc("/discussions/{id:[0-9]+}/comments", s.authorized(s.handleCreateComment)).Methods(http.MethodPost)

	api.HandleFunc("/comments", s.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/comments/{id:[0-9]+}", s.handleGetComment).Methods(http.MethodGet)
	api.HandleFunc("/comments/{id:[0-9]+}", s.authorized(s.handlePatchComment)).Methods(http.MethodPatch)
	api.HandleFunc("/comments/{id:[0-9]+}", s.authorized(s.handleDeleteComment)).Methods(http.MethodDelete)

	return r
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		notFound(w)
		return
	}
	http.Error(w, "404 page not found", http.StatusNotFound)
}

// authorized rejects requests without a valid token and stores the verified
// identity on the request context for the wrapped handler.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.requireAuth(w, r)
		if !ok {
			return
		}
		if !s.allowRateLimit(w, r, "write", s.cfg.RateLimits.WritePerMinute, id.AppName+"/"+id.Email) {
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := s.auth.AuthenticateHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return auth.Identity{}, false
	}
	return id, true
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int, subject string) bool {
	if limit <= 0 {
		return true
	}
	ipKey := fmt.Sprintf("%s:ip:%s", action, clientIP(r))
	if ok, retry := s.limiter.Allow(ipKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	if subject != "" {
		subjectKey := fmt.Sprintf("%s:sub:%s", action, subject)
		if ok, retry := s.limiter.Allow(subjectKey, limit, time.Minute); !ok {
			writeRateLimit(w, retry)
			return false
		}
	}
	return true
}

// writeStoreError maps store sentinel errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a 500.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidReference):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.requestLogger(r).WithError(err).Error("store failure")
	}
	writeError(w, status, err)
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	return s.logger.WithField("request_id", RequestIDFromContext(r.Context()))
}

// audit records a successful mutation along with who made it.
func (s *Server) audit(r *http.Request, msg string, fields logrus.Fields) {
	entry := s.requestLogger(r).WithFields(fields)
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		entry = entry.WithFields(logrus.Fields{"email": id.Email, "app": id.AppName})
	}
	entry.Info(msg)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// pathID reads the numeric {id} route variable. The route pattern only
// admits digits, so the only failure left is overflow.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var (
	errEmptyBody    = errors.New("request body required")
	errTrailingData = errors.New("request body must hold a single JSON value")
)

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	secs := int(retry.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": secs,
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func unprocessable(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnprocessableEntity, errors.New(msg))
}

// orEmpty keeps empty collections encoding as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
