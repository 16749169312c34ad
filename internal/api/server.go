// Package api serves the read-only query API over stored resources.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/shaharia-lab/terediX/internal/storage"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

const (
	defaultPerPage = 200
	maxPerPage     = 200
)

// Store is the read side of storage used by the API.
type Store interface {
	Query(ctx context.Context, filter storage.Filter, page storage.Page) (storage.QueryResult, error)
	Relations(ctx context.Context) ([]resource.Relation, error)
}

// HealthFunc returns the body of the health endpoint.
type HealthFunc func() any

// Server routes API requests.
type Server struct {
	router *mux.Router
	store  Store
	health HealthFunc
	logger zerolog.Logger
}

// NewServer creates the router. health may be nil.
func NewServer(store Store, health HealthFunc, logger zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		store:  store,
		health: health,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/resources", s.listResources).Methods(http.MethodGet)
	api.HandleFunc("/relations", s.listRelations).Methods(http.MethodGet)
}

// Handler returns the router wrapped with request logging and CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	var h http.Handler = s.router
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.NewHandler(s.logger)(h)
	return c.Handler(h)
}

// NewHTTPServer returns an http.Server for addr serving h.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	perPage, err := intParam(q.Get("per_page"), defaultPerPage)
	if err != nil || perPage < 1 {
		writeError(w, http.StatusBadRequest, "per_page must be a positive integer")
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	filter := storage.Filter{Kind: q.Get("kind")}
	if eq := q.Get("meta_data_eq"); eq != "" {
		key, value, ok := strings.Cut(eq, "=")
		if !ok || key == "" || strings.Contains(value, ",") {
			writeError(w, http.StatusBadRequest, "meta_data_eq must be a single key=value pair")
			return
		}
		filter.MetaKey, filter.MetaValue = key, value
	}

	res, err := s.store.Query(r.Context(), filter, storage.Page{Number: page, Size: perPage})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("query resources")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := resource.ListResponse{
		Resources: make([]resource.Response, 0, len(res.Resources)),
		Page:      page,
		PerPage:   perPage,
		HasMore:   res.HasMore,
	}
	for _, re := range res.Resources {
		out.Resources = append(out.Resources, re.ToAPIResponse())
	}
	writeJSON(w, http.StatusOK, out)
}

type relationsResponse struct {
	Relations []resource.Relation `json:"relations"`
}

func (s *Server) listRelations(w http.ResponseWriter, r *http.Request) {
	rels, err := s.store.Relations(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list relations")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rels == nil {
		rels = []resource.Relation{}
	}
	writeJSON(w, http.StatusOK, relationsResponse{Relations: rels})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
