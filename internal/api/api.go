// Package api exposes station search and detail over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/cache"
	"github.com/sells-group/fuel-index/internal/stations"
)

// StationService is the query side the handlers depend on.
type StationService interface {
	Search(ctx context.Context, p stations.SearchParams) (*stations.SearchResult, error)
	Detail(ctx context.Context, id string) (*stations.StationDetail, error)
	CacheStats() cache.Stats
}

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	svc      StationService
	validate *validator.Validate
	log      *zap.Logger
}

// NewServer creates a Server.
func NewServer(svc StationService) *Server {
	return &Server{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router(opts Options) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stations", s.searchStations)
		r.Get("/stations/{id}", s.stationDetail)
		r.Get("/cache/stats", s.cacheStats)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
