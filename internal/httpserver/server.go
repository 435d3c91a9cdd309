package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"quickclip/internal/code"
	"quickclip/internal/storage"
)

// Config captures server configuration.
type Config struct {
	Store       storage.Store
	Codes       *code.Generator
	Retention   time.Duration
	RateLimiter *RateLimiter
	TrustProxy  bool
	BaseURL     string
	Logger      *slog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	store      storage.Store
	codes      *code.Generator
	retention  time.Duration
	router     chi.Router
	limiter    *RateLimiter
	trustProxy bool
	baseURL    *url.URL
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Codes == nil {
		cfg.Codes = code.NewGenerator()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = storage.Retention
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		var err error
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		store:      cfg.Store,
		codes:      cfg.Codes,
		retention:  cfg.Retention,
		router:     chi.NewRouter(),
		limiter:    cfg.RateLimiter,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		logger:     cfg.Logger,
		now:        time.Now,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RateLimitMiddleware(s.limiter, func(r *http.Request) string {
		return ClientIP(r, s.trustProxy)
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Post("/api/save", s.handleSave)
	r.Get("/api/content", s.handleContent)
	r.Get("/api/download", s.handleDownload)
	r.Get("/api/qr", s.handleQR)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		if proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto == "https" {
			return true
		}
	}
	return false
}

// shareURL builds the URL encoded into QR codes: the service root with the
// clipboard code as a query parameter.
func (s *Server) shareURL(r *http.Request, c string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		q := u.Query()
		q.Set("code", c)
		u.RawQuery = q.Encode()
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s/?code=%s", scheme, host, c)
}

func (s *Server) nowTime() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
