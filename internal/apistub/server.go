// Package apistub is an in-process SmartStudy API used by tests and by
// cmd/apistub for local development. It speaks the same selector based
// protocol as the production API ("index.php?p=<operation>") and serves a
// small app shell from embedded files.
package apistub

import (
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/rs/zerolog/log"
)

// APIPath is where the selector endpoint is mounted.
const APIPath = "/api/index.php"

type Server struct {
	env        string
	mux        *http.ServeMux
	routes     []string
	fileServer http.Handler
	signer     *hmacSigner
	nowFunc    func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	lock          sync.RWMutex
	accounts      map[string]*account // by email
	accountsByID  map[apimodel.UserID]*account
	refreshTokens map[string]*refreshToken
	records       map[apimodel.UserID]map[string][]record
}

type Option func(*Server)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

// WithTokenExpiry sets the access and refresh token lifetimes.
func WithTokenExpiry(accessTTL, refreshTTL time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = accessTTL
		s.refreshTTL = refreshTTL
	}
}

func WithSecret(secret string) Option {
	return func(s *Server) {
		s.signer = newHMACSigner(secret)
	}
}

// WithEnv enables per-request logging when env is "DEV".
func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

func New(options ...Option) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		fileServer:    FileServerHandler(),
		accounts:      make(map[string]*account),
		accountsByID:  make(map[apimodel.UserID]*account),
		refreshTokens: make(map[string]*refreshToken),
		records:       make(map[apimodel.UserID]map[string][]record),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.signer == nil {
		s.signer = newHMACSigner(randomHex(32))
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 900 * time.Second
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 14 * 24 * time.Hour
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(APIPath, ChainMiddleware(s.APIHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("/", ChainMiddleware(s.fileServer.ServeHTTP, s.StaticMiddleware()...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		log.Debug().Str("route", route).Msg("registered")
	}
}

// APIHandler dispatches on the "p" selector.
func (s *Server) APIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := r.URL.Query().Get("p")
		switch op {
		case apimodel.PathRegister:
			s.requireMethod(w, r, http.MethodPost, s.handleRegister)
		case apimodel.PathLogin:
			s.requireMethod(w, r, http.MethodPost, s.handleLogin)
		case apimodel.PathRefresh:
			s.requireMethod(w, r, http.MethodPost, s.handleRefresh)
		case apimodel.PathProfile:
			s.requireMethod(w, r, http.MethodGet, s.authenticated(s.handleProfile))
		case apimodel.PathCourses, apimodel.PathNotes, apimodel.PathQuizzes:
			s.authenticated(s.handleCollection(op))(w, r)
		default:
			http.Error(w, "Unknown operation", http.StatusNotFound)
		}
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}
