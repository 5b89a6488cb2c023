package devcollector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/collector"
	"github.com/dmitrymomot/engagekit/pkg/httpserver"
	"github.com/dmitrymomot/engagekit/pkg/logger"
)

// Received is one accepted delivery.
type Received struct {
	Path           string          `json:"path"`
	Token          string          `json:"token"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Body           json.RawMessage `json:"body"`
	At             time.Time       `json:"at"`
}

// Sink records deliveries in memory.
type Sink struct {
	mu         sync.Mutex
	received   []Received
	seen       map[string]struct{}
	duplicates int
	tokens     map[string]struct{}
	scripts    map[string][]int
	authCalls  int

	requireToken bool
	now          func() time.Time
	logger       *slog.Logger
}

// Option is a functional option for configuring the Sink
type Option func(*Sink)

// WithoutTokenCheck accepts deliveries whose x-sdk-token was not issued by
// this sink.
func WithoutTokenCheck() Option {
	return func(s *Sink) {
		s.requireToken = false
	}
}

// WithNowFunc overrides the clock used for receipt timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for the sink
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty sink.
func New(opts ...Option) *Sink {
	s := &Sink{
		seen:         make(map[string]struct{}),
		tokens:       make(map[string]struct{}),
		scripts:      make(map[string][]int),
		requireToken: true,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the collector API plus inspection routes under /debug.
func (s *Sink) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", httpserver.HealthCheckHandler(s.logger))
	r.Post(collector.PathAuth, s.handleAuth)

	r.Group(func(r chi.Router) {
		r.Use(s.scripted, s.authenticated)
		for _, path := range []string{
			collector.PathEvent,
			collector.PathProfile,
			collector.PathConclude,
			collector.PathKeepAlive,
			collector.PathPushToken,
		} {
			r.Post(path, s.handleDelivery)
		}
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/received", s.handleList)
		r.Post("/fail", s.handleFail)
		r.Post("/reset", s.handleReset)
	})

	return r
}

func (s *Sink) handleAuth(w http.ResponseWriter, r *http.Request) {
	var creds collector.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid credentials payload", http.StatusBadRequest)
		return
	}
	if creds.AppID == "" {
		http.Error(w, "appID is required", http.StatusBadRequest)
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.authCalls++
	s.mu.Unlock()

	s.logger.InfoContext(r.Context(), "sdk token issued",
		logger.Component("devcollector"),
		slog.String("app_id", creds.AppID))

	writeJSON(w, http.StatusOK, map[string]string{"sdkToken": token, "id": creds.DeviceID})
}

func (s *Sink) handleDelivery(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	rec := Received{
		Path:           r.URL.Path,
		Token:          r.Header.Get(collector.HeaderSDKToken),
		IdempotencyKey: r.Header.Get(collector.HeaderIdempotent),
		Body:           body,
		At:             s.now(),
	}

	s.mu.Lock()
	dup := false
	if rec.IdempotencyKey != "" {
		k := rec.Path + "|" + rec.IdempotencyKey
		if _, dup = s.seen[k]; !dup {
			s.seen[k] = struct{}{}
		}
	}
	if dup {
		s.duplicates++
	} else {
		s.received = append(s.received, rec)
	}
	s.mu.Unlock()

	s.logger.DebugContext(r.Context(), "delivery received",
		logger.Component("devcollector"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", rec.Path),
		slog.Bool("duplicate", dup))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// scripted answers with the next scripted status for the path, if any.
func (s *Sink) scripted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		codes := s.scripts[r.URL.Path]
		var code int
		if len(codes) > 0 {
			code = codes[0]
			s.scripts[r.URL.Path] = codes[1:]
		}
		s.mu.Unlock()

		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Sink) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.requireToken {
			s.mu.Lock()
			_, ok := s.tokens[r.Header.Get(collector.HeaderSDKToken)]
			s.mu.Unlock()
			if !ok {
				http.Error(w, "invalid sdk token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type failRequest struct {
	Path  string `json:"path"`
	Codes []int  `json:"codes"`
}

func (s *Sink) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "path and codes are required", http.StatusBadRequest)
		return
	}
	s.Fail(req.Path, req.Codes...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sink) handleList(w http.ResponseWriter, r *http.Request) {
	if path := r.URL.Query().Get("path"); path != "" {
		writeJSON(w, http.StatusOK, s.ReceivedOn(path))
		return
	}
	writeJSON(w, http.StatusOK, s.Received())
}

func (s *Sink) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// Fail scripts the next responses for path. Each code is used once, in
// order, before normal handling resumes.
func (s *Sink) Fail(path string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[path] = append(s.scripts[path], codes...)
}

// RevokeTokens invalidates every issued token.
func (s *Sink) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// Received returns every accepted delivery in arrival order.
func (s *Sink) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// ReceivedOn returns accepted deliveries for one path.
func (s *Sink) ReceivedOn(path string) []Received {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Received{}
	for _, rec := range s.received {
		if rec.Path == path {
			out = append(out, rec)
		}
	}
	return out
}

// Duplicates returns how many deliveries repeated an idempotency key.
func (s *Sink) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// AuthCalls returns how many tokens were issued.
func (s *Sink) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// Pending returns the scripted codes not yet used, keyed by path.
func (s *Sink) Pending() map[string][]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]int, len(s.scripts))
	for path, codes := range s.scripts {
		if len(codes) > 0 {
			out[path] = slices.Clone(codes)
		}
	}
	return out
}

// Reset clears received deliveries, scripts and duplicate tracking. Issued
// tokens stay valid.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
	s.duplicates = 0
	clear(s.seen)
	clear(s.scripts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
