// Package http serves the JSON API: authentication, expense CRUD, and
// the dashboard.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/session"

	"github.com/go-playground/validator/v10"
)

// SyncPublisher queues an expense for ledger export. Optional; a nil
// publisher leaves the periodic sweep to pick writes up.
type SyncPublisher interface {
	PublishExpenseSync(ctx context.Context, id int64, reason string) error
}

type Server struct {
	http.Server

	users    core.UserStore
	expenses core.ExpenseStore
	sessions *session.Manager
	auth     *auth.Service
	sync     SyncPublisher
	validate *validator.Validate

	rateLimiter *rateLimiter

	// Dashboard aggregations, keyed per user and month.
	dashCache   *cache.LRUCache[core.MonthOverview]
	stopJanitor context.CancelFunc

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, users core.UserStore, expenses core.ExpenseStore, sessions *session.Manager, authSvc *auth.Service, sync SyncPublisher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		users:       users,
		expenses:    expenses,
		sessions:    sessions,
		auth:        authSvc,
		sync:        sync,
		validate:    validator.New(),
		rateLimiter: newRateLimiter(),
		dashCache:   cache.NewLRUCache[core.MonthOverview](200, 5*time.Minute),
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	s.stopJanitor = stopJanitor
	s.dashCache.StartJanitor(janitorCtx, 10*time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /api/signup", s.withSecurityHeaders(s.handleSignUp))
	mux.HandleFunc("POST /api/signin", s.withSecurityHeaders(s.handleSignIn))
	mux.HandleFunc("POST /api/signout", s.withSecurityHeaders(s.withAuth(s.handleSignOut)))
	mux.HandleFunc("POST /api/password", s.withSecurityHeaders(s.withAuth(s.handleChangePassword)))
	mux.HandleFunc("GET /api/me", s.withSecurityHeaders(s.withAuth(s.handleMe)))

	mux.HandleFunc("GET /api/sessions", s.withSecurityHeaders(s.withAuth(s.handleListSessions)))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.withSecurityHeaders(s.withAuth(s.handleRevokeSession)))

	mux.HandleFunc("POST /api/expenses", s.withSecurityHeaders(s.withAuth(s.handleCreateExpense)))
	mux.HandleFunc("GET /api/expenses", s.withSecurityHeaders(s.withAuth(s.handleListExpenses)))
	mux.HandleFunc("GET /api/expenses/{id}", s.withSecurityHeaders(s.withAuth(s.handleGetExpense)))
	mux.HandleFunc("PUT /api/expenses/{id}", s.withSecurityHeaders(s.withAuth(s.handleUpdateExpense)))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withSecurityHeaders(s.withAuth(s.handleDeleteExpense)))

	mux.HandleFunc("GET /api/categories", s.withSecurityHeaders(s.withAuth(s.handleListCategories)))
	mux.HandleFunc("GET /api/dashboard", s.withSecurityHeaders(s.withAuth(s.handleDashboard)))

	return s
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopJanitor != nil {
			s.stopJanitor()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := clientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Rate limit mutating requests only.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

type sessionKey struct{}

// withAuth resolves the session cookie and stores the session in the
// request context. Mutating methods additionally pass the CSRF check.
// Rotation is transparent: the replacement cookie rides the response.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.sessions.CookieName())
		if err != nil || cookie.Value == "" {
			writeError(w, r, core.ErrInvalidCredentials)
			return
		}

		result, err := s.sessions.Validate(r.Context(), cookie.Value)
		if err != nil {
			// Unknown or expired tokens are an auth failure; anything
			// else is a storage problem and must not masquerade as one.
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, r, core.ErrInvalidCredentials)
			} else {
				writeError(w, r, err)
			}
			return
		}
		if result.Rotated {
			s.sessions.WriteSessionCookie(w, result.Session)
		}

		if r.Method != http.MethodGet {
			if err := session.CheckCSRF(r); err != nil {
				writeError(w, r, err)
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, result.Session)
		next(w, r.WithContext(ctx))
	}
}

// sessionFrom returns the session withAuth stored in the context.
func sessionFrom(r *http.Request) *core.Session {
	s, _ := r.Context().Value(sessionKey{}).(*core.Session)
	return s
}

func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}

// clientGeo reads the geolocation headers an edge proxy may set.
// Cloudflare sends CF-IPCountry; the X-Geo-* pair covers other proxies.
// Both values are empty when the request arrives directly.
func clientGeo(r *http.Request) (country, region string) {
	country = r.Header.Get("CF-IPCountry")
	if country == "" {
		country = r.Header.Get("X-Geo-Country")
	}
	region = r.Header.Get("X-Geo-Region")
	return country, region
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
