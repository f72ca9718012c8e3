package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gastos/internal/ledger"
	"gastos/internal/log"
	appweb "gastos/web"
)

type Server struct {
	http.Server
	templates   *template.Template
	store       *ledger.Store
	rateLimiter *rateLimiter
	metrics     *securityMetrics
	logger      *log.Logger
	reqLogger   *log.StructuredLogger
	currency    string
	started     time.Time

	shutdownOnce sync.Once
}

// Options tunes a Server. The zero value is usable.
type Options struct {
	Logger         *log.Logger
	CurrencySymbol string
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, store *ledger.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	currency := opts.CurrencySymbol
	if currency == "" {
		currency = "€"
	}

	s := &Server{
		store:       store,
		rateLimiter: newRateLimiter(),
		metrics:     &securityMetrics{},
		logger:      logger.WithComponent(log.ComponentHTTP),
		reqLogger:   log.NewStructuredLogger(logger),
		currency:    currency,
		started:     time.Now(),
	}

	t, err := template.New("").Funcs(s.templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Warn("Failed parsing templates", log.FieldError, err)
	} else {
		s.templates = t
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(logger))

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.Handle("/static/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		}))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.withSecurityHeaders)

		r.Get("/", s.handleIndex)
		r.Get("/ui/ledger", s.handleLedgerPartial)
		r.Get("/ui/form", s.handleOpenForm)
		r.Post("/filter", s.handleFilter)
		r.Post("/form/draft", s.handleUpdateDraft)
		r.Post("/form/cancel", s.handleCancelForm)

		r.Post("/expenses", s.handleSaveExpense)
		r.Get("/expenses/{id}/edit", s.handleEditExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)
		r.Post("/expenses/{id}/delete", s.handleDeleteExpense)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		ctx := log.WithRequestID(r.Context(), generateRequestID())
		r = r.WithContext(ctx)

		s.reqLogger.LogHTTPStart(ctx, r, clientIP)

		if detectSuspiciousRequest(r, s.metrics) {
			log.FromContext(ctx).WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
		}

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			log.FromContext(ctx).WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.reqLogger.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
