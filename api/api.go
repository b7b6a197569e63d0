// Package api exposes the Gridsight engine over HTTP: train, predict, and
// filtered anomaly queries, mirroring the four calls the dashboard issues.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"gridsight/config"
	"gridsight/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a per-client limiter with its last activity time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server.
type API struct {
	router *mux.Router
	server *http.Server
	svc    *service.Service
	cfg    *config.Config
	logger *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server and registers all routes. A nil logger
// falls back to a no-op.
func NewAPI(svc *service.Service, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:       mux.NewRouter(),
		svc:          svc,
		cfg:          cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	a.router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	a.router.HandleFunc("/train", a.handleTrain).Methods(http.MethodPost)
	a.router.HandleFunc("/predict", a.handlePredict).Methods(http.MethodPost)
	a.router.HandleFunc("/anomalies", a.handleAnomalies).Methods(http.MethodGet)
	a.router.HandleFunc("/analyze-default-data", a.handleAnalyzeDefault).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Router exposes the configured router, mainly for tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start begins serving. It returns once the listener is bound; serving
// continues in the background until Shutdown.
func (a *API) Start() error {
	addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind API listener on %s: %w", addr, err)
	}

	go a.cleanupRateLimiters()
	go func() {
		a.logger.Infow("API server listening", "addr", addr)
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Errorw("API server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (a *API) Shutdown(ctx context.Context) error {
	close(a.stopCh)
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// loggingMiddleware logs each request with its duration.
func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debugw("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// rateLimitMiddleware enforces a per-client token bucket.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		a.rateLimitersMu.Lock()
		entry, ok := a.rateLimiters[ip]
		if !ok {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(
					rate.Limit(a.cfg.API.RateLimit.RequestsPerSecond),
					a.cfg.API.RateLimit.Burst),
			}
			a.rateLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		allowed := entry.limiter.Allow()
		a.rateLimitersMu.Unlock()

		if !allowed {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters drops limiters idle for more than ten minutes.
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if entry.lastSeen.Before(cutoff) {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		}
	}
}
