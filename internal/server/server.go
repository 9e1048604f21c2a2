// Package server previews rendered templates over HTTP and reloads open
// browsers when template files change.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/sectional/internal/config"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/logging"
	"github.com/conneroisu/sectional/internal/renderer"
	"github.com/conneroisu/sectional/internal/version"
	"github.com/conneroisu/sectional/internal/watcher"
)

const (
	debounceDelay   = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// PreviewServer serves rendered templates, cache housekeeping endpoints and
// Prometheus metrics.
type PreviewServer struct {
	config    *config.Config
	renderer  *renderer.Renderer
	registry  *prometheus.Registry
	hub       *Hub
	scheduler *PruneScheduler
	watcher   *watcher.FileWatcher
	logger    logging.Logger

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New builds a server and the renderer behind it.
func New(cfg *config.Config, logger logging.Logger) (*PreviewServer, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := renderer.New(cfg, renderer.Options{Logger: logger, Registry: registry})
	if err != nil {
		return nil, err
	}

	s := &PreviewServer{
		config:    cfg,
		renderer:  r,
		registry:  registry,
		hub:       NewHub(logger),
		scheduler: NewPruneScheduler(r.Store(), cfg.Cache.PruneSchedule, logger),
		logger:    logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by the preview server.",
		}, []string{"code", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving preview requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}
	registry.MustRegister(s.requests, s.duration)

	return s, nil
}

// Handler returns the server's routes with request IDs, logging and
// metrics applied.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry:      s.registry,
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("GET /_cache", s.handleCacheStats)
	mux.HandleFunc("DELETE /_cache", s.handleCacheClear)
	mux.HandleFunc("POST /_cache/prune", s.handleCachePrune)
	if s.config.Server.LiveReload {
		mux.HandleFunc("GET "+LivePath, s.handleWebSocket)
	}
	mux.HandleFunc("GET /render/{name...}", s.handleRender)
	mux.HandleFunc("GET /{name...}", s.handleRender)

	instrumented := promhttp.InstrumentHandlerDuration(s.duration,
		promhttp.InstrumentHandlerCounter(s.requests, mux))
	return s.addMiddleware(instrumented)
}

// Start listens on the configured host and port and serves until ctx is
// done.
func (s *PreviewServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeListenFailed, "listening for preview requests").
			WithContext("addr", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. A clean shutdown returns nil.
func (s *PreviewServer) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)

	if s.config.Server.LiveReload {
		if err := s.setupFileWatcher(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}

	if err := s.scheduler.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serverMutex.Lock()
	s.httpServer = srv
	s.serverMutex.Unlock()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Preview server shutdown incomplete")
		}
	}()

	s.logger.Info(ctx, "Preview server listening",
		"addr", ln.Addr().String(),
		"live_reload", s.config.Server.LiveReload,
		"cache", s.config.Cache.Backend)

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapIO(err, errors.ErrCodeListenFailed, "serving preview requests")
	}
	if ctx.Err() != nil {
		<-shutdownDone
	}
	return nil
}

// setupFileWatcher broadcasts a reload whenever a template or the data file
// changes.
func (s *PreviewServer) setupFileWatcher(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(debounceDelay, s.logger)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeWatchFailed, "starting file watcher")
	}

	accept := []watcher.FileFilter{watcher.SuffixFilter(s.config.Templates.Suffix)}
	if dataFile := s.config.Render.DataFile; dataFile != "" {
		accept = append(accept, watcher.PathFilter(dataFile))
		if err := fw.Add(filepath.Dir(dataFile)); err != nil {
			s.logger.Warn(ctx, err, "Data file directory not watched", "path", dataFile)
		}
	}
	fw.AddFilter(watcher.AnyOf(accept...))
	fw.AddFilter(watcher.NoHiddenFilter)

	roots := s.renderer.Roots()
	for _, dir := range uniqueDirs(roots.Root, roots.IncludeRoot, roots.SectionRoot, roots.TemplateRoot) {
		if err := fw.AddRecursive(dir); err != nil {
			_ = fw.Stop()
			return errors.WrapIO(err, errors.ErrCodeWatchFailed, "watching template root").WithPath(dir)
		}
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		files := make([]string, 0, len(events))
		for _, event := range events {
			files = append(files, s.displayPath(event.Path))
		}
		s.logger.Info(ctx, "Templates changed, reloading", "files", files)
		s.hub.Broadcast(UpdateMessage{Type: MessageReload, Files: files})
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return errors.WrapIO(err, errors.ErrCodeWatchFailed, "starting file watcher")
	}
	s.watcher = fw
	return nil
}

func (s *PreviewServer) displayPath(path string) string {
	if rel, err := filepath.Rel(s.renderer.Roots().Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

func uniqueDirs(dirs ...string) []string {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		out = append(out, dir)
	}
	return out
}

// Shutdown stops the watcher, the prune schedule and the HTTP server, then
// closes the cache. It is safe to call more than once.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down preview server")

		s.scheduler.Stop()

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Stopping file watcher")
			}
		}

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.renderer.Close(); err != nil {
			errs = append(errs, err)
		}
		shutdownErr = errors.CombineErrors(errs...)
	})

	return shutdownErr
}

// Hub returns the live-reload hub.
func (s *PreviewServer) Hub() *Hub {
	return s.hub
}

// Renderer returns the renderer requests are served with.
func (s *PreviewServer) Renderer() *renderer.Renderer {
	return s.renderer
}

func (s *PreviewServer) addMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request served",
			"request_id", requestID,
			"method", r.Method,
			"path", logging.SanitizeForLog(r.URL.Path),
			"duration", time.Since(start))
	})
}

// handleRender renders the template named by the request path. "/" renders
// "index" and a trailing ".html" is ignored.
func (s *PreviewServer) handleRender(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(r.PathValue("name"), "/")
	name = strings.TrimSuffix(name, ".html")
	if name == "" {
		name = "index"
	}

	data, err := renderer.LoadData(s.config.Render.DataFile)
	if err != nil {
		s.writeErrorPage(w, r, name, err)
		return
	}

	page, err := s.renderer.Render(r.Context(), name, data)
	if err != nil {
		s.writeErrorPage(w, r, name, err)
		return
	}

	if s.config.Server.LiveReload {
		if page, err = injectLiveReload(r.Context(), page); err != nil {
			s.writeErrorPage(w, r, name, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(page))
}

func (s *PreviewServer) writeErrorPage(w http.ResponseWriter, r *http.Request, name string, err error) {
	status := statusFor(err)

	var page strings.Builder
	if rerr := errorPage(status, name, err).Render(r.Context(), &page); rerr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	body := page.String()
	if s.config.Server.LiveReload {
		// A fixed template should reload the error page too.
		if injected, ierr := injectLiveReload(r.Context(), body); ierr == nil {
			body = injected
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsSecurityError(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"version":     version.Get().Short(),
		"live_reload": s.config.Server.LiveReload,
		"clients":     s.hub.Clients(),
		"cache":       s.config.Cache.Backend,
	}
	if store := s.renderer.Store(); store != nil {
		health["cache_stats"] = store.Stats()
	}
	if next := s.scheduler.NextRun(); !next.IsZero() {
		health["next_prune"] = next.UTC()
	}

	s.writeJSON(w, r, http.StatusOK, health)
}

func (s *PreviewServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	store := s.renderer.Store()
	if store == nil {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "cache disabled"})
		return
	}

	stats := store.Stats()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"stats":    stats,
		"hit_rate": stats.HitRate(),
	})
}

func (s *PreviewServer) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	store := s.renderer.Store()
	if store == nil {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "cache disabled"})
		return
	}

	if err := store.Clear(); err != nil {
		errors.NewErrorHandler(s.logger).Handle(r.Context(), err)
		s.writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": "cache cleared"})
}

func (s *PreviewServer) handleCachePrune(w http.ResponseWriter, r *http.Request) {
	if s.renderer.Store() == nil {
		s.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "cache disabled"})
		return
	}

	removed, err := s.scheduler.RunOnce(r.Context())
	if err != nil {
		s.writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response")
	}
}
