package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"rssss/internal/feeds"
	"rssss/internal/storage"
)

const (
	defaultFetchesLimit = 50
	maxFetchesLimit     = 500
)

// FeedResolver resolves a feed URL to a terminal outcome
type FeedResolver interface {
	Resolve(ctx context.Context, rawURL string) feeds.Outcome
}

// Server holds the dependencies for HTTP handlers
type Server struct {
	resolver FeedResolver
	db       *sql.DB
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewServer creates a new web server instance. db may be nil when the
// fetch journal is disabled.
func NewServer(resolver FeedResolver, db *sql.DB, registry *prometheus.Registry, logger *zap.Logger) *Server {
	return &Server{
		resolver: resolver,
		db:       db,
		metrics:  NewMetrics(registry),
		registry: registry,
		logger:   logger,
	}
}

// HandleFeed fetches the feed named by the url query parameter and
// returns it as JSON
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		s.metrics.MissingURLsTotal.Inc()
		http.Error(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	s.logger.Debug("resolving feed", zap.String("url", target))

	start := time.Now()
	out := s.resolver.Resolve(r.Context(), target)
	elapsed := time.Since(start)

	resp := Respond(out)
	resp.write(w)

	s.logOutcome(target, out)
	s.metrics.Observe(out, elapsed)
	s.recordFetch(target, out, resp, start, elapsed)
}

func (s *Server) logOutcome(target string, out feeds.Outcome) {
	switch out.Kind {
	case feeds.KindSuccess, feeds.KindUpstreamStatus:
		// upstream statuses are already warned about by the resolver
	default:
		s.logger.Error("feed resolution failed",
			zap.String("url", target),
			zap.String("final_url", out.URL),
			zap.Stringer("outcome", out.Kind),
			zap.Int("hops", out.Hops),
			zap.Error(out.Err),
		)
	}
}

func (s *Server) recordFetch(target string, out feeds.Outcome, resp Response, start time.Time, elapsed time.Duration) {
	if s.db == nil {
		return
	}

	rec := &storage.FetchRecord{
		RequestURL:     target,
		FinalURL:       out.URL,
		Outcome:        out.Kind.String(),
		UpstreamStatus: out.Status,
		ResponseStatus: resp.Status,
		Hops:           out.Hops,
		BodyBytes:      out.BodyBytes,
		Duration:       elapsed,
		FetchedAt:      start,
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}

	if err := storage.InsertFetch(s.db, rec); err != nil {
		s.logger.Warn("failed to journal fetch", zap.String("url", target), zap.Error(err))
	}
}

// HandleFetches lists the most recent journaled fetches
func (s *Server) HandleFetches(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.respondWithError(w, http.StatusNotFound, "fetch journal is disabled")
		return
	}

	limit := defaultFetchesLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(l, maxFetchesLimit)
	}

	records, err := storage.ListRecentFetches(s.db, limit)
	if err != nil {
		s.logger.Error("failed to list fetches", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not list fetches")
		return
	}

	// callers' query strings may carry credentials
	for _, rec := range records {
		rec.RequestURL = redactURL(rec.RequestURL)
		rec.FinalURL = redactURL(rec.FinalURL)
	}

	s.respondWithJSON(w, http.StatusOK, records)
}

// HandleHealth reports process and journal health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus := map[string]string{"status": "ok"}

	if s.db == nil {
		healthStatus["journal"] = "disabled"
		s.respondWithJSON(w, http.StatusOK, healthStatus)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check failed for journal", zap.Error(err))
		healthStatus["status"] = "degraded"
		healthStatus["journal"] = "unhealthy"
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	count, err := storage.CountFetches(s.db)
	if err != nil {
		s.logger.Error("health check failed to count journal records", zap.Error(err))
		healthStatus["status"] = "degraded"
		healthStatus["journal"] = "unhealthy"
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	healthStatus["journal"] = "healthy"
	healthStatus["journal_records"] = strconv.Itoa(count)
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// redactURL drops userinfo, query and fragment from a journaled URL
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
