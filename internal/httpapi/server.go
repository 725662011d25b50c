package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tradeiq/internal/alerts"
	"tradeiq/internal/archive"
	"tradeiq/internal/market"
	"tradeiq/internal/stream"
)

// DefaultRecentLimit caps the recent endpoints when no limit is given.
const DefaultRecentLimit = 50

// Server serves the daemon status API.
type Server struct {
	feed      *alerts.Feed
	transport *stream.Transport
	archiver  *archive.Archiver
	clock     *market.Clock
	started   time.Time
	log       *slog.Logger
}

// NewServer creates the status API server. The transport and archiver may
// be nil; their sections are then omitted from responses.
func NewServer(
	feed *alerts.Feed,
	transport *stream.Transport,
	archiver *archive.Archiver,
	clock *market.Clock,
	log *slog.Logger,
) *Server {
	if clock == nil {
		clock = market.NewClock("")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		feed:      feed,
		transport: transport,
		archiver:  archiver,
		clock:     clock,
		started:   time.Now(),
		log:       log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/alerts/recent", s.handleRecentAlerts)
	mux.HandleFunc("GET /api/narration/recent", s.handleRecentNarration)
	mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit extracts the "limit" query param, defaulting when absent or
// out of range.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultRecentLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultRecentLimit
	}
	return n
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := StatusResponse{
		Conn:          "disconnected",
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Session:       string(s.clock.Session(now)),
		ExchangeTime:  now.In(s.clock.Location()).Format("2006-01-02 15:04:05 MST"),
		Feed:          convertFeedStats(s.feed.Stats()),
	}
	if s.transport != nil {
		resp.Conn = string(s.transport.Status())
		resp.Endpoint = s.transport.Endpoint()
	}
	if s.archiver != nil {
		resp.Archive = convertArchiveStats(s.archiver.Stats())
	}
	writeJSON(w, resp)
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	recent := s.feed.RecentAlerts(limit)

	// Feed order is oldest first; the API serves newest first.
	out := make([]AlertJSON, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, convertAlert(recent[i]))
	}
	writeJSON(w, AlertsResponse{Count: len(out), Alerts: out})
}

func (s *Server) handleRecentNarration(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	recent := s.feed.RecentNarration(limit)

	out := make([]NarrationJSON, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, convertNarration(recent[i]))
	}
	writeJSON(w, NarrationResponse{Count: len(out), Events: out})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}
