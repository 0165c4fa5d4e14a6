package dashboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keplerlab/kepler/pkg/articles"
	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

//go:embed index.html
var indexHTML []byte

// Info is the agent identity served at /api/agent-info.
type Info struct {
	Name string
	Goal string
}

// MemoryReader provides the current memory document.
type MemoryReader interface {
	Read() string
}

// ArtifactLog provides an aggregate artifact log.
type ArtifactLog interface {
	ReadLog() string
}

// DiscoveryReader provides the single-slot discovery declaration.
type DiscoveryReader interface {
	Read() (string, bool)
}

// ArticleLister provides recently curated articles.
type ArticleLister interface {
	Recent(ctx context.Context, limit int) ([]articles.Article, error)
}

// ModelIdentifier reports the model currently answering prompts.
type ModelIdentifier interface {
	ModelID() string
}

// Server is the dashboard HTTP server. Every handler reads agent state;
// none mutate it.
type Server struct {
	cfg   config.DashboardConfig
	info  Info
	state *State

	memory      MemoryReader
	findings    ArtifactLog
	connections ArtifactLog
	discovery   DiscoveryReader
	articles    ArticleLister
	model       ModelIdentifier

	logger *logging.Logger
	clock  func() time.Time

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMemory attaches the memory document source.
func WithMemory(m MemoryReader) Option {
	return func(s *Server) { s.memory = m }
}

// WithFindings attaches the findings aggregate log.
func WithFindings(l ArtifactLog) Option {
	return func(s *Server) { s.findings = l }
}

// WithConnections attaches the connections aggregate log.
func WithConnections(l ArtifactLog) Option {
	return func(s *Server) { s.connections = l }
}

// WithDiscovery attaches the discovery declaration source.
func WithDiscovery(d DiscoveryReader) Option {
	return func(s *Server) { s.discovery = d }
}

// WithArticles attaches the article store.
func WithArticles(a ArticleLister) Option {
	return func(s *Server) { s.articles = a }
}

// WithModel attaches the live model identifier.
func WithModel(m ModelIdentifier) Option {
	return func(s *Server) { s.model = m }
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithServerClock overrides the time source.
func WithServerClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer prepares a dashboard server. Sources left unattached answer
// their routes with 404.
func NewServer(cfg config.DashboardConfig, info Info, state *State, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		info:   info,
		state:  state,
		logger: logging.GetLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New(errors.InvalidInput, "dashboard already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to bind dashboard listener"),
			errors.Fields{"addr": addr})
	}
	s.listener = listener
	s.startTime = s.clock()

	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, "dashboard serve error: %v", err)
		}
	}()

	s.logger.Info(ctx, "dashboard listening on http://%s", listener.Addr())
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.server = nil
	s.listener = nil
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/agent-info", get(s.handleAgentInfo))
	mux.HandleFunc("/api/memory", get(s.handleMemory))
	mux.HandleFunc("/api/logs", get(s.handleLogs))
	mux.HandleFunc("/api/logs/since", get(s.handleLogsSince))
	mux.HandleFunc("/api/latest-interaction", get(s.handleLatestInteraction))
	mux.HandleFunc("/api/interactions", get(s.handleInteractions))
	mux.HandleFunc("/api/findings", get(s.handleFindings))
	mux.HandleFunc("/api/connections", get(s.handleConnections))
	mux.HandleFunc("/api/discovery", get(s.handleDiscovery))
	mux.HandleFunc("/api/articles", get(s.handleArticles))
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

type agentInfoResponse struct {
	Name          string         `json:"name"`
	Goal          string         `json:"goal"`
	Model         string         `json:"model,omitempty"`
	StartTime     string         `json:"startTime"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Cycles        map[string]int `json:"cycles"`
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	start := s.startTime
	s.mu.Unlock()

	resp := agentInfoResponse{
		Name:      s.info.Name,
		Goal:      s.info.Goal,
		StartTime: start.Format(time.RFC3339),
		Cycles:    s.state.Counts(),
	}
	if !start.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(start).Seconds())
	}
	if s.model != nil {
		resp.Model = s.model.ModelID()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": s.memory.Read()})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxLogEntries)
	writeJSON(w, http.StatusOK, s.state.Logs(limit))
}

func (s *Server) handleLogsSince(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("timestamp")
	if raw == "" {
		writeJSON(w, http.StatusOK, []LogEntry{})
		return
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timestamp format"})
		return
	}
	writeJSON(w, http.StatusOK, s.state.LogsSince(ts))
}

func (s *Server) handleLatestInteraction(w http.ResponseWriter, r *http.Request) {
	prompt, response := s.state.Latest()
	writeJSON(w, http.StatusOK, map[string]*Turn{
		"prompt":   prompt,
		"response": response,
	})
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxInteractions)
	writeJSON(w, http.StatusOK, s.state.Interactions(limit))
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	s.serveArtifactLog(w, s.findings)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	s.serveArtifactLog(w, s.connections)
}

func (s *Server) serveArtifactLog(w http.ResponseWriter, log ArtifactLog) {
	if log == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log not available"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(log.ReadLog()))
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no discovery declared"})
		return
	}
	content, ok := s.discovery.Read()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no discovery declared"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(content))
}

type articleResponse struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Source         string   `json:"source,omitempty"`
	DiscoveryDate  string   `json:"discoveryDate"`
	Summary        string   `json:"summary,omitempty"`
	RelevanceScore float64  `json:"relevanceScore"`
	Keywords       []string `json:"keywords,omitempty"`
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "article store not enabled"})
		return
	}

	limit := queryInt(r, "limit", 20)
	recent, err := s.articles.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list articles: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list articles"})
		return
	}

	out := make([]articleResponse, 0, len(recent))
	for _, a := range recent {
		out = append(out, articleResponse{
			ID:             a.ID,
			Title:          a.Title,
			URL:            a.URL,
			Source:         a.Source,
			DiscoveryDate:  a.DiscoveryDate,
			Summary:        a.Summary,
			RelevanceScore: a.RelevanceScore,
			Keywords:       a.Keywords,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
