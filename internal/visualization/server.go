package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/world"
)

// Source captures graphs. A nil time means the cursor.
type Source interface {
	Graph(character string, at *timestream.Time) (*Graph, error)
	Characters() ([]string, error)
}

// EngineSource reads graphs from a running engine.
type EngineSource struct {
	Engine *engine.Engine
}

// Graph captures character at at, or at the engine's cursor.
func (s EngineSource) Graph(character string, at *timestream.Time) (*Graph, error) {
	t := s.Engine.Now()
	if at != nil {
		t = *at
	}
	var g *Graph
	err := s.Engine.View(t, func(w *world.World) error {
		var err error
		g, err = Capture(w, character)
		return err
	})
	return g, err
}

// Characters lists the characters at the cursor.
func (s EngineSource) Characters() ([]string, error) {
	return s.Engine.Characters()
}

// Server serves the interactive graph page and a JSON API for graphs at
// arbitrary times.
type Server struct {
	source     Source
	character  string
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a graph server whose index page shows character.
func NewServer(source Source, character string) *Server {
	return &Server{source: source, character: character}
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/graph", s.handleGraph)
	mux.HandleFunc("/api/characters", s.handleCharacters)
	return mux
}

// ListenAndServe starts the HTTP server on addr ("localhost:0" picks a
// free port) and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "localhost:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	g, err := s.source.Graph(s.character, nil)
	if err != nil {
		http.Error(w, "capture error: "+err.Error(), http.StatusNotFound)
		return
	}
	html, err := RenderHTML(g, "http://"+s.Addr())
	if err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// handleGraph serves /api/graph?character=c[&branch=b&tick=t].
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	character := q.Get("character")
	if character == "" {
		character = s.character
	}

	var at *timestream.Time
	if q.Has("branch") || q.Has("tick") {
		branch, berr := strconv.Atoi(q.Get("branch"))
		tick, terr := strconv.Atoi(q.Get("tick"))
		if berr != nil || terr != nil || branch < 0 || tick < 0 {
			http.Error(w, "branch and tick must both be non-negative integers", http.StatusBadRequest)
			return
		}
		at = &timestream.Time{Branch: branch, Tick: tick}
	}

	g, err := s.source.Graph(character, at)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, world.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, g)
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	names, err := s.source.Characters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"characters": names})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
