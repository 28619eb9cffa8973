// Package web provides the local HTTP surface of the thermostat daemon: a
// status page, status and configuration JSON, and a local configuration push.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/status"
)

// SourceWeb identifies configuration submitted over HTTP.
const SourceWeb = "web"

// maxConfigBody bounds a POST /config body. A full transport string is
// well under 400 bytes.
const maxConfigBody = 4096

// ConfigStore is the part of the configuration store the server uses.
type ConfigStore interface {
	Current() *config.Configuration
	SubmitText(text, source string) config.UpdateResult
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	store      ConfigStore
	log        *logger.Logger
	submits    *rate.Limiter
}

// New creates a Server that reads state from the given tracker and submits
// configuration pushes to store.
func New(addr string, tracker *status.Tracker, store ConfigStore, log *logger.Logger) *Server {
	s := &Server{
		tracker: tracker,
		store:   store,
		log:     log,
		submits: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/config.json", s.handleConfigJSON).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleConfigPost).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handlers.CustomLoggingHandler(io.Discard, r, s.logRequest),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Debugw("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"remote", p.Request.RemoteAddr)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("render status page", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleConfigJSON(w http.ResponseWriter, r *http.Request) {
	data, err := FormatConfigJSON(s.store.Current())
	if err != nil {
		s.log.Errorw("format configuration", "err", err)
		http.Error(w, "configuration unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type submitResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	if !s.submits.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	result := s.store.SubmitText(string(body), SourceWeb)
	s.log.Infow("configuration received", "source", SourceWeb, "result", result.String())

	w.Header().Set("Content-Type", "application/json")
	if result == config.Invalid {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(submitResponse{Result: result.String()})
}
