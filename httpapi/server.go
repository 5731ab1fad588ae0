// Package httpapi implements the Snapshot Consumer's pull-based HTTP
// surface: read-only endpoints over the pipeline's published Snapshot,
// grounded on daemon/webd/daemon.go's gorilla/mux router and
// middleware chain (websocket push is deliberately out of scope; see
// DESIGN.md).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/kestrelnet/tracker/snapshot"
)

// Server exposes a Publisher's latest Snapshot over HTTP.
type Server struct {
	publisher *snapshot.Publisher
	logger    *slog.Logger
	started   time.Time
	srv       *http.Server
}

// NewServer constructs a Server bound to addr, serving snapshots from
// publisher.
func NewServer(publisher *snapshot.Publisher, addr string) *Server {
	s := &Server{
		publisher: publisher,
		logger:    slog.Default().With("component", "httpapi"),
		started:   time.Now(),
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() http.Handler {
	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)

	apiRoutes := router.NewRoute().Subrouter()
	apiRoutes.Use(permissiveCorsMiddleware)

	apiRoutes.Path("/ping").HandlerFunc(pingPong).Methods(http.MethodGet)
	apiRoutes.Path("/status").HandlerFunc(s.handleStatus).Methods(http.MethodGet)

	jsonRoutes := apiRoutes.NewRoute().Subrouter()
	jsonRoutes.Use(contentTypeMiddlewareFunc("application/json"))
	jsonRoutes.Path("/snapshot").HandlerFunc(s.handleSnapshot).Methods(http.MethodGet)
	jsonRoutes.Path("/snapshot/{id}").HandlerFunc(s.handleSnapshotByID).Methods(http.MethodGet)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type statusReport struct {
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Tracks    int       `json:"tracks"`
	TakenAt   time.Time `json:"taken_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.publisher.Get()
	report := statusReport{
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Tracks:    len(snap.Tracks()),
		TakenAt:   snap.TakenAt(),
	}
	writeJSON(w, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.publisher.Get()
	writeJSON(w, snap.Tracks())
}

func (s *Server) handleSnapshotByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "malformed track id", http.StatusBadRequest)
		return
	}
	snap := s.publisher.Get()
	tv, ok := snap.Track(id)
	if !ok {
		http.Error(w, "track not found", http.StatusNotFound)
		return
	}
	writeJSON(w, tv)
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("httpapi: failed to write response", "error", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.LoggingHandler(os.Stdout, next)
}

func permissiveCorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}
