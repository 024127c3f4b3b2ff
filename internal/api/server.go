// Package api serves the placement controls and status as JSON over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/actor"
	"github.com/banshee-data/planeplopper/internal/anchoring"
	"github.com/banshee-data/planeplopper/internal/httputil"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/plopper"
	"github.com/banshee-data/planeplopper/internal/store"
)

// ANSI escape codes for status colouring in the request log.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// requestTimeout bounds how long a handler waits for the owner loop.
const requestTimeout = 2 * time.Second

// Plopper is the part of plopper.PlanePlopper the API drives.
type Plopper interface {
	Place(ctx context.Context) (uuid.UUID, error)
	RemoveAll(ctx context.Context) error
	Status(ctx context.Context) (plopper.Status, error)
	Anchors(ctx context.Context) ([]anchoring.Binding, error)
	Objects() []store.ModelInfo
}

var _ Plopper = (*plopper.PlanePlopper)(nil)

// PlaceResponse is returned by POST /api/place.
type PlaceResponse struct {
	AnchorID uuid.UUID `json:"anchor_id"`
}

// AnchorsResponse is returned by GET /api/anchors.
type AnchorsResponse struct {
	Anchors []anchoring.Binding `json:"anchors"`
	Objects []store.ModelInfo   `json:"objects"`
}

type Server struct {
	p Plopper
}

func NewServer(p Plopper) *Server {
	return &Server{p: p}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// AttachRoutes mounts the API on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/place", s.place)
	mux.HandleFunc("/api/remove-all", s.removeAll)
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/anchors", s.anchors)
}

// ServeMux returns a mux holding only the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// writeOwnerError maps owner loop failures onto a response.
func writeOwnerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, actor.ErrLoopStopped):
		httputil.ServiceUnavailable(w, "placement engine is not running")
	case errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, "placement engine is busy")
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) place(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, err := s.p.Place(ctx)
	if errors.Is(err, plopper.ErrNoTarget) {
		httputil.Conflict(w, "cursor is not on a surface")
		return
	}
	if err != nil {
		writeOwnerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, PlaceResponse{AnchorID: id})
}

func (s *Server) removeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.p.RemoveAll(ctx); err != nil {
		writeOwnerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "removed"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := s.p.Status(ctx)
	if err != nil {
		writeOwnerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) anchors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	bindings, err := s.p.Anchors(ctx)
	if err != nil {
		writeOwnerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, AnchorsResponse{Anchors: bindings, Objects: s.p.Objects()})
}
