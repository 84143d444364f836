// Package inspect serves a read-mostly HTTP API over the open container
// sessions: track lists, chapters, subtitle extraction, attachments and
// Prometheus metrics.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumen/internal/certs"
	"github.com/zsiec/lumen/internal/fonts"
	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/session"
	"github.com/zsiec/lumen/internal/subtitle"
)

const shutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	Addr    string
	Manager *session.Manager
	// Cert enables HTTPS, and HTTP/3 on the same port.
	Cert *certs.CertInfo
	// Gatherer backs /metrics; nil selects prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the inspect HTTP server.
type Server struct {
	config Config
	log    *slog.Logger
	srv    *http.Server
	h3     *http3.Server
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("inspect: nil session manager")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{config: cfg, log: log.With("component", "inspect")}
	handler := s.Handler()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Cert != nil {
		s.srv.TLSConfig = cfg.Cert.TLSConfig()
		s.h3 = &http3.Server{
			Addr:      cfg.Addr,
			Handler:   handler,
			TLSConfig: cfg.Cert.TLSConfig(),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		s.srv.Handler = s.altSvc(handler)
	}
	return s, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleOpenSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/tracks", s.handleTracks).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/chapters", s.handleChapters).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/subtitles/{track:[0-9]+}", s.handleSubtitle).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/attachments", s.handleAttachments).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/attachments/{index:[0-9]+}", s.handleAttachment).Methods(http.MethodGet)

	return corsMiddleware(r)
}

// Start serves until ctx is cancelled. With a certificate it serves HTTPS
// over TCP and HTTP/3 over UDP on the same address.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveTCP(gctx) })
	if s.h3 != nil {
		g.Go(func() error { return s.serveQUIC(gctx) })
	}
	return g.Wait()
}

func (s *Server) serveTCP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.Cert != nil {
			s.log.Info("inspect server listening", "addr", s.config.Addr, "tls", true,
				"fingerprint", s.config.Cert.FingerprintHex())
			err = s.srv.ListenAndServeTLS("", "")
		} else {
			s.log.Info("inspect server listening", "addr", s.config.Addr)
			err = s.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("inspect server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("inspect shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) serveQUIC(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	s.log.Info("inspect HTTP/3 listening", "addr", s.config.Addr)
	err := s.h3.ListenAndServe()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("inspect http3: %w", err)
}

// altSvc advertises the HTTP/3 endpoint to TLS clients.
func (s *Server) altSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("alt-svc header", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.config.Manager.List()),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.config.Manager.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	resp := make([]SessionInfo, 0)
	for _, sess := range s.config.Manager.List() {
		resp = append(resp, summarize(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}
	sess, err := s.config.Manager.Open(r.Context(), req.Location, session.OpenOptions{HintsURL: req.HintsURL})
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, matroska.ErrNotMatroska) {
			code = http.StatusUnprocessableEntity
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, detail(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.config.Manager.Remove(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, trackList(sess.Tracks))
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, chapters(sess.Container.Chapters()))
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, _ := strconv.Atoi(mux.Vars(r)["track"])
	track, ok := sess.Container.Track(id)
	if !ok || track.Kind != media.KindSubtitle {
		writeError(w, http.StatusNotFound, "subtitle track not found")
		return
	}
	text, isASS, err := subtitle.Extract(r.Context(), reader.SessionOpener(sess.Container), track)
	if err != nil {
		s.log.Warn("subtitle extraction failed", "session", sess.ID, "track", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctype, ext := "application/x-subrip", "srt"
	if isASS {
		ctype, ext = "text/x-ssa", "ass"
	}
	w.Header().Set("Content-Type", ctype+"; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline",
		map[string]string{"filename": fmt.Sprintf("track%d.%s", id, ext)}))
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, attachments(sess.Container.Attachments()))
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	a, err := sess.Container.ExtractAttachment(r.Context(), index)
	if errors.Is(err, matroska.ErrUnknownAttachment) {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctype := a.MimeType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": fonts.SanitizeFilename(a.Filename)}))
	_, _ = w.Write(a.Data)
}
