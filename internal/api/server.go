// Package api provides the HTTP server and handlers of the remote project
// store.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/archive"
	"github.com/vibecode/vibecode/internal/auth"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metadata"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/protocol"
	"github.com/vibecode/vibecode/internal/storage"
	"github.com/vibecode/vibecode/internal/tree"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server is the remote store HTTP server.
type Server struct {
	store       *metadata.Store
	blobs       storage.Backend
	auth        *auth.Auth
	maxBodySize int64
}

// NewServer creates a server. blobs may be nil, in which case the archive
// endpoints answer 501.
func NewServer(store *metadata.Store, blobs storage.Backend, authHandler *auth.Auth, maxBodySize int64) *Server {
	if authHandler == nil {
		authHandler = auth.New("")
	}
	return &Server{
		store:       store,
		blobs:       blobs,
		auth:        authHandler,
		maxBodySize: maxBodySize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Project registry
	mux.Handle("GET /api/v1/projects", s.protect(s.handleListProjects))
	mux.Handle("POST /api/v1/projects", s.protect(s.handleCreateProject))
	mux.Handle("GET /api/v1/projects/{id}", s.protect(s.handleGetProject))
	mux.Handle("DELETE /api/v1/projects/{id}", s.protect(s.handleDeleteProject))

	// Project contents
	mux.Handle("GET /api/v1/projects/{id}/state", s.protect(s.handleLoadState))
	mux.Handle("POST /api/v1/projects/{id}/state", s.protect(s.handleSaveState))
	mux.Handle("GET /api/v1/projects/{id}/chat", s.protect(s.handleLoadChat))
	mux.Handle("POST /api/v1/projects/{id}/chat", s.protect(s.handleSaveChat))
	mux.Handle("PUT /api/v1/projects/{id}/archive", s.protect(s.handlePutArchive))
	mux.Handle("GET /api/v1/projects/{id}/archive", s.protect(s.handleGetArchive))

	// Metrics sit next to the mux so they see the matched pattern.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) protect(h http.HandlerFunc) http.Handler {
	return s.auth.Middleware(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.sendError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.HealthResponse{Status: "ok", Version: Version})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateProjectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	p, err := s.store.CreateProject(r.Context(), req.ID, req.Name, req.Description)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	if s.blobs != nil {
		if err := s.blobs.DeleteObject(r.Context(), storage.ArchiveKey(id)); err != nil {
			logging.WithContext(r.Context()).Warn("archive delete failed",
				logging.Project(id), zap.Error(err))
		}
	}
	s.sendJSON(w, r, http.StatusOK, protocol.SuccessResponse{Success: true})
}

func (s *Server) handleLoadState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.LoadState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, state)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	var req protocol.SaveStateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.RootNodes == nil {
		s.sendError(w, http.StatusBadRequest, "rootNodes is required")
		return
	}
	if _, err := s.store.SaveState(r.Context(), r.PathValue("id"), &req); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.SuccessResponse{Success: true})
}

func (s *Server) handleLoadChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.LoadChat(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, msgs)
}

func (s *Server) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	n, err := s.store.SaveChat(r.Context(), r.PathValue("id"), req.Messages)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.ChatSaveResponse{Success: true, Inserted: n})
}

// handlePutArchive keeps the raw uploaded archive so a project can be
// re-imported later. The body must be a readable zip.
func (s *Server) handlePutArchive(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.sendError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	id := r.PathValue("id")
	if _, err := s.store.GetProject(r.Context(), id); err != nil {
		s.sendStoreError(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.sendBodyError(w, err)
		return
	}
	roots, err := archive.ReadZipBytes(data)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid archive: "+err.Error())
		return
	}

	key := storage.ArchiveKey(id)
	if err := s.blobs.PutObject(r.Context(), key, bytes.NewReader(data), int64(len(data))); err != nil {
		logging.WithContext(r.Context()).Error("archive upload failed", logging.Project(id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to store archive")
		return
	}

	logging.WithContext(r.Context()).Info("archive stored",
		logging.Project(id), zap.Int("bytes", len(data)))
	s.sendJSON(w, r, http.StatusOK, protocol.ArchiveResponse{
		Key:   key,
		Size:  int64(len(data)),
		Nodes: tree.New(roots).CountNodes(),
	})
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.sendError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	id := r.PathValue("id")
	rc, size, err := s.blobs.GetObject(r.Context(), storage.ArchiveKey(id))
	if errors.Is(err, fs.ErrNotExist) {
		s.sendError(w, http.StatusNotFound, "no archive for project: "+id)
		return
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("archive download failed", logging.Project(id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// decodeBody decodes a JSON request body, gzip-encoded or not, and writes
// the error response itself when it fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	var body io.Reader = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(body)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid gzip body")
			return false
		}
		defer gr.Close()
		body = io.LimitReader(gr, s.maxBodySize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		s.sendBodyError(w, err)
		return false
	}
	if int64(len(data)) > s.maxBodySize {
		s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sendBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	s.sendError(w, http.StatusBadRequest, "failed to read request body")
}

// sendStoreError maps store errors to status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, metadata.ErrInvalid):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metadata.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		logging.WithContext(r.Context()).Error("store operation failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(code)
		gw := gzip.NewWriter(w)
		defer gw.Close()
		json.NewEncoder(gw).Encode(v)
		return
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}
