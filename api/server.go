package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fabfab/qa-agent/ingestion"
	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/rag"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

const maxUploadMemory = 32 << 20

type Pipeline interface {
	GenerateTests(ctx context.Context, req rag.TestsRequest) (rag.TestCasesResult, error)
	GenerateScript(ctx context.Context, req rag.ScriptRequest) (rag.ScriptResult, error)
	Chat(ctx context.Context, req rag.ChatRequest) (rag.ChatResult, error)
}

type Ingester interface {
	IngestFiles(ctx context.Context, paths []string) (ingestion.Report, error)
}

// Server exposes the pipeline over HTTP.
type Server struct {
	pipeline Pipeline
	ingester Ingester
	logger   *zap.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(pipeline Pipeline, ingester Ingester, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{pipeline: pipeline, ingester: ingester, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)
	r.Post("/ingest", s.handleIngest)
	r.Post("/generate-tests", s.handleGenerateTests)
	r.Post("/generate-script", s.handleGenerateScript)
	r.Post("/chat", s.handleChat)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s", r.URL.Path))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("at least one file is required in field \"files\""))
		return
	}

	dir, err := os.MkdirTemp("", "qa-agent-upload-*")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	paths := make([]string, 0, len(headers))
	for _, fh := range headers {
		path, err := saveUpload(dir, fh)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		paths = append(paths, path)
	}

	report, err := s.ingester.IngestFiles(r.Context(), paths)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: report.Message()})
}

// saveUpload stores an uploaded file under its base name so the source id
// matches what the user uploaded.
func saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	base := filepath.Base(filepath.Clean("/" + fh.Filename))
	if base == "/" || base == "." {
		return "", fmt.Errorf("invalid upload file name %q", fh.Filename)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", base, err)
	}
	defer src.Close()

	path := filepath.Join(dir, base)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload %s: %w", base, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("write upload %s: %w", base, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close upload %s: %w", base, err)
	}
	return path, nil
}

func (s *Server) handleGenerateTests(w http.ResponseWriter, r *http.Request) {
	var req rag.TestsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res, err := s.pipeline.GenerateTests(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request) {
	var req rag.ScriptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res, err := s.pipeline.GenerateScript(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req rag.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res, err := s.pipeline.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, knowledge.ErrStoreUnavailable), errors.Is(err, ingestion.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Info("api error", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	// Unknown keys are ignored so older and newer clients keep working.
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
