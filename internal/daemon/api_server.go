package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tipline/internal/logging"
	"tipline/internal/runtime"
	"tipline/internal/services"
	"tipline/internal/store"
	"tipline/internal/submission"
)

const maxJSONBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	rt     *runtime.Runtime

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

type receiptRequest struct {
	Receipt string `json:"receipt"`
	Content string `json:"content,omitempty"`
}

type fileResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256"`
}

type commentResponse struct {
	ID           string    `json:"id"`
	TipID        string    `json:"tip_id"`
	Content      string    `json:"content"`
	CreationDate time.Time `json:"creation_date"`
}

func newAPIServer(rt *runtime.Runtime, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(rt.Config.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		rt:     rt,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/submission", s.handleCreate)
	mux.HandleFunc("GET /api/submission/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/submission/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/submission/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("POST /api/receipt", s.handleReceipt)
	mux.HandleFunc("POST /api/receipt/comment", s.handleComment)
	mux.HandleFunc("GET /api/status", authMiddleware(s.rt.Config.Paths.APIToken, s.handleStatus))
	return s.withRequestID(mux)
}

// withRequestID tags each request with a correlation id, echoing a client
// supplied X-Request-ID when present.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req submission.Request
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.rt.Submissions.Create(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, "create submission", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.rt.Submissions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, "get submission", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req submission.Request
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.rt.Submissions.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeFailure(w, r, "update submission", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Submissions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, r, "delete submission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart form expected")
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "file part missing")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		file, err := s.rt.Uploads.Save(r.Context(), part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if err != nil {
			s.writeFailure(w, r, "upload file", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, fileResponse{
			ID:          file.ID,
			Name:        file.Name,
			Size:        file.Size,
			ContentType: file.ContentType,
			SHA256:      file.SHA256,
		})
		return
	}
}

func (s *apiServer) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.rt.Submissions.AccessByReceipt(r.Context(), req.Receipt)
	if err != nil {
		s.writeFailure(w, r, "receipt login", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleComment(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	comment, err := s.rt.Submissions.CommentByReceipt(r.Context(), req.Receipt, req.Content)
	if err != nil {
		s.writeFailure(w, r, "receipt comment", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func toCommentResponse(c *store.Comment) commentResponse {
	return commentResponse{
		ID:           c.ID,
		TipID:        c.InternalTipID,
		Content:      c.Content,
		CreationDate: c.CreationDate,
	}
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch services.Classify(err) {
	case services.ClassNotFound:
		return http.StatusNotFound
	case services.ClassValidation:
		return http.StatusBadRequest
	case services.ClassStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_request_failed",
			logging.String("operation", operation),
			logging.Error(err),
		)
		s.writeError(w, status, "internal error")
		return
	}
	logger.Debug("request rejected",
		logging.String("operation", operation),
		logging.String("class", services.Classify(err)),
		logging.Error(err),
	)
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
