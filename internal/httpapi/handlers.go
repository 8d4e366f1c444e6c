package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/internal/archive"
	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/internal/service"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

type itemResponse struct {
	ID          string       `json:"id"`
	SourceName  string       `json:"source_name"`
	ContentType string       `json:"content_type"`
	OutputName  string       `json:"output_name"`
	Status      batch.Status `json:"status"`
	LastError   string       `json:"last_error,omitempty"`
	PreviewURL  string       `json:"preview_url"`
	ResultURL   string       `json:"result_url,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func toItemResponse(item batch.Item) itemResponse {
	ret := itemResponse{
		ID:          item.ID,
		SourceName:  item.SourceName,
		ContentType: item.ContentType,
		OutputName:  item.OutputName,
		Status:      item.Status,
		LastError:   item.LastError,
		PreviewURL:  item.Preview.URL(),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	if item.HasResult() {
		ret.ResultURL = item.ResultHandle.URL()
	}
	return ret
}

func toItemResponses(items []batch.Item) []itemResponse {
	ret := make([]itemResponse, 0, len(items))
	for _, item := range items {
		ret = append(ret, toItemResponse(item))
	}
	return ret
}

type renameRequest struct {
	OutputName *string `json:"output_name"`
}

type batchResponse struct {
	InProgress bool           `json:"in_progress"`
	Progress   batch.Progress `json:"progress"`
	Queued     int            `json:"queued"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toItemResponses(s.session.Items()))
	case http.MethodPost:
		files, err := readUpload(w, r, s.maxUpload)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		added, err := s.session.AddFiles(files)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"added":    len(added),
			"rejected": len(files) - len(added),
			"items":    toItemResponses(added),
		})
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]any{
			"cleared": s.session.Clear(),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleItem serves /api/items/{id}, /api/items/{id}/process and
// /api/items/{id}/download.
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/items/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	switch action {
	case "":
		s.handleItemResource(w, r, id)
	case "process":
		s.handleProcessItem(w, r, id)
	case "download":
		s.handleDownloadItem(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleItemResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		item, err := s.session.Item(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toItemResponse(item))
	case http.MethodPatch:
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.OutputName == nil {
			writeError(w, http.StatusBadRequest, "output_name is required")
			return
		}
		item, err := s.session.Rename(id, *req.OutputName)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toItemResponse(item))
	case http.MethodDelete:
		if err := s.session.Delete(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProcessItem(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	item, err := s.session.Process(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleDownloadItem(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, data, err := s.session.Result(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAttachment(w, name, "image/png", data)
}

func (s *Server) handleProcessAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	err := s.session.StartProcessAll(s.baseCtx, func(summary batch.Summary, err error) {
		if err != nil {
			log.Warn("Background batch stopped early: %v", err)
		}
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.batchState())
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.batchState())
}

func (s *Server) batchState() batchResponse {
	queued := 0
	for _, item := range s.session.Items() {
		if item.Status == batch.StatusPending || item.Status == batch.StatusError {
			queued++
		}
	}
	return batchResponse{
		InProgress: s.session.InProgress(),
		Progress:   s.session.Progress(),
		Queued:     queued,
	}
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bundle, err := s.session.Archive(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAttachment(w, s.session.ArchiveName(), bundle.ContentType, bundle.Data)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/blobs/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	data, ok := s.session.ResolveBlob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]intake.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	headers := r.MultipartForm.File["files"]
	ret := make([]intake.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func readPart(fh *multipart.FileHeader) (intake.File, error) {
	part, err := fh.Open()
	if err != nil {
		return intake.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return intake.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = intake.DetectContentType(fh.Filename, data)
	}
	return intake.File{Name: fh.Filename, ContentType: contentType, Data: data}, nil
}

func writeAttachment(w http.ResponseWriter, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeAppError maps domain errors onto status codes. The body carries the
// user-facing message.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrNotFound), errors.Is(err, archive.ErrNothingToArchive):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrStatusConflict), errors.Is(err, batch.ErrBatchInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			writeError(w, apperr.HTTPStatus(err), apperr.UserMessage(err))
			return
		}
		log.Error("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
