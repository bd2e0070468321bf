package routes

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/httpx"
	"github.com/JakeFAU/helios-gateway/internal/workspace"
)

const workspacePrefix = "/workspace/controller"

type workspaceRoutes struct{}

func (workspaceRoutes) ID() string { return WorkspaceID }

type nameRequest struct {
	Name string `json:"name"`
}

type previewData struct {
	Stats   workspace.FileStats `json:"stats"`
	Content string              `json:"content"`
}

func (workspaceRoutes) Install(r chi.Router, deps Deps) {
	h := workspaceHandler{deps: deps, ws: deps.Workspace, log: deps.logger()}
	r.Route(workspacePrefix, func(r chi.Router) {
		r.Get("/list", h.list)
		r.Get("/list/*", h.list)
		r.Get("/preview/*", h.preview)
		r.Get("/download/*", h.download)
		r.Post("/upload", h.upload)
		r.Post("/upload/*", h.upload)
		r.Post("/mkdir", h.mkdir)
		r.Post("/mkdir/*", h.mkdir)
		r.Post("/rename/*", h.rename)
		r.Delete("/remove/*", h.remove)
	})
}

type workspaceHandler struct {
	deps Deps
	ws   *workspace.Workspace
	log  *zap.Logger
}

// relPath returns the unescaped wildcard tail of the request path.
func relPath(req *http.Request) (string, bool) {
	raw := chi.URLParam(req, "*")
	rel, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	return rel, true
}

func (h workspaceHandler) list(w http.ResponseWriter, req *http.Request) {
	rel, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	entries, err := h.ws.List(rel)
	if err != nil {
		if isNotExist(err) || errors.Is(err, workspace.ErrPathInvalid) || errors.Is(err, workspace.ErrNotDir) {
			h.fail(w, err)
			return
		}
		h.log.Error("list workspace failed", zap.String("path", rel), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeListingFailed, "Failed to retrieve directory listing.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewEnvelope(h.deps.Server.ID, entries))
}

func (h workspaceHandler) preview(w http.ResponseWriter, req *http.Request) {
	rel, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	content, stats, err := h.ws.Preview(rel, h.deps.PreviewLines)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewEnvelope(h.deps.Server.ID, previewData{Stats: stats, Content: content}))
}

func (h workspaceHandler) download(w http.ResponseWriter, req *http.Request) {
	rel, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	stats, err := h.ws.Stat(rel)
	if err != nil {
		h.fail(w, err)
		return
	}
	f, err := h.ws.Open(rel)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer f.Close() //nolint:errcheck // read-only handle

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": stats.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(stats.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.log.Warn("download interrupted", zap.String("path", rel), zap.Error(err))
	}
}

func (h workspaceHandler) upload(w http.ResponseWriter, req *http.Request) {
	dir, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	ct := req.Header.Get("Content-Type")
	if ct == "" {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, httpx.CodeMissingContentType, "Missing Content-Type header.")
		return
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, httpx.CodeUnsupportedMedia, "Expected a multipart/form-data body.")
		return
	}
	if params["boundary"] == "" {
		httpx.WriteError(w, http.StatusNotAcceptable, httpx.CodeMultipartBoundary, "Multipart boundary not found.")
		return
	}
	if h.deps.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, h.deps.MaxUploadBytes)
	}
	mr, err := req.MultipartReader()
	if err != nil {
		httpx.WriteError(w, http.StatusNotAcceptable, httpx.CodeMultipartBoundary, "Multipart boundary not found.")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "No file in upload.")
			return
		}
		if err != nil {
			h.uploadFailed(w, err)
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		stats, err := h.ws.Upload(dir, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			h.uploadFailed(w, err)
			return
		}
		h.log.Info("file uploaded", zap.String("path", stats.Path), zap.Int64("size", stats.Size))
		httpx.WriteJSON(w, http.StatusCreated, httpx.NewEnvelope(h.deps.Server.ID, stats))
		return
	}
}

func (h workspaceHandler) uploadFailed(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, httpx.CodePayloadTooLarge, "Upload exceeds the size limit.")
		return
	}
	h.fail(w, err)
}

func (h workspaceHandler) mkdir(w http.ResponseWriter, req *http.Request) {
	dir, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	var body nameRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid JSON")
		return
	}
	stats, err := h.ws.Mkdir(dir, body.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, httpx.NewEnvelope(h.deps.Server.ID, stats))
}

func (h workspaceHandler) rename(w http.ResponseWriter, req *http.Request) {
	rel, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	var body nameRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid JSON")
		return
	}
	stats, err := h.ws.Rename(rel, body.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewEnvelope(h.deps.Server.ID, stats))
}

func (h workspaceHandler) remove(w http.ResponseWriter, req *http.Request) {
	rel, ok := relPath(req)
	if !ok {
		h.fail(w, workspace.ErrPathInvalid)
		return
	}
	if err := h.ws.Remove(rel); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps workspace errors to their response.
func (h workspaceHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrPathInvalid):
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.CodePathInvalid, "Resource path is invalid.")
	case errors.Is(err, workspace.ErrExists):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "An important resource with the same name already exists.")
	case errors.Is(err, workspace.ErrIsDir):
		httpx.WriteError(w, http.StatusNotAcceptable, httpx.CodeIsDirectory, "Resource is a directory while a file is expected.")
	case errors.Is(err, workspace.ErrNotDir):
		httpx.WriteError(w, http.StatusNotAcceptable, httpx.CodeIsDirectory, "Resource is a file while a directory is expected.")
	case errors.Is(err, workspace.ErrRoot):
		httpx.WriteError(w, http.StatusForbidden, httpx.CodeWorkspaceRootLocked, "The workspace root cannot be changed.")
	case isNotExist(err):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "Invalid file path.")
	default:
		h.log.Error("workspace operation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "Workspace operation failed.")
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
