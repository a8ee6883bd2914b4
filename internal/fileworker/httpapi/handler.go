// Package httpapi is the file worker's HTTP surface: multipart uploads,
// downloads, deletes, a health check and Prometheus metrics.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/fileworker/storage"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
)

// UploadResponse is the body of a successful POST /upload.
type UploadResponse struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type Option func(*Handler)

func WithLogger(l logging.Logger) Option {
	return func(h *Handler) { h.log = l }
}

func WithMetrics(m *metrics.FileWorker, g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = m
		h.gatherer = g
	}
}

type Handler struct {
	store    storage.Store
	baseURL  string
	maxBytes int64
	log      logging.Logger
	metrics  *metrics.FileWorker
	gatherer prometheus.Gatherer
}

func NewHandler(store storage.Store, baseURL string, maxBytes int64, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		log:      logging.Discard(),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With("module", "httpapi")
	return h
}

// Routes returns the mux with every endpoint behind the request logger.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("DELETE /delete/{fileName}", h.delete)
	mux.HandleFunc("GET /download/{fileName}", h.download)
	// GET patterns also match HEAD.
	mux.HandleFunc("GET /health", h.health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return h.logRequests(mux)
}

// cleanName accepts a plain object name and rejects anything that could
// address another key.
func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

func contentType(declared, name string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, http.StatusRequestEntityTooLarge, "file too large", err)
			return
		}
		h.fail(w, r, http.StatusBadRequest, "invalid multipart form", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "missing file", err)
		return
	}
	defer file.Close()

	raw := r.FormValue("fileName")
	if raw == "" {
		raw = header.Filename
	}
	name, ok := cleanName(raw)
	if !ok {
		h.fail(w, r, http.StatusBadRequest, "invalid fileName", nil)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "read file", err)
		return
	}

	obj := storage.Object{
		Key:         name,
		Size:        int64(len(data)),
		ContentType: contentType(header.Header.Get("Content-Type"), name, data),
	}
	err = h.store.Put(ctx, obj, bytes.NewReader(data))
	h.metrics.ObserveUpload(obj.Size, err)
	if err != nil {
		h.fail(w, r, http.StatusBadGateway, "storage unavailable", err)
		return
	}

	h.log.Info(ctx, "file uploaded", "file", name, "size", obj.Size, "type", obj.ContentType)
	writeJSON(w, http.StatusOK, UploadResponse{
		URL:      h.baseURL + "/download/" + url.PathEscape(name),
		FileName: name,
		Size:     obj.Size,
		Type:     obj.ContentType,
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(r.PathValue("fileName"))
	if !ok {
		h.fail(w, r, http.StatusBadRequest, "invalid fileName", nil)
		return
	}

	err := h.store.Delete(r.Context(), name)
	h.metrics.ObserveDelete(err)
	switch {
	case errors.Is(err, common.ErrNotFound):
		h.fail(w, r, http.StatusNotFound, "not found", nil)
	case err != nil:
		h.fail(w, r, http.StatusBadGateway, "storage unavailable", err)
	default:
		h.log.Info(r.Context(), "file deleted", "file", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(r.PathValue("fileName"))
	if !ok {
		h.fail(w, r, http.StatusBadRequest, "invalid fileName", nil)
		return
	}

	body, obj, err := h.store.Get(r.Context(), name)
	h.metrics.ObserveDownload(err)
	switch {
	case errors.Is(err, common.ErrNotFound):
		h.fail(w, r, http.StatusNotFound, "not found", nil)
		return
	case err != nil:
		h.fail(w, r, http.StatusBadGateway, "storage unavailable", err)
		return
	}
	defer body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(name)}))
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn(r.Context(), "download interrupted", "file", name, "error", err)
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.fail(w, r, http.StatusServiceUnavailable, "storage unavailable", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if err != nil {
		h.log.Warn(r.Context(), msg, "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
