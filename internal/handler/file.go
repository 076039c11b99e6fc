package handler

import (
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lifesite/internal/config"
	"github.com/lifesite/internal/fileserver"
)

// FileHandler раздаёт вложения: локально через fileserver.Service либо
// прокси на микросервис файлов, если задан FileServiceURL.
type FileHandler struct {
	cfg        *config.Config
	fileSvc    *fileserver.Service
	fileClient *http.Client
	fileBase   string
}

func NewFileHandler(cfg *config.Config, fileSvc *fileserver.Service) *FileHandler {
	h := &FileHandler{cfg: cfg}
	if cfg.FileServiceURL == "" {
		h.fileSvc = fileSvc
	} else {
		h.fileClient = &http.Client{Timeout: 60 * time.Second}
		h.fileBase = strings.TrimSuffix(cfg.FileServiceURL, "/")
	}
	return h
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if h.fileSvc != nil {
		h.fileSvc.Serve(w, r, filename)
		return
	}
	rawQuery := ""
	if name := r.URL.Query().Get("name"); name != "" {
		rawQuery = "name=" + url.QueryEscape(name)
	}
	proxyURL := h.fileBase + "/files/" + url.PathEscape(filename)
	if rawQuery != "" {
		proxyURL += "?" + rawQuery
	}
	proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, proxyURL, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp, err := h.fileClient.Do(proxyReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "file service unavailable")
		return
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, "Content-Type") ||
			strings.EqualFold(k, "Content-Disposition") {
			w.Header()[k] = v
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
