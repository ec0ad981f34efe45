package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/camgate-labs/camgate-go/internal/attachments"
)

// handleUploadAttachment stores the raw request body as a content-addressed
// blob. kind is required; filename and run_id are optional query parameters,
// and the MIME type comes from the Content-Type header.
func (api *governorAPI) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		api.writeError(w, r, http.StatusBadRequest, "kind_required")
		return
	}

	entry, err := api.attach.Put(r.Context(), attachments.PutRequest{
		Kind:     kind,
		MIME:     r.Header.Get("Content-Type"),
		Filename: strings.TrimSpace(r.URL.Query().Get("filename")),
		RunID:    strings.TrimSpace(r.URL.Query().Get("run_id")),
		Body:     r.Body,
	})
	if err != nil {
		api.logger.Warn("attachment upload rejected", "kind", kind, "error", err.Error())
		api.writeError(w, r, http.StatusBadRequest, "invalid_attachment")
		return
	}

	w.Header().Set("Location", "/attachments/"+entry.Hash)
	api.writeJSON(w, http.StatusCreated, entry)
}

func (api *governorAPI) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(r.PathValue("hash"))
	if hash == "" {
		api.writeError(w, r, http.StatusBadRequest, "hash_required")
		return
	}

	body, entry, err := api.attach.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("attachment read failed", "hash", hash, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer body.Close()

	contentType := entry.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if entry.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(entry.SizeBytes, 10))
	}
	if entry.Filename != "" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+entry.Filename+"\"")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (api *governorAPI) handleAttachmentExists(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(r.PathValue("hash"))
	if hash == "" {
		api.writeError(w, r, http.StatusBadRequest, "hash_required")
		return
	}

	exists, entry, err := api.attach.Exists(r.Context(), hash)
	if err != nil {
		api.logger.Error("attachment stat failed", "hash", hash, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{"hash": hash, "exists": exists}
	if exists {
		resp["entry"] = entry
	}
	api.writeJSON(w, http.StatusOK, resp)
}
