package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studyhub/internal/models"
	"studyhub/internal/multipart"
	"studyhub/internal/observability/metrics"
	"studyhub/internal/storage"
)

type updateDocumentRequest struct {
	Title *string `json:"title"`
}

type documentResponse struct {
	ID               string `json:"id"`
	DepartmentID     string `json:"departmentId"`
	Title            string `json:"title"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	SizeBytes        int64  `json:"sizeBytes"`
	ContentType      string `json:"contentType,omitempty"`
	Checksum         string `json:"checksum,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	UploadedBy       string `json:"uploadedBy,omitempty"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

func newDocumentResponse(document models.Document) documentResponse {
	return documentResponse{
		ID:               document.ID,
		DepartmentID:     document.DepartmentID,
		Title:            document.Title,
		OriginalFilename: document.OriginalFilename,
		SizeBytes:        document.SizeBytes,
		ContentType:      document.ContentType,
		Checksum:         document.Checksum,
		Status:           document.Status,
		Error:            document.Error,
		UploadedBy:       document.UploadedBy,
		CreatedAt:        document.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:        document.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		departmentID := strings.TrimSpace(r.URL.Query().Get("departmentId"))
		documents := h.Store.ListDocuments(departmentID)
		response := make([]documentResponse, 0, len(documents))
		for _, document := range documents {
			response = append(response, newDocumentResponse(document))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		h.uploadDocument(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// uploadDocument accepts a multipart form with a file part plus departmentId
// and optional title fields. The stored file is registered as pending until
// the scan worker verifies it.
func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireRole(w, r, roleAdmin, roleStaff)
	if !ok {
		return
	}
	if h.Uploads == nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("upload decoder not configured"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes()))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload too large or unreadable: %w", err))
		return
	}

	form, err := h.Uploads.Decode(body, r.Header.Get("Content-Type"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, multipart.ErrProcessing) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}

	file, ok := form.FirstFile()
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("a file part is required"))
		return
	}
	departmentID := strings.TrimSpace(form.Fields["departmentId"])
	if departmentID == "" {
		h.discardUpload(file)
		writeError(w, http.StatusBadRequest, fmt.Errorf("departmentId field is required"))
		return
	}
	title := strings.TrimSpace(form.Fields["title"])
	if title == "" {
		title = file.OriginalFilename
	}

	document, err := h.Store.CreateDocument(storage.CreateDocumentParams{
		DepartmentID:     departmentID,
		Title:            title,
		OriginalFilename: file.OriginalFilename,
		StorageName:      file.StorageName,
		SizeBytes:        file.SizeBytes,
		ContentType:      contentTypeForUpload(form, file),
		UploadedBy:       actor.ID,
	})
	if err != nil {
		h.discardUpload(file)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	metrics.DocumentUploaded()
	h.Scanner.Enqueue(document.ID)
	writeJSON(w, http.StatusCreated, newDocumentResponse(document))
}

// discardUpload removes a persisted file whose document record was rejected.
func (h *Handler) discardUpload(file multipart.FileRecord) {
	if file.StoragePath == "" {
		return
	}
	_ = os.Remove(file.StoragePath)
}

func contentTypeForUpload(form multipart.Form, file multipart.FileRecord) string {
	if declared := strings.TrimSpace(form.Fields["contentType"]); declared != "" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(file.StorageName)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func (h *Handler) DocumentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("document id missing"))
		return
	}
	id := parts[0]

	if len(parts) == 2 && parts[1] == "file" {
		h.downloadDocument(w, r, id)
		return
	}
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown document path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		document, ok := h.Store.GetDocument(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newDocumentResponse(document))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, roleAdmin, roleStaff); !ok {
			return
		}
		var req updateDocumentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		document, err := h.Store.UpdateDocument(id, storage.DocumentUpdate{Title: req.Title})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newDocumentResponse(document))
	case http.MethodDelete:
		actor, ok := h.requireRole(w, r, roleAdmin, roleStaff)
		if !ok {
			return
		}
		document, ok := h.Store.GetDocument(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		// Staff may only remove their own uploads; admins may remove any.
		if !actor.HasRole(roleAdmin) && document.UploadedBy != actor.ID {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		if err := h.Store.DeleteDocument(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if h.UploadDir != "" && document.StorageName != "" {
			_ = os.Remove(filepath.Join(h.UploadDir, document.StorageName))
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	document, ok := h.Store.GetDocument(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
		return
	}
	if document.Status != models.DocumentStatusAvailable {
		writeError(w, http.StatusConflict, fmt.Errorf("document %s is not available", id))
		return
	}
	if h.UploadDir == "" || document.StorageName == "" {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("document storage not configured"))
		return
	}

	file, err := os.Open(filepath.Join(h.UploadDir, document.StorageName))
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("document file missing"))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if document.ContentType != "" {
		w.Header().Set("Content-Type", document.ContentType)
	}
	filename := document.OriginalFilename
	if filename == "" {
		filename = document.StorageName
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, document.StorageName, info.ModTime(), file)
}
