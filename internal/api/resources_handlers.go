package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"studyhub/internal/models"
	"studyhub/internal/storage"
)

type createResourceRequest struct {
	DepartmentID string   `json:"departmentId"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
}

type updateResourceRequest struct {
	DepartmentID *string   `json:"departmentId"`
	Title        *string   `json:"title"`
	URL          *string   `json:"url"`
	Description  *string   `json:"description"`
	Tags         *[]string `json:"tags"`
}

type resourceResponse struct {
	ID           string   `json:"id"`
	DepartmentID string   `json:"departmentId"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags"`
	AddedBy      string   `json:"addedBy,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

func newResourceResponse(resource models.Resource) resourceResponse {
	return resourceResponse{
		ID:           resource.ID,
		DepartmentID: resource.DepartmentID,
		Title:        resource.Title,
		URL:          resource.URL,
		Description:  resource.Description,
		Tags:         append([]string{}, resource.Tags...),
		AddedBy:      resource.AddedBy,
		CreatedAt:    resource.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    resource.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		departmentID := strings.TrimSpace(r.URL.Query().Get("departmentId"))
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		resources := h.Store.ListResources(departmentID, query)
		response := make([]resourceResponse, 0, len(resources))
		for _, resource := range resources {
			response = append(response, newResourceResponse(resource))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		actor, ok := h.requireRole(w, r, roleAdmin, roleStaff)
		if !ok {
			return
		}
		var req createResourceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resource, err := h.Store.CreateResource(storage.CreateResourceParams{
			DepartmentID: req.DepartmentID,
			Title:        req.Title,
			URL:          req.URL,
			Description:  req.Description,
			Tags:         req.Tags,
			AddedBy:      actor.ID,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newResourceResponse(resource))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) ResourceByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/resources/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		resource, ok := h.Store.GetResource(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("resource %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newResourceResponse(resource))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, roleAdmin, roleStaff); !ok {
			return
		}
		var req updateResourceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.ResourceUpdate{
			DepartmentID: req.DepartmentID,
			Title:        req.Title,
			URL:          req.URL,
			Description:  req.Description,
		}
		if req.Tags != nil {
			tagsCopy := append([]string{}, (*req.Tags)...)
			update.Tags = &tagsCopy
		}
		resource, err := h.Store.UpdateResource(id, update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newResourceResponse(resource))
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin, roleStaff); !ok {
			return
		}
		if err := h.Store.DeleteResource(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
