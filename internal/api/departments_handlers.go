package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"studyhub/internal/models"
	"studyhub/internal/storage"
)

type createDepartmentRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type updateDepartmentRequest struct {
	Name        *string `json:"name"`
	Code        *string `json:"code"`
	Description *string `json:"description"`
}

type departmentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func newDepartmentResponse(department models.Department) departmentResponse {
	return departmentResponse{
		ID:          department.ID,
		Name:        department.Name,
		Code:        department.Code,
		Description: department.Description,
		CreatedAt:   department.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   department.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) Departments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		departments := h.Store.ListDepartments()
		response := make([]departmentResponse, 0, len(departments))
		for _, department := range departments {
			response = append(response, newDepartmentResponse(department))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req createDepartmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		department, err := h.Store.CreateDepartment(storage.CreateDepartmentParams{
			Name:        req.Name,
			Code:        req.Code,
			Description: req.Description,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDepartmentResponse(department))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) DepartmentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/departments/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown department path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		department, ok := h.Store.GetDepartment(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("department %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newDepartmentResponse(department))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req updateDepartmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.DepartmentUpdate{
			Name:        req.Name,
			Code:        req.Code,
			Description: req.Description,
		}
		department, err := h.Store.UpdateDepartment(id, update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newDepartmentResponse(department))
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		if err := h.Store.DeleteDepartment(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
