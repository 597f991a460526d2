package storage

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"studyhub/internal/models"
)

// Department operations

// CreateDepartmentParams captures the attributes for a new department.
type CreateDepartmentParams struct {
	Name        string
	Code        string
	Description string
}

func normalizeDepartmentCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Storage) CreateDepartment(params CreateDepartmentParams) (models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Department{}, errors.New("name is required")
	}
	code := normalizeDepartmentCode(params.Code)
	if code == "" {
		return models.Department{}, errors.New("code is required")
	}
	for _, existing := range s.data.Departments {
		if strings.EqualFold(existing.Name, name) {
			return models.Department{}, fmt.Errorf("department name %s already in use", name)
		}
		if existing.Code == code {
			return models.Department{}, fmt.Errorf("department code %s already in use", code)
		}
	}

	id := nextIDLocked(&s.data, departmentIDPrefix)
	now := time.Now().UTC()
	department := models.Department{
		ID:          id,
		Name:        name,
		Code:        code,
		Description: strings.TrimSpace(params.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.data.Departments[id] = department
	if err := s.persist(); err != nil {
		delete(s.data.Departments, id)
		s.data.Sequences[departmentIDPrefix]--
		return models.Department{}, err
	}
	return department, nil
}

func (s *Storage) ListDepartments() []models.Department {
	s.mu.RLock()
	defer s.mu.RUnlock()

	departments := make([]models.Department, 0, len(s.data.Departments))
	for _, department := range s.data.Departments {
		departments = append(departments, department)
	}
	sort.Slice(departments, func(i, j int) bool {
		return departments[i].Name < departments[j].Name
	})
	return departments
}

func (s *Storage) GetDepartment(id string) (models.Department, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	department, ok := s.data.Departments[id]
	return department, ok
}

// DepartmentUpdate represents the mutable department fields.
type DepartmentUpdate struct {
	Name        *string
	Code        *string
	Description *string
}

func (s *Storage) UpdateDepartment(id string, update DepartmentUpdate) (models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	department, ok := updatedData.Departments[id]
	if !ok {
		return models.Department{}, fmt.Errorf("department %s not found", id)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Department{}, errors.New("name cannot be empty")
		}
		for existingID, existing := range updatedData.Departments {
			if existingID != id && strings.EqualFold(existing.Name, name) {
				return models.Department{}, fmt.Errorf("department name %s already in use", name)
			}
		}
		department.Name = name
	}
	if update.Code != nil {
		code := normalizeDepartmentCode(*update.Code)
		if code == "" {
			return models.Department{}, errors.New("code cannot be empty")
		}
		for existingID, existing := range updatedData.Departments {
			if existingID != id && existing.Code == code {
				return models.Department{}, fmt.Errorf("department code %s already in use", code)
			}
		}
		department.Code = code
	}
	if update.Description != nil {
		department.Description = strings.TrimSpace(*update.Description)
	}
	department.UpdatedAt = time.Now().UTC()

	updatedData.Departments[id] = department
	if err := s.persistDataset(updatedData); err != nil {
		return models.Department{}, err
	}

	s.data = updatedData
	return department, nil
}

// DeleteDepartment refuses to remove a department that still has resources
// or documents attached.
func (s *Storage) DeleteDepartment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Departments[id]; !ok {
		return fmt.Errorf("department %s not found", id)
	}
	for _, resource := range s.data.Resources {
		if resource.DepartmentID == id {
			return fmt.Errorf("department %s still has resource %s; delete it first", id, resource.ID)
		}
	}
	for _, document := range s.data.Documents {
		if document.DepartmentID == id {
			return fmt.Errorf("department %s still has document %s; delete it first", id, document.ID)
		}
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Departments, id)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// Resource operations

// CreateResourceParams captures the attributes for a new learning resource.
type CreateResourceParams struct {
	DepartmentID string
	Title        string
	URL          string
	Description  string
	Tags         []string
	AddedBy      string
}

func normalizeTags(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	tags := make([]string, 0, len(input))
	seen := make(map[string]struct{})
	for _, tag := range input {
		trimmed := strings.ToLower(strings.TrimSpace(tag))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		tags = append(tags, trimmed)
	}
	if len(tags) == 0 {
		return nil
	}
	sort.Strings(tags)
	return tags
}

func validateResourceURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url scheme %q is not allowed", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("url must include a host")
	}
	return trimmed, nil
}

func (s *Storage) CreateResource(params CreateResourceParams) (models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Departments[params.DepartmentID]; !ok {
		return models.Resource{}, fmt.Errorf("department %s not found", params.DepartmentID)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Resource{}, errors.New("title is required")
	}
	resourceURL, err := validateResourceURL(params.URL)
	if err != nil {
		return models.Resource{}, err
	}

	id := nextIDLocked(&s.data, resourceIDPrefix)
	now := time.Now().UTC()
	resource := models.Resource{
		ID:           id,
		DepartmentID: params.DepartmentID,
		Title:        title,
		URL:          resourceURL,
		Description:  strings.TrimSpace(params.Description),
		Tags:         normalizeTags(params.Tags),
		AddedBy:      params.AddedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.data.Resources[id] = resource
	if err := s.persist(); err != nil {
		delete(s.data.Resources, id)
		s.data.Sequences[resourceIDPrefix]--
		return models.Resource{}, err
	}
	return resource, nil
}

// ListResources returns resources filtered by department and an optional
// case-insensitive title/tag query, ordered newest first.
func (s *Storage) ListResources(departmentID, query string) []models.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	resources := make([]models.Resource, 0, len(s.data.Resources))
	for _, resource := range s.data.Resources {
		if departmentID != "" && resource.DepartmentID != departmentID {
			continue
		}
		if normalizedQuery != "" && !resourceMatches(resource, normalizedQuery) {
			continue
		}
		resources = append(resources, resource)
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.After(resources[j].CreatedAt)
	})
	return resources
}

func resourceMatches(resource models.Resource, query string) bool {
	if strings.Contains(strings.ToLower(resource.Title), query) {
		return true
	}
	if strings.Contains(strings.ToLower(resource.Description), query) {
		return true
	}
	for _, tag := range resource.Tags {
		if strings.Contains(tag, query) {
			return true
		}
	}
	return false
}

func (s *Storage) GetResource(id string) (models.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resource, ok := s.data.Resources[id]
	return resource, ok
}

// ResourceUpdate represents the mutable resource fields.
type ResourceUpdate struct {
	DepartmentID *string
	Title        *string
	URL          *string
	Description  *string
	Tags         *[]string
}

func (s *Storage) UpdateResource(id string, update ResourceUpdate) (models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	resource, ok := updatedData.Resources[id]
	if !ok {
		return models.Resource{}, fmt.Errorf("resource %s not found", id)
	}

	if update.DepartmentID != nil {
		departmentID := strings.TrimSpace(*update.DepartmentID)
		if _, ok := updatedData.Departments[departmentID]; !ok {
			return models.Resource{}, fmt.Errorf("department %s not found", departmentID)
		}
		resource.DepartmentID = departmentID
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Resource{}, errors.New("title cannot be empty")
		}
		resource.Title = title
	}
	if update.URL != nil {
		resourceURL, err := validateResourceURL(*update.URL)
		if err != nil {
			return models.Resource{}, err
		}
		resource.URL = resourceURL
	}
	if update.Description != nil {
		resource.Description = strings.TrimSpace(*update.Description)
	}
	if update.Tags != nil {
		resource.Tags = normalizeTags(*update.Tags)
	}
	resource.UpdatedAt = time.Now().UTC()

	updatedData.Resources[id] = resource
	if err := s.persistDataset(updatedData); err != nil {
		return models.Resource{}, err
	}

	s.data = updatedData
	return resource, nil
}

func (s *Storage) DeleteResource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Resources[id]; !ok {
		return fmt.Errorf("resource %s not found", id)
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Resources, id)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
