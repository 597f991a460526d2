package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studyhub/internal/models"
)

// Document operations

// CreateDocumentParams captures the attributes recorded when a decoded
// upload is registered in the store.
type CreateDocumentParams struct {
	DepartmentID     string
	Title            string
	OriginalFilename string
	StorageName      string
	SizeBytes        int64
	ContentType      string
	UploadedBy       string
}

func (s *Storage) CreateDocument(params CreateDocumentParams) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Departments[params.DepartmentID]; !ok {
		return models.Document{}, fmt.Errorf("department %s not found", params.DepartmentID)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Document{}, errors.New("title is required")
	}
	if strings.TrimSpace(params.StorageName) == "" {
		return models.Document{}, errors.New("storageName is required")
	}
	if params.SizeBytes < 0 {
		return models.Document{}, errors.New("sizeBytes cannot be negative")
	}

	id := nextIDLocked(&s.data, documentIDPrefix)
	now := time.Now().UTC()
	document := models.Document{
		ID:               id,
		DepartmentID:     params.DepartmentID,
		Title:            title,
		OriginalFilename: params.OriginalFilename,
		StorageName:      params.StorageName,
		SizeBytes:        params.SizeBytes,
		ContentType:      strings.TrimSpace(params.ContentType),
		Status:           models.DocumentStatusPending,
		UploadedBy:       params.UploadedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.data.Documents[id] = document
	if err := s.persist(); err != nil {
		delete(s.data.Documents, id)
		s.data.Sequences[documentIDPrefix]--
		return models.Document{}, err
	}
	return document, nil
}

// ListDocuments returns documents, optionally filtered by department,
// ordered newest first.
func (s *Storage) ListDocuments(departmentID string) []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	documents := make([]models.Document, 0, len(s.data.Documents))
	for _, document := range s.data.Documents {
		if departmentID != "" && document.DepartmentID != departmentID {
			continue
		}
		documents = append(documents, document)
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].CreatedAt.After(documents[j].CreatedAt)
	})
	return documents
}

func (s *Storage) GetDocument(id string) (models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	document, ok := s.data.Documents[id]
	return document, ok
}

// DocumentUpdate represents the mutable document fields. Status transitions
// and checksums are written by the scan worker; title edits come from the
// API.
type DocumentUpdate struct {
	Title    *string
	Status   *string
	Checksum *string
	Error    *string
}

func validDocumentStatus(status string) bool {
	switch status {
	case models.DocumentStatusPending, models.DocumentStatusAvailable, models.DocumentStatusFailed:
		return true
	}
	return false
}

func (s *Storage) UpdateDocument(id string, update DocumentUpdate) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	document, ok := updatedData.Documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s not found", id)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Document{}, errors.New("title cannot be empty")
		}
		document.Title = title
	}
	if update.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*update.Status))
		if !validDocumentStatus(status) {
			return models.Document{}, fmt.Errorf("invalid document status %q", *update.Status)
		}
		document.Status = status
	}
	if update.Checksum != nil {
		document.Checksum = strings.TrimSpace(*update.Checksum)
	}
	if update.Error != nil {
		document.Error = strings.TrimSpace(*update.Error)
	}
	document.UpdatedAt = time.Now().UTC()

	updatedData.Documents[id] = document
	if err := s.persistDataset(updatedData); err != nil {
		return models.Document{}, err
	}

	s.data = updatedData
	return document, nil
}

func (s *Storage) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Documents[id]; !ok {
		return fmt.Errorf("document %s not found", id)
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Documents, id)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
