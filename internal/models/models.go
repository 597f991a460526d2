package models

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	SelfSignup   bool      `json:"selfSignup"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole reports whether the user has the provided role, ignoring case.
func (u User) HasRole(role string) bool {
	for _, existing := range u.Roles {
		if strings.EqualFold(existing, role) {
			return true
		}
	}
	return false
}

type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Resource is an external learning link attached to a department.
type Resource struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"departmentId"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	AddedBy      string    `json:"addedBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Document describes an uploaded file stored under a generated name in the
// uploads directory. Checksum and Status are filled by the scan worker after
// the upload completes.
type Document struct {
	ID               string    `json:"id"`
	DepartmentID     string    `json:"departmentId"`
	Title            string    `json:"title"`
	OriginalFilename string    `json:"originalFilename"`
	StorageName      string    `json:"storageName"`
	SizeBytes        int64     `json:"sizeBytes"`
	ContentType      string    `json:"contentType,omitempty"`
	Checksum         string    `json:"checksum,omitempty"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	UploadedBy       string    `json:"uploadedBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Document lifecycle states.
const (
	DocumentStatusPending   = "pending"
	DocumentStatusAvailable = "available"
	DocumentStatusFailed    = "failed"
)
