package storage

import (
	"context"

	"studyhub/internal/models"
)

// Repository exposes the datastore operations required by API handlers and
// the document scan worker.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	DeleteUser(id string) error

	CreateDepartment(params CreateDepartmentParams) (models.Department, error)
	ListDepartments() []models.Department
	GetDepartment(id string) (models.Department, bool)
	UpdateDepartment(id string, update DepartmentUpdate) (models.Department, error)
	DeleteDepartment(id string) error

	CreateResource(params CreateResourceParams) (models.Resource, error)
	ListResources(departmentID, query string) []models.Resource
	GetResource(id string) (models.Resource, bool)
	UpdateResource(id string, update ResourceUpdate) (models.Resource, error)
	DeleteResource(id string) error

	CreateDocument(params CreateDocumentParams) (models.Document, error)
	ListDocuments(departmentID string) []models.Document
	GetDocument(id string) (models.Document, bool)
	UpdateDocument(id string, update DocumentUpdate) (models.Document, error)
	DeleteDocument(id string) error
}

var _ Repository = (*Storage)(nil)
