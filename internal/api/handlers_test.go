package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/models"
	"studyhub/internal/multipart"
	"studyhub/internal/storage"
)

type testEnv struct {
	handler *Handler
	store   *storage.Storage
	admin   models.User
	staff   models.User
	student models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	admin, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Admin", Email: "admin@example.com", Roles: []string{"admin"},
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	staff, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Staff", Email: "staff@example.com", Roles: []string{"staff"},
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	student, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Student", Email: "student@example.com", Roles: []string{"student"},
	})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}

	uploadDir := t.TempDir()
	handler := NewHandler(store, auth.NewSessionManager(time.Hour))
	handler.UploadDir = uploadDir
	handler.Uploads = multipart.NewDecoder(uploadDir)
	handler.Scanner = NewDocumentScanner(DocumentScannerConfig{Store: store, UploadDir: uploadDir})

	return &testEnv{handler: handler, store: store, admin: admin, staff: staff, student: student}
}

func (e *testEnv) request(t *testing.T, method, target string, body interface{}, actor *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(ContextWithUser(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	e.route(target)(rec, req)
	return rec
}

func (e *testEnv) route(target string) http.HandlerFunc {
	path := target
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	switch {
	case path == "/api/users":
		return e.handler.Users
	case strings.HasPrefix(path, "/api/users/"):
		return e.handler.UserByID
	case path == "/api/departments":
		return e.handler.Departments
	case strings.HasPrefix(path, "/api/departments/"):
		return e.handler.DepartmentByID
	case path == "/api/resources":
		return e.handler.Resources
	case strings.HasPrefix(path, "/api/resources/"):
		return e.handler.ResourceByID
	case path == "/api/documents":
		return e.handler.Documents
	case strings.HasPrefix(path, "/api/documents/"):
		return e.handler.DocumentByID
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no test route for %s", path))
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) createDepartment(t *testing.T, name, code string) departmentResponse {
	t.Helper()
	rec := e.request(t, http.MethodPost, "/api/departments", createDepartmentRequest{Name: name, Code: code}, &e.admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create department status = %d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[departmentResponse](t, rec)
}

func TestUsersEndpointRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/users", nil, &env.student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student list users status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/users", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list users status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/users", nil, &env.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list users status = %d", rec.Code)
	}
	users := decodeBody[[]userResponse](t, rec)
	if len(users) != 3 {
		t.Fatalf("users = %d, want 3", len(users))
	}
}

func TestUserCanFetchOwnProfileOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/users/"+env.student.ID, nil, &env.student)
	if rec.Code != http.StatusOK {
		t.Fatalf("self fetch status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/users/"+env.admin.ID, nil, &env.student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross fetch status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/users/"+env.student.ID, nil, &env.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin fetch status = %d", rec.Code)
	}
}

func TestUserSelfUpdate(t *testing.T) {
	env := newTestEnv(t)

	newName := "Student Renamed"
	rec := env.request(t, http.MethodPatch, "/api/users/"+env.student.ID, updateUserRequest{DisplayName: &newName}, &env.student)
	if rec.Code != http.StatusOK {
		t.Fatalf("self patch status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[userResponse](t, rec); got.DisplayName != newName {
		t.Fatalf("displayName = %q, want %q", got.DisplayName, newName)
	}

	roles := []string{"admin"}
	rec = env.request(t, http.MethodPatch, "/api/users/"+env.student.ID, updateUserRequest{Roles: &roles}, &env.student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self role change status = %d, want 403", rec.Code)
	}

	rec = env.request(t, http.MethodPatch, "/api/users/"+env.staff.ID, updateUserRequest{DisplayName: &newName}, &env.student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross patch status = %d, want 403", rec.Code)
	}

	rec = env.request(t, http.MethodPatch, "/api/users/"+env.student.ID, updateUserRequest{Roles: &roles}, &env.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin role change status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminCannotDeleteOwnAccount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodDelete, "/api/users/"+env.admin.ID, nil, &env.admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self delete status = %d", rec.Code)
	}
	rec = env.request(t, http.MethodDelete, "/api/users/"+env.student.ID, nil, &env.admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete other user status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDepartmentCRUD(t *testing.T) {
	env := newTestEnv(t)

	created := env.createDepartment(t, "Cardiology", "card")
	if created.Code != "CARD" {
		t.Fatalf("code = %q, want CARD", created.Code)
	}

	rec := env.request(t, http.MethodPost, "/api/departments", createDepartmentRequest{Name: "X", Code: "X"}, &env.staff)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff create department status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/departments", nil, &env.student)
	if rec.Code != http.StatusOK {
		t.Fatalf("student list departments status = %d", rec.Code)
	}
	departments := decodeBody[[]departmentResponse](t, rec)
	if len(departments) != 1 {
		t.Fatalf("departments = %d, want 1", len(departments))
	}

	newName := "Cardiology and ECG"
	rec = env.request(t, http.MethodPatch, "/api/departments/"+created.ID, updateDepartmentRequest{Name: &newName}, &env.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch department status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[departmentResponse](t, rec); got.Name != newName {
		t.Fatalf("patched name = %q", got.Name)
	}

	rec = env.request(t, http.MethodDelete, "/api/departments/"+created.ID, nil, &env.admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete department status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestResourceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	department := env.createDepartment(t, "Cardiology", "CARD")

	createReq := createResourceRequest{
		DepartmentID: department.ID,
		Title:        "ECG interpretation",
		URL:          "https://example.com/ecg",
		Tags:         []string{"EKG", "guide"},
	}
	rec := env.request(t, http.MethodPost, "/api/resources", createReq, &env.staff)
	if rec.Code != http.StatusCreated {
		t.Fatalf("staff create resource status = %d body=%s", rec.Code, rec.Body.String())
	}
	resource := decodeBody[resourceResponse](t, rec)
	if resource.AddedBy != env.staff.ID {
		t.Fatalf("addedBy = %q, want %q", resource.AddedBy, env.staff.ID)
	}

	rec = env.request(t, http.MethodPost, "/api/resources", createReq, &env.student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student create resource status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/resources?departmentId="+department.ID, nil, &env.student)
	if rec.Code != http.StatusOK {
		t.Fatalf("list resources status = %d", rec.Code)
	}
	if listed := decodeBody[[]resourceResponse](t, rec); len(listed) != 1 {
		t.Fatalf("resources = %d, want 1", len(listed))
	}

	badURL := "javascript:alert(1)"
	rec = env.request(t, http.MethodPatch, "/api/resources/"+resource.ID, updateResourceRequest{URL: &badURL}, &env.staff)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad url patch status = %d", rec.Code)
	}

	rec = env.request(t, http.MethodDelete, "/api/resources/"+resource.ID, nil, &env.staff)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete resource status = %d", rec.Code)
	}
}
