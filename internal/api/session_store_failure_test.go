package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/storage"
	"studyhub/internal/testsupport"
)

func newStoreFailureEnv(t *testing.T) (*Handler, *testsupport.SessionStoreStub) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	user, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Ana", Email: "ana@example.com", Roles: []string{"student"},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.SetUserPassword(user.ID, "correct horse"); err != nil {
		t.Fatalf("set password: %v", err)
	}

	stub := testsupport.NewSessionStoreStub()
	sessions := auth.NewSessionManager(time.Hour, auth.WithStore(stub))
	return NewHandler(store, sessions), stub
}

func TestLoginFailsWhenSessionStoreUnavailable(t *testing.T) {
	handler, stub := newStoreFailureEnv(t)
	stub.SaveErr = errors.New("backend down")

	rec := postJSON(t, handler.Login, "/api/auth/login", loginRequest{
		Email:    "ana@example.com",
		Password: "correct horse",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("login status = %d, want 500", rec.Code)
	}
	if stub.Len() != 0 {
		t.Fatalf("store holds %d sessions after failed save", stub.Len())
	}
}

func TestSessionLookupFailsWhenStoreUnavailable(t *testing.T) {
	handler, stub := newStoreFailureEnv(t)

	rec := postJSON(t, handler.Login, "/api/auth/login", loginRequest{
		Email:    "ana@example.com",
		Password: "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}
	if stub.Len() != 1 {
		t.Fatalf("store holds %d sessions, want 1", stub.Len())
	}
	cookie := sessionCookie(t, rec)

	stub.GetErr = errors.New("backend down")
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	sessionRec := httptest.NewRecorder()
	handler.Session(sessionRec, req)
	if sessionRec.Code != http.StatusInternalServerError {
		t.Fatalf("session status = %d, want 500", sessionRec.Code)
	}
}
