package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestSignupLoginSessionFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Signup, "/api/auth/signup", signupRequest{
		DisplayName: "Ana",
		Email:       "ana@example.com",
		Password:    "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body=%s", rec.Code, rec.Body.String())
	}
	signedUp := decodeBody[authResponse](t, rec)
	if !signedUp.User.SelfSignup {
		t.Fatal("signup should flag selfSignup")
	}
	if len(signedUp.User.Roles) != 1 || signedUp.User.Roles[0] != "student" {
		t.Fatalf("signup roles = %v, want [student]", signedUp.User.Roles)
	}
	cookie := sessionCookie(t, rec)
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}

	rec = postJSON(t, env.handler.Login, "/api/auth/login", loginRequest{
		Email:    "ana@example.com",
		Password: "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}
	cookie = sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	sessionRec := httptest.NewRecorder()
	env.handler.Session(sessionRec, req)
	if sessionRec.Code != http.StatusOK {
		t.Fatalf("session status = %d body=%s", sessionRec.Code, sessionRec.Body.String())
	}
	current := decodeBody[authResponse](t, sessionRec)
	if current.User.Email != "ana@example.com" {
		t.Fatalf("session user = %q", current.User.Email)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil)
	req.AddCookie(cookie)
	logoutRec := httptest.NewRecorder()
	env.handler.Session(logoutRec, req)
	if logoutRec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", logoutRec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	expiredRec := httptest.NewRecorder()
	env.handler.Session(expiredRec, req)
	if expiredRec.Code != http.StatusUnauthorized {
		t.Fatalf("session after logout status = %d", expiredRec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Login, "/api/auth/login", loginRequest{
		Email:    "admin@example.com",
		Password: "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", rec.Code)
	}
}

func TestSignupDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.handler.AllowSelfSignup = false

	rec := postJSON(t, env.handler.Signup, "/api/auth/signup", signupRequest{
		DisplayName: "Ana",
		Email:       "ana@example.com",
		Password:    "correct horse",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("signup status = %d, want 403", rec.Code)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.handler.Signup, "/api/auth/signup", signupRequest{
		DisplayName: "Ana",
		Email:       "ana@example.com",
		Password:    "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("signup status = %d, want 400", rec.Code)
	}
}
