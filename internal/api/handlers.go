package api

import (
	"net/http"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/multipart"
	"studyhub/internal/storage"
)

const defaultMaxUploadBytes = 64 << 20

// Handler bundles the dependencies shared by the REST endpoints.
type Handler struct {
	Store               storage.Repository
	Sessions            *auth.SessionManager
	Uploads             *multipart.Decoder
	Scanner             *DocumentScanner
	UploadDir           string
	MaxUploadBytes      int64
	AllowSelfSignup     bool
	SessionCookiePolicy SessionCookiePolicy
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions, AllowSelfSignup: true}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// Health reports datastore and session store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	services := map[string]string{}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			services["store"] = err.Error()
		} else {
			services["store"] = "ok"
		}
	}
	if h.Sessions != nil {
		if err := h.Sessions.Ping(r.Context()); err != nil {
			status = "degraded"
			services["sessions"] = err.Error()
		} else {
			services["sessions"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
