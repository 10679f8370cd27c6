package api

import (
	"errors"
	"net/http"
	"time"

	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

type userPayload struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	StreamKey   string    `json:"streamKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newUserPayload(user models.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		StreamKey:   user.StreamKey,
		CreatedAt:   user.CreatedAt,
	}
}

type authResponse struct {
	User      userPayload `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type signupRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup handles POST /api/auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	user, err := h.Store.CreateUser(req.Email, req.DisplayName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			writeErrorCode(w, http.StatusConflict, CodeConflict)
		default:
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		}
		return
	}
	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusCreated, struct {
		authResponse
		Token string `json:"token"`
	}{authResponse{User: newUserPayload(user), ExpiresAt: expiresAt}, token})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	user, err := h.Store.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}
	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, struct {
		authResponse
		Token string `json:"token"`
	}{authResponse{User: newUserPayload(user), ExpiresAt: expiresAt}, token})
}

// Session handles GET /api/auth/session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		User userPayload `json:"user"`
	}{newUserPayload(user)})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	token := ExtractToken(r)
	if token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			return
		}
	}
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// requireUser resolves the request's session token to its account, writing
// an unauthorized response when it cannot.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := ExtractToken(r)
	if token == "" {
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized)
		return models.User{}, false
	}
	userID, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return models.User{}, false
	}
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized)
		return models.User{}, false
	}
	user, exists := h.Store.GetUser(userID)
	if !exists {
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized)
		return models.User{}, false
	}
	return user, true
}
