package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"lead-capture/internal/apierror"
)

const (
	maxJSONBodyBytes  = 1 << 20
	maxIdentityLength = 254
	maxPasswordLength = 200
)

type CookieConfig struct {
	Name   string
	Secure bool
	Domain string
}

type Handler struct {
	service   *Service
	responder *apierror.Responder
	cookie    CookieConfig
}

func NewHandler(service *Service, responder *apierror.Responder, cookie CookieConfig) *Handler {
	return &Handler{service: service, responder: responder, cookie: cookie}
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.responder.Error(w, r, apierror.Validation("invalid json body", nil))
		return
	}

	fields := map[string]string{}
	identity := NormalizeIdentity(body.Identity)
	switch {
	case identity == "":
		fields["identity"] = "is required"
	case len(identity) > maxIdentityLength || !utf8.ValidString(identity):
		fields["identity"] = "is invalid"
	}
	switch {
	case body.Password == "":
		fields["password"] = "is required"
	case len(body.Password) > maxPasswordLength:
		fields["password"] = "is invalid"
	}
	if len(fields) > 0 {
		h.responder.Error(w, r, apierror.Validation("invalid login request", fields))
		return
	}

	result, err := h.service.Login(r.Context(), identity, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.responder.Error(w, r, apierror.Authentication("Invalid credentials"))
			return
		}
		h.responder.Error(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(result.Token, result.ExpiresAt))
	h.responder.JSON(w, http.StatusOK, result)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		h.responder.Error(w, r, apierror.Authentication("missing authorization token"))
		return
	}

	user, err := h.service.CurrentUser(r.Context(), principal)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			h.responder.Error(w, r, apierror.Authentication("invalid or expired token"))
			return
		}
		h.responder.Error(w, r, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, user)
}

// Logout always succeeds. The cookie is cleared; the token itself is only
// revoked server-side when a denylist is configured.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if principal, ok := PrincipalFrom(r.Context()); ok {
		h.service.Logout(principal)
	}

	http.SetCookie(w, h.sessionCookie("", time.Unix(0, 0)))
	h.responder.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) sessionCookie(value string, expires time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	return cookie
}
