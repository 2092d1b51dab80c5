package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libris-hq/apiserver/internal/services"
	"github.com/libris-hq/apiserver/types"
)

// AuthService is the account API used by AuthHandler. *services.UserService
// satisfies it.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (types.User, error)
	Login(ctx context.Context, email, password string) (services.LoginResult, error)
	UpdateRole(ctx context.Context, id int, role string) error
	GetUser(ctx context.Context, id int) (types.User, error)
}

// AuthHandler provides account and session endpoints.
type AuthHandler struct {
	users        AuthService
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users AuthService, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:        users,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, users AuthService, tokens TokenVerifier, cookieSecure bool, logger *slog.Logger) {
	handler := NewAuthHandler(users, cookieSecure, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(RequireAuth(tokens), RequireAdmin).Post("/update", handler.UpdateRole)
	r.Get("/{id}", handler.GetUser)
}

// Register creates a new user account. No session is started.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeStrict(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Please fill in only firstName, lastName, email and password fields",
			Error:   err.Error(),
		})
		return
	}

	user, err := h.users.Register(r.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{Message: "User created successfully", User: user})
}

// Login verifies credentials and starts a cookie session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeStrict(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Please fill in only email and password fields",
			Error:   err.Error(),
		})
		return
	}

	result, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(result.ExpiresIn / time.Second),
		Expires:  time.Now().Add(result.ExpiresIn),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, LoginResponse{
		Status:  "OK",
		Message: "Login successful",
		IDToken: result.Token,
	})
}

// Logout clears the session cookie. Tokens are not revoked server-side.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Successful logout"})
}

// UpdateRole grants a role to another user. Requires an admin session.
func (h *AuthHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := decodeStrict(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Please fill in only role and id fields",
			Error:   err.Error(),
		})
		return
	}

	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" || !validID(req.ID) {
		writeError(w, http.StatusBadRequest, "Role or ID not present")
		return
	}

	if err := h.users.UpdateRole(r.Context(), req.ID, req.Role); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Role updated successfully"})
}

// GetUser returns the public profile of a user.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type RegisterResponse struct {
	Message string     `json:"message"`
	User    types.User `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	IDToken string `json:"idToken"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
	ID   int    `json:"id"`
}
