package server

import (
	"errors"
	"net/http"
	"strings"

	"buglens/pkg/domain"
	"buglens/services/api/internal/app"
	"buglens/services/api/internal/security"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Register(r.Context(), req)
	if err != nil {
		if statusForError(err) != http.StatusInternalServerError {
			s.auditFailure(r, security.EventRegister)
		}
		fail(w, r, err, "Registration failed", "Registration could not be completed. Please try again later.")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var problems []string
	if strings.TrimSpace(req.Email) == "" {
		problems = append(problems, "Email is required")
	}
	if req.Password == "" {
		problems = append(problems, "Password is required")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, "Invalid input", strings.Join(problems, "; "))
		return
	}
	res, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if statusForError(err) == http.StatusUnauthorized {
			s.auditFailure(r, security.EventLogin)
		}
		fail(w, r, err, "Login failed", "Login could not be completed. Please try again later.")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(token); err != nil {
		fail(w, r, err, "Logout failed", "Logout could not be completed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Invalid input", "Email is required")
		return
	}
	msg, err := s.app.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		fail(w, r, err, "Request failed", "The reset request could not be processed. Please try again later.")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.NewPassword) == "" {
		writeError(w, http.StatusBadRequest, "Invalid input", "Token and new password are required")
		return
	}
	msg, err := s.app.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		if errors.Is(err, app.ErrInvalidResetToken) {
			s.auditFailure(r, security.EventPasswordReset)
		}
		fail(w, r, err, "Reset failed", "The password could not be reset. Please try again later.")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	exists, err := s.app.HasUserEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		fail(w, r, err, "Request failed", "Email lookup failed.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}
