package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/domain"
)

type AuthHandler struct {
	service *service.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(s *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.Named("auth")}
}

// Login выдает RS256 токен оператору консоли.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Username) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password are required"})
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		// Не уточняем, что именно неверно, логин или пароль
		h.logger.Warn("login rejected", zap.String("username", req.Username), zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		return
	case err != nil:
		h.logger.Error("token issue failed", zap.String("username", req.Username), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "token service unavailable"})
		return
	}

	h.logger.Info("token issued", zap.String("username", req.Username))
	writeJSON(w, http.StatusOK, resp)
}
