package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/models"
	"delivery-backend/internal/services"
	"delivery-backend/pkg/utils"
)

type AuthHandler struct {
	Service *services.UserService
	Log     logrus.FieldLogger
}

func NewAuthHandler(s *services.UserService, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{Service: s, Log: log}
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decode(w, r, &req); err != nil {
		utils.Error(w, h.Log, err)
		return
	}

	authResp, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, authResp)
}

// Me returns the authenticated user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	user, err := h.Service.Me(r.Context(), c.UserID)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, user)
}
