package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/services"
	"delivery-backend/pkg/utils"
)

type AdminHandler struct {
	Archive *services.ArchiveService
	Log     logrus.FieldLogger
}

func NewAdminHandler(archive *services.ArchiveService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{Archive: archive, Log: log}
}

// ClearArchive permanently removes archived deliveries and finished requests.
func (h *AdminHandler) ClearArchive(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	result, err := h.Archive.ClearArchive(r.Context(), c)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, result)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	result, err := h.Archive.Reconcile(r.Context(), c)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, result)
}
