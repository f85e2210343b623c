package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/cache"
	"delivery-backend/internal/models"
	"delivery-backend/internal/services"
	"delivery-backend/pkg/utils"
)

type RequestHandler struct {
	Requests   *services.RequestService
	Processing *services.ProcessingService
	Cache      ListCache
	Log        logrus.FieldLogger
}

func NewRequestHandler(requests *services.RequestService, processing *services.ProcessingService, c ListCache, log logrus.FieldLogger) *RequestHandler {
	return &RequestHandler{Requests: requests, Processing: processing, Cache: c, Log: log}
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	var in models.CreateDeliveryRequestRequest
	if err := decode(w, r, &in); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	req, err := h.Requests.Create(r.Context(), c, &in)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusCreated, req)
}

// List returns requests visible to the caller, optionally filtered by ?status=.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	status := r.URL.Query().Get("status")
	key := scopeKey(c) + ":" + status
	serveCached(w, r, h.Log, h.Cache, cache.RequestsPrefix, key, cache.ListTTL, func() (interface{}, error) {
		return h.Requests.List(r.Context(), c, status)
	})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	req, err := h.Requests.Get(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, req)
}

// UpdateStatus approves or rejects a pending request.
func (h *RequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	var in models.UpdateRequestStatusRequest
	if err := decode(w, r, &in); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	req, err := h.Requests.UpdateStatus(r.Context(), c, id, &in)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	if err := h.Requests.Delete(r.Context(), c, id); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestHandler) ProcessingStatus(w http.ResponseWriter, r *http.Request) {
	h.processing(w, r, h.Processing.Status)
}

func (h *RequestHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.processing(w, r, h.Processing.Claim)
}

func (h *RequestHandler) processing(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, c models.Caller, id int) (*models.ProcessingStatus, error)) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	status, err := op(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, status)
}

// Release drops the caller's claim; ?force=true lets an admin clear any claim.
func (h *RequestHandler) Release(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.Processing.Release(r.Context(), c, id, force); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
