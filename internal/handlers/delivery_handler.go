package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/cache"
	"delivery-backend/internal/models"
	"delivery-backend/internal/services"
	"delivery-backend/internal/timeutil"
	"delivery-backend/pkg/utils"
)

type DeliveryHandler struct {
	Deliveries *services.DeliveryService
	Waybills   *services.WaybillService
	Cache      ListCache
	Log        logrus.FieldLogger
}

func NewDeliveryHandler(deliveries *services.DeliveryService, waybills *services.WaybillService, c ListCache, log logrus.FieldLogger) *DeliveryHandler {
	return &DeliveryHandler{Deliveries: deliveries, Waybills: waybills, Cache: c, Log: log}
}

func (h *DeliveryHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	var in models.CreateDeliveryRequest
	if err := decode(w, r, &in); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	d, err := h.Deliveries.Create(r.Context(), c, &in)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusCreated, d)
}

// List supports ?status=, ?ongoing=true, ?archived=true, ?branch_id= and a
// ?from=/?to= date range (YYYY-MM-DD, both inclusive).
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	q := r.URL.Query()
	filter, err := parseDeliveryFilter(q)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	key := scopeKey(c) + ":" + canonicalQuery(q)
	serveCached(w, r, h.Log, h.Cache, cache.DeliveriesPrefix, key, cache.ListTTL, func() (interface{}, error) {
		return h.Deliveries.List(r.Context(), c, filter)
	})
}

func parseDeliveryFilter(q url.Values) (models.DeliveryFilter, error) {
	filter := models.DeliveryFilter{
		Status:          q.Get("status"),
		OngoingOnly:     q.Get("ongoing") == "true",
		IncludeArchived: q.Get("archived") == "true",
	}
	if v := q.Get("branch_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			return filter, apperr.Validation("invalid branch_id")
		}
		filter.BranchID = &id
	}
	if v := q.Get("from"); v != "" {
		from, err := timeutil.ParseDate(v)
		if err != nil {
			return filter, apperr.Validation("invalid from date %q, expected YYYY-MM-DD", v)
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := timeutil.ParseDate(v)
		if err != nil {
			return filter, apperr.Validation("invalid to date %q, expected YYYY-MM-DD", v)
		}
		end := timeutil.NextDay(to)
		filter.To = &end
	}
	return filter, nil
}

func canonicalQuery(q url.Values) string {
	keys := []string{"status", "ongoing", "archived", "branch_id", "from", "to"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+q.Get(k))
	}
	return strings.Join(parts, "&")
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	d, err := h.Deliveries.Get(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) GetByTracking(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	d, err := h.Deliveries.GetByTracking(r.Context(), c, mux.Vars(r)["tracking_number"])
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) Update(w http.ResponseWriter, r *http.Request) {
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
	var in models.UpdateDeliveryRequest
	if err := decode(w, r, &in); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	d, err := h.Deliveries.UpdateFull(r.Context(), c, id, &in)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
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
	var in models.UpdateDeliveryStatusRequest
	if err := decode(w, r, &in); err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	d, err := h.Deliveries.UpdateStatus(r.Context(), c, id, in.Status)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
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
	d, err := h.Deliveries.ConfirmReceipt(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) Archive(w http.ResponseWriter, r *http.Request) {
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
	d, err := h.Deliveries.Archive(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, d)
}

// Waybill streams the delivery's printable PDF.
func (h *DeliveryHandler) Waybill(w http.ResponseWriter, r *http.Request) {
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
	d, pdf, err := h.Waybills.Render(r.Context(), c, id)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "waybill_"+d.TrackingNumber+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Write(pdf)
}
