package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/events"
	"delivery-backend/pkg/utils"
)

type EventsHandler struct {
	Hub *events.Hub
	Log logrus.FieldLogger
}

func NewEventsHandler(hub *events.Hub, log logrus.FieldLogger) *EventsHandler {
	return &EventsHandler{Hub: hub, Log: log}
}

// Subscribe upgrades to a websocket that streams lifecycle events.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		utils.Error(w, h.Log, err)
		return
	}
	h.Hub.ServeWS(w, r, c)
}
