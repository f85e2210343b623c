package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   apperr.Kind            `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error writes err using its apperr kind. Errors outside the taxonomy are
// logged and reported as a generic internal error.
func Error(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, false)
	}
	if e.Kind == apperr.KindInternal && log != nil {
		log.WithError(err).Error("[HTTP] Internal error")
	}
	JSON(w, apperr.HTTPStatus(e.Kind), ErrorBody{
		Error:   e.Kind,
		Message: e.Message,
		Details: e.Details,
	})
}
