package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/pkg/utils"
)

func PanicRecovery(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic":      rec,
						"path":       r.URL.Path,
						"request_id": RequestIDFromContext(r.Context()),
					}).Errorf("[HTTP] Panic recovered\n%s", debug.Stack())
					utils.Error(w, nil, apperr.Internal(errors.Errorf("panic: %v", rec), false))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
