package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/middleware"
	"delivery-backend/internal/models"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func caller(r *http.Request) (models.Caller, error) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return models.Caller{}, apperr.Authentication("authentication required")
	}
	return c, nil
}

// scopeKey separates cached listings by visibility: branch users share one
// entry per branch, staff share one.
func scopeKey(c models.Caller) string {
	if c.Role == models.RoleBranch && c.BranchID != nil {
		return "branch:" + strconv.Itoa(*c.BranchID)
	}
	return "all"
}
