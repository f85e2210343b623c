package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"delivery-backend/pkg/utils"
)

// ListCache stores rendered list responses per generation of a key prefix.
// Invalidating a prefix moves it to a new generation. *cache.Cache satisfies
// it and is safe to use when Redis is not configured.
type ListCache interface {
	Generation(ctx context.Context, prefix string) (int64, bool)
	Get(ctx context.Context, key string) ([]byte, bool)
	SetIfGeneration(ctx context.Context, prefix string, gen int64, key string, data []byte, ttl time.Duration) bool
}

// serveCached writes the cached body for prefix+key, or calls load, writes its
// result and caches it if no invalidation of prefix happened meanwhile.
func serveCached(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, c ListCache, prefix, key string, ttl time.Duration, load func() (interface{}, error)) {
	var gen int64
	cached := false
	if c != nil {
		gen, cached = c.Generation(r.Context(), prefix)
	}
	fullKey := prefix + "g" + strconv.FormatInt(gen, 10) + ":" + key
	if cached {
		if data, ok := c.Get(r.Context(), fullKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(data)
			return
		}
	}

	v, err := load()
	if err != nil {
		utils.Error(w, log, err)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		utils.Error(w, log, err)
		return
	}
	if cached {
		c.SetIfGeneration(r.Context(), prefix, gen, fullKey, data, ttl)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
