package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"erp/ecommerce/internal/platform/errors"
)

// IntParam reads an int query parameter clamped to [minV, maxV].
func IntParam(r *http.Request, key string, def, minV, maxV int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// Limit is the list page size: default 50, clamped to [1, 200].
func Limit(r *http.Request) int {
	return IntParam(r, "limit", 50, 1, 200)
}

func Query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func URLParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

// TimeParam parses an RFC3339 or YYYY-MM-DD query parameter. Missing values yield the zero time.
func TimeParam(r *http.Request, key string) (time.Time, error) {
	raw := Query(r, key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.Invalidf("%s must be RFC3339 or YYYY-MM-DD", key)
	}
	return t.UTC(), nil
}
