// Package cursor encodes keyset pagination positions over (created_at DESC, id DESC).
package cursor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse decodes "<unixnano>:<id>". An empty cursor yields the zero time.
func Parse(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", errors.New("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid cursor id")
	}
	return time.Unix(0, n).UTC(), parts[1], nil
}

func Encode(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}

// Page trims rows fetched with limit+1 and returns the next cursor, if any.
func Page[T any](rows []T, limit int, key func(T) (time.Time, string)) ([]T, string) {
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	ts, id := key(rows[limit-1])
	return rows, Encode(ts, id)
}
