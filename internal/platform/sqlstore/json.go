package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ScanJSON decodes a JSON text column into dst. NULL and empty values leave dst untouched.
func ScanJSON(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// JSONValue encodes v for a JSON text column.
func JSONValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Strings is a string list stored as a JSON array.
type Strings []string

func (s *Strings) Scan(src any) error { return ScanJSON(src, s) }

func (s Strings) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return JSONValue([]string(s))
}

// StringMap is a string map stored as a JSON object.
type StringMap map[string]string

func (m *StringMap) Scan(src any) error { return ScanJSON(src, m) }

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return JSONValue(map[string]string(m))
}
