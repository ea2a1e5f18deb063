package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is an opaque string-keyed map stored in a jsonb column.
// Used only for user-provided payloads (project settings); known shapes get
// their own typed structs.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m)
}

// Bool returns the boolean value at key, false when absent or not a bool.
func (m JSONMap) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

// String returns the string value at key, "" when absent or not a string.
func (m JSONMap) String(key string) string {
	v, _ := m[key].(string)
	return v
}

// scanJSON unmarshals a jsonb column value ([]byte, string, or nil) into dst.
func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON value", src)
	}
}

// jsonValue marshals v for a jsonb column, mapping nil to SQL NULL.
func jsonValue(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
