package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidID is returned when a value cannot be read as a numeric id.
var ErrInvalidID = errors.New("invalid id")

// ID identifies users, messages and donations. The backend is not consistent
// about sending ids as JSON numbers or strings, so both decode to the same value.
type ID int64

// ParseID coerces numbers and numeric strings into an ID.
func ParseID(v any) (ID, error) {
	switch x := v.(type) {
	case ID:
		return x, nil
	case int:
		return ID(x), nil
	case int64:
		return ID(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidID, x)
		}
		return ID(x), nil
	case json.Number:
		return parseIDString(string(x))
	case string:
		return parseIDString(x)
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidID)
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidID, v)
}

func parseIDString(s string) (ID, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(n), nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero reports whether the id was never set.
func (id ID) IsZero() bool {
	return id == 0
}

// UnmarshalJSON accepts 10, "10" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*id = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := parseIDString(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}
