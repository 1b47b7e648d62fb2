package validation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"ibms-backend/internal/pkg/apperr"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// ID parses a required positive id from a path or query value.
func ID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid_"+field, field+" must be a positive integer").WithField(field)
	}
	return id, nil
}

// OptionalID parses an optional id; empty means nil.
func OptionalID(field, raw string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := ID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// OptionalInt parses an optional integer such as a year or round; empty means nil.
func OptionalInt(field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation("invalid_"+field, field+" must be an integer").WithField(field)
	}
	return &n, nil
}

// Flag reads 1/true/yes/y and 0/false/no/n; anything else yields def.
func Flag(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

// Body decodes a JSON object body. An empty body is an empty map.
func Body(raw []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Validation("invalid_body", "Invalid request body").Wrap(err)
	}
	return out, nil
}

// Decode unmarshals a JSON body into v; an empty body leaves v unchanged.
func Decode(raw []byte, v interface{}) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("invalid_body", "Invalid request body").Wrap(err)
	}
	return nil
}
