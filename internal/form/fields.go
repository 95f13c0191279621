package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Input is a form field as typed by the user. It decodes from a JSON string,
// number or null, so numeric fields stay text until validation parses them.
type Input string

func (in *Input) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*in = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*in = Input(s)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*in = Input(b)
	default:
		return fmt.Errorf("form input must be a string or a number, got %s", b)
	}
	return nil
}

func (in Input) String() string { return string(in) }

// FieldErrors maps a field name to what is wrong with it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	names := make([]string, 0, len(fe))
	for n := range fe {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+" "+fe[n])
	}
	return strings.Join(parts, "; ")
}

// Required records field as missing when value is blank.
func (fe FieldErrors) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		fe[field] = "is required"
	}
}

// OneOf records field as invalid when value is set but not in allowed.
func (fe FieldErrors) OneOf(field, value string, allowed ...string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	fe[field] = "must be one of " + strings.Join(allowed, ", ")
}

// Err returns fe as an error, or nil when no field is at fault.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}
