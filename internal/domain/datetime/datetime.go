package datetime

import (
	"fmt"
	"time"
)

// Layouts used for storage and for API output.
const (
	StorageLayout = "2006-01-02 15:04:05.000"
	APILayout     = "2006-01-02T15:04:05.000Z07:00"
)

var inputLayouts = []string{
	time.RFC3339Nano,
	APILayout,
	StorageLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse accepts RFC 3339, storage and date-only forms. Values without a
// zone are read as UTC.
func Parse(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range inputLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid datetime %q", t)
	}
	return time.Time{}, fmt.Errorf("invalid datetime value of type %T", v)
}

// ToStorage normalizes a datetime to the UTC storage layout.
func ToStorage(v any) (string, error) {
	t, err := Parse(v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(StorageLayout), nil
}

// ToAPI formats a stored datetime for output.
func ToAPI(v any) (string, error) {
	t, err := Parse(v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(APILayout), nil
}

// Now returns the current time in the API layout.
func Now() string { return time.Now().UTC().Format(APILayout) }

// Format formats t in the API layout.
func Format(t time.Time) string { return t.UTC().Format(APILayout) }
