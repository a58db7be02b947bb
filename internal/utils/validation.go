package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDateFlag parses a date string in ISO format (YYYY-MM-DD).
// Returns nil for empty strings (used to clear dates).
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	parsedDate, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}

	return &parsedDate, nil
}

// ValidateItemID checks that an EWS item id looks usable.
// Ids are opaque base64 strings, so only obvious mistakes are caught.
func ValidateItemID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("item id must not be empty")
	}
	if strings.ContainsAny(id, " \t\n<>") {
		return fmt.Errorf("invalid item id %q: contains whitespace or markup", id)
	}
	return nil
}
