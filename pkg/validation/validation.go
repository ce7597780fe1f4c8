package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ResourceIDRegex validates transport/producer/consumer ID format
	ResourceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateUserID validates a user identifier
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("user id is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user id may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ValidateResourceID validates a transport/producer/consumer identifier
func ValidateResourceID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("resource id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("resource id is too long (max 128 characters)")
	}
	if !ResourceIDRegex.MatchString(id) {
		return fmt.Errorf("resource id may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ValidateMediaKind validates a media kind string
func ValidateMediaKind(kind string) error {
	if kind != "audio" && kind != "video" {
		return fmt.Errorf("media kind must be audio or video, got %q", kind)
	}
	return nil
}
