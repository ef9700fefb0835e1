package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// IDRegex validates user and message id format
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateUserID validates a user identity received from a collaborator
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("user id is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateMessageID validates a persisted message id
func ValidateMessageID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("message id is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("message id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePayloadKind validates the event kind field
func ValidatePayloadKind(kind string) error {
	switch kind {
	case "new", "edited", "deleted":
		return nil
	default:
		return fmt.Errorf("invalid payload kind %q (must be new, edited or deleted)", kind)
	}
}
