package common

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ValidateSessionID checks if the given session ID is a valid UUID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session id, not a uuid")
	}

	return nil
}

// ValidateContentType checks if the content type can be used as a path segment.
// Types are addon defined, so only the shape is checked.
func ValidateContentType(t string) error {
	return validateSegment(t, "content type")
}

// ValidateContentID checks if the content ID can be used as a path segment.
func ValidateContentID(id string) error {
	return validateSegment(id, "content id")
}

func validateSegment(s, what string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("invalid " + what + ", empty")
	}
	if strings.ContainsAny(s, "/?#") {
		return errors.New("invalid " + what + ", contains reserved characters")
	}
	if len(s) > 256 {
		return errors.New("invalid " + what + ", too long")
	}

	return nil
}

// ValidatePlaybackEvent checks if the playback event reported by the browser is known.
func ValidatePlaybackEvent(event string) error {
	switch event {
	case "started", "rejected", "ended", "error":
		return nil
	}

	return errors.New("invalid playback event, only started, rejected, ended and error are supported")
}
