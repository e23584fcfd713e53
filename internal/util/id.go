package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
