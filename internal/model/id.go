package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type IDType string

// IDTypeRun prefixes the identifiers stamped on every flight program run.
const IDTypeRun IDType = "run"

var idRegex = regexp.MustCompile(`^run_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID builds a sortable identifier: type prefix, unix timestamp, and
// a random suffix.
func GenerateID(idType IDType) (string, error) {
	if idType != IDTypeRun {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	timestamp := time.Now().Unix()
	suffix := uuid.NewString()[:8]

	return fmt.Sprintf("%s_%010d_%s", idType, timestamp, suffix), nil
}

// ValidateID reports whether id matches the run identifier wire format.
func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}
