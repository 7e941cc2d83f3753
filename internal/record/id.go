package record

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers that only exist locally.
const TempIDPrefix = "temp_"

// NewID returns a time-sortable UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewIDFor returns a fresh identifier following t's identity policy.
func NewIDFor(t Table) string {
	id := NewID()
	if t.Identity() == Temporary {
		return TempIDPrefix + id
	}
	return id
}

// IsTempID reports whether id was produced for a Temporary table and has not
// been confirmed yet.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ConfirmedID returns the id the remote collaborator stores for id.
// Confirmed ids are returned unchanged.
func ConfirmedID(id string) string {
	return strings.TrimPrefix(id, TempIDPrefix)
}
