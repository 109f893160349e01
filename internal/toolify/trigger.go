package toolify

import (
	"strings"

	"github.com/google/uuid"
)

const (
	triggerPrefix = "<<CALL_"
	triggerSuffix = ">>"
)

// NewTrigger returns a fresh trigger marker of the form <<CALL_xxxxxx>>,
// where xxxxxx are six hex characters taken from a random UUID.
func NewTrigger() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return triggerPrefix + id[:6] + triggerSuffix
}
