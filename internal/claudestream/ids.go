package claudestream

import (
	"strings"

	"github.com/google/uuid"
)

// NewMessageID returns an identifier of the form msg_<24 hex chars>.
func NewMessageID() string {
	return "msg_" + randomHex(24)
}

// NewToolUseID returns an identifier of the form toolu_<24 hex chars>.
func NewToolUseID() string {
	return "toolu_" + randomHex(24)
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
