package negotiation

import (
	"strconv"

	"github.com/Greed71/webRTC/internal/protocol"
)

// defers reports whether self yields to other when both sent a renegotiation
// offer at the same time. The lower identifier defers. Identifiers that both
// parse as integers compare numerically.
func defers(self, other protocol.ID) bool {
	a, errA := strconv.ParseInt(string(self), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return self < other
}
