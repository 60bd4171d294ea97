package ledger

import (
	"fmt"
	"strings"
)

// CancellationPolicy selects how customer slot cancellations are settled.
type CancellationPolicy string

const (
	// PolicyImmediate settles a slot cancellation as soon as it is requested.
	PolicyImmediate CancellationPolicy = "immediate"
	// PolicyApproval queues customer requests until an admin approves them.
	PolicyApproval CancellationPolicy = "approval"
)

// ParseCancellationPolicy validates a policy name. Empty selects PolicyImmediate.
func ParseCancellationPolicy(raw string) (CancellationPolicy, error) {
	switch CancellationPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyImmediate:
		return PolicyImmediate, nil
	case PolicyApproval:
		return PolicyApproval, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}
