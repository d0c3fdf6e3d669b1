package membership

import "strings"

// Classification is the tri-state derived from a raw provider status.
type Classification string

const (
	ClassActive   Classification = "ACTIVE"
	ClassInactive Classification = "INACTIVE"
	ClassUnknown  Classification = "UNKNOWN"
)

// Classify maps a raw provider status string to its classification. The
// mapping is total: any string outside the two known sets, including the
// empty string, classifies as Unknown.
func Classify(rawStatus string) Classification {
	switch strings.ToUpper(strings.TrimSpace(rawStatus)) {
	case "APPROVED", "PAID", "ACTIVE":
		return ClassActive
	case "DELAYED", "OVERDUE", "PENDING", "EXPIRED", "CANCELED", "CANCELLED",
		"REFUNDED", "CHARGEBACK", "SUSPENDED":
		return ClassInactive
	default:
		return ClassUnknown
	}
}
