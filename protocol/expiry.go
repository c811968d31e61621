package protocol

import "time"

// Default TTLs by message category.
var defaultTTLs = map[string]time.Duration{
	TypeOrderStatus: 10 * time.Minute,

	TypeWaybillTransit: time.Hour,
	TypeTaskCompleted:  time.Hour,

	// queue requests and hop completions loop back through the inbound
	// topic; dropping one strands its order, so they never expire
	TypeOrderNeedsScheduling: 0,
	TypeTaskHopCompleted:     0,

	TypeVehiclePlanAvailable: 2 * time.Hour,
	TypeTaskCreated:          2 * time.Hour,
	TypePlanCompleted:        2 * time.Hour,

	// business outcomes and alerts must not be lost to a slow consumer
	TypeOrderConvert:          24 * time.Hour,
	TypeOrderRejected:         24 * time.Hour,
	TypeOrderArrivedFinal:     24 * time.Hour,
	TypeOrderAwaitingDelivery: 24 * time.Hour,
	TypeWaybillOversize:       24 * time.Hour,
	TypeOrderNoPath:           24 * time.Hour,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type. Zero means the
// message never expires.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	if env.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	if hdr.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(hdr.ExpiresAt)
}
