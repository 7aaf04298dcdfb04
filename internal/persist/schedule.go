package persist

import "time"

// Retry schedule constants. The per-attempt timeout starts generous and
// shrinks toward the floor on later attempts so a persistently bad link
// fails fast instead of pinning the user for minutes.
const (
	// DefaultMaxRetries is the number of extra attempts after the first.
	DefaultMaxRetries = 5

	baseTimeout   = 30 * time.Second
	timeoutFloor  = 15 * time.Second
	timeoutShrink = 5 * time.Second // per attempt after the first

	// Payload size surcharge tiers.
	sizeTier1Bytes  = 32 << 10
	sizeTier2Bytes  = 128 << 10
	sizeTier3Bytes  = 512 << 10
	sizeSurchargeT1 = 5 * time.Second
	sizeSurchargeT2 = 10 * time.Second
	sizeSurchargeT3 = 15 * time.Second

	degradedSurcharge = 15 * time.Second

	baseBackoff        = 1 * time.Second
	maxBackoff         = 10 * time.Second
	maxJitter          = 1 * time.Second
	degradedMultiplier = 2
	offlineExtension   = 5 * time.Second
)

// Profile describes the network conditions an attempt is planned under.
type Profile struct {
	// Degraded marks an endpoint known to be unstable or high-latency;
	// timeouts and backoff both scale up.
	Degraded bool
	// Offline means the connectivity probe failed just before this
	// attempt; backoff is extended to let the link come back.
	Offline bool
}

// AttemptTimeout computes the request timeout for one attempt. Pure
// function of its inputs: no retry state lives outside the call.
//
//	base 30s + up to 15s for large payloads + 15s for degraded endpoints,
//	shrinking 5s per later attempt with a 15s floor.
func AttemptTimeout(attempt, payloadBytes int, p Profile) time.Duration {
	t := baseTimeout + sizeSurcharge(payloadBytes)
	if p.Degraded {
		t += degradedSurcharge
	}
	t -= time.Duration(attempt) * timeoutShrink
	if t < timeoutFloor {
		t = timeoutFloor
	}
	return t
}

func sizeSurcharge(payloadBytes int) time.Duration {
	switch {
	case payloadBytes >= sizeTier3Bytes:
		return sizeSurchargeT3
	case payloadBytes >= sizeTier2Bytes:
		return sizeSurchargeT2
	case payloadBytes >= sizeTier1Bytes:
		return sizeSurchargeT1
	default:
		return 0
	}
}

// Backoff computes the delay before retrying after the given failed
// attempt (0-based): min(1s·2^attempt, 10s) plus jitter, doubled for
// degraded endpoints and extended while offline. The jitter source is
// injected so tests stay deterministic.
func Backoff(attempt int, p Profile, jitter func(max time.Duration) time.Duration) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	if jitter != nil {
		d += jitter(maxJitter)
	}
	if p.Degraded {
		d *= degradedMultiplier
	}
	if p.Offline {
		d += offlineExtension
	}
	return d
}
