package client

import "time"

// backoffPolicy computes reconnect delays: initialDelay * multiplier^attempt,
// capped at maxDelay. attempt is 0-indexed (the first retry after the
// initial failed connect).
type backoffPolicy struct {
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	MaxRetries           int
	SilentRetryThreshold int
}

func defaultBackoffPolicy() backoffPolicy {
	return backoffPolicy{
		InitialDelay:         1 * time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           2,
		MaxRetries:           10,
		SilentRetryThreshold: 3,
	}
}

func (p backoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// silent reports whether a reconnect attempt should stay quiet (no
// user-visible "reconnecting" event), as is the case for brief blips.
func (p backoffPolicy) silent(attempt int) bool {
	return attempt < p.SilentRetryThreshold
}
