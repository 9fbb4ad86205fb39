package webmention

import (
	"time"

	"github.com/davecheney/mention/models"
)

const (
	// minRetryDelay and maxRetryDelay bound the wait after a failed send.
	minRetryDelay = 5 * time.Minute
	maxRetryDelay = 15 * time.Minute

	// maxSendJitter bounds the random delay before a scheduled send.
	maxSendJitter = 300 * time.Second
)

// NextBackoff returns how long to wait after attempt before sending again.
// r, in [0, 1), places the delay within the retry window. An exhausted
// attempt has no next send.
func NextBackoff(attempt models.DeliveryAttempt, r float64) time.Duration {
	if attempt.Exhausted() {
		return 0
	}
	return minRetryDelay + jitter(maxRetryDelay-minRetryDelay, r)
}

// failed returns attempt after one more failure at now.
func failed(attempt models.DeliveryAttempt, err error, now time.Time, r float64) models.DeliveryAttempt {
	attempt.Count++
	attempt.LastError = err.Error()
	attempt.NextEligibleAt = nil
	if d := NextBackoff(attempt, r); d > 0 {
		next := now.Add(d)
		attempt.NextEligibleAt = &next
	}
	return attempt
}

func jitter(d time.Duration, r float64) time.Duration {
	switch {
	case r <= 0:
		return 0
	case r >= 1:
		return d
	default:
		return time.Duration(r * float64(d))
	}
}
