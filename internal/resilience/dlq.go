package resilience

import (
	"errors"
	"time"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// DLQEntry is a failed reduction job that can be rerun later.
type DLQEntry struct {
	ID           string               `json:"id"`
	Setup        model.ReductionSetup `json:"setup"`
	Error        string               `json:"error"`
	ErrorType    string               `json:"error_type"` // "transient" or "permanent"
	FailedStep   string               `json:"failed_step,omitempty"`
	RetryCount   int                  `json:"retry_count"`
	MaxRetries   int                  `json:"max_retries"`
	NextRetryAt  time.Time            `json:"next_retry_at"`
	CreatedAt    time.Time            `json:"created_at"`
	LastFailedAt time.Time            `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetry returns when an entry that has failed retries times may run
// again: base doubled per failed retry.
func NextRetry(now time.Time, base time.Duration, retries int) time.Time {
	if retries > 16 {
		retries = 16
	}
	return now.Add(base * time.Duration(1<<retries))
}

// ClassifyError labels err "transient" or "permanent". Calls rejected by an
// open circuit breaker are transient.
func ClassifyError(err error) string {
	if IsTransient(err) || errors.Is(err, ErrCircuitOpen) {
		return "transient"
	}
	return "permanent"
}
