package resilience

import (
	"time"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
)

// FromEngineConfig builds the retry policy for engine invocations.
func FromEngineConfig(cfg config.EngineConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	}
	return rc
}

// BreakerFromEngineConfig builds the batch circuit breaker config.
func BreakerFromEngineConfig(cfg config.EngineConfig) CircuitBreakerConfig {
	bc := DefaultCircuitBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		bc.FailureThreshold = cfg.BreakerThreshold
	}
	return bc
}
