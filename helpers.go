package stepflow

import (
	"math"
	"time"
)

type RetryStrategy uint8

const (
	RetryStrategyFixed       RetryStrategy = iota // Fixed delay between retries
	RetryStrategyExponential                      // Exponential backoff: delay = base * 2^attempt
	RetryStrategyLinear                           // Linear backoff: delay = base * attempt
)

func CalculateRetryDelay(strategy RetryStrategy, baseDelay time.Duration, retryAttempt int) time.Duration {
	switch strategy {
	case RetryStrategyExponential:
		multiplier := math.Pow(2, float64(retryAttempt))
		return time.Duration(float64(baseDelay) * multiplier)

	case RetryStrategyLinear:
		return baseDelay * time.Duration(retryAttempt)

	case RetryStrategyFixed:
		fallthrough
	default:
		return baseDelay
	}
}
