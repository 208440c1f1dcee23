package ledger

import (
	"context"
	"math/rand"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	UserID        UserID
	PricedAs      Operation
	ReservationID *ReservationID
	Amount        Tokens
	Balance       Tokens
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithConflictRetries sets how many times a transaction is re-run after ErrConcurrentUpdate.
func WithConflictRetries(retries int) ServiceOption {
	return func(service *Service) {
		if retries >= 0 {
			service.conflictRetries = retries
		}
	}
}

// WithRetryBackoff sets the base delay between conflict retries.
func WithRetryBackoff(base time.Duration) ServiceOption {
	return func(service *Service) {
		if base >= 0 {
			service.retryBackoff = base
		}
	}
}

func jitteredDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << attempt
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}
