// Package observability reports ledger activity through zap and Prometheus.
package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development mode trades JSON for console output.
func NewLogger(development bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}
