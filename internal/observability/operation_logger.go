package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	statusError    = "error"
	statusRejected = "rejected"
)

// ZapOperationLogger writes ledger operations to zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger. A nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.Int64("balance", entry.Balance.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.PricedAs != "" {
		fields = append(fields, zap.String("priced_as", entry.PricedAs.String()))
	}
	if entry.ReservationID != nil {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	switch entry.Status {
	case statusError:
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	case statusRejected:
		operationLogger.logger.Info("ledger operation rejected", append(fields, zap.String("reason", entry.Error.Error()))...)
	default:
		operationLogger.logger.Info("ledger operation", fields...)
	}
}

// MultiOperationLogger fans one entry out to several loggers.
type MultiOperationLogger []ledger.OperationLogger

// LogOperation implements ledger.OperationLogger.
func (loggers MultiOperationLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
