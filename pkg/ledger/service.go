package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the token accounting logic over a Store.
type Service struct {
	store           Store
	nowFn           func() time.Time
	logger          OperationLogger
	conflictRetries int
	retryBackoff    time.Duration
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		nowFn:           now,
		conflictRetries: defaultConflictRetries,
		retryBackoff:    10 * time.Millisecond,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetBalance returns the balance row, creating it under the default plan on first touch.
func (service *Service) GetBalance(ctx context.Context, userID UserID) (BalanceRecord, error) {
	record, err := service.store.GetBalance(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return BalanceRecord{}, err
	}
	return service.store.CreateBalanceIfAbsent(ctx, service.newBalanceRecord(userID, DefaultPlan))
}

// OpenBalance creates a balance under plan unless one already exists.
// An existing balance is returned untouched, whatever its plan.
func (service *Service) OpenBalance(ctx context.Context, userID UserID, plan Plan) (BalanceRecord, error) {
	record, operationError := service.store.CreateBalanceIfAbsent(ctx, service.newBalanceRecord(userID, plan))
	service.logOperation(ctx, OperationLog{
		Operation: operationOpen,
		UserID:    userID,
		Amount:    plan.InitialGrant(),
		Balance:   record.Amount,
		Error:     operationError,
	})
	return record, operationError
}

// DeductTokens charges the price of operation against the user's balance.
// The operation is validated before the store is touched. The existence check, the balance
// check, the write and the transaction append share one store transaction.
func (service *Service) DeductTokens(ctx context.Context, userID UserID, rawOperation string, metadata Metadata) (BalanceRecord, error) {
	operation, err := ParseOperation(rawOperation)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationDeduct, UserID: userID, Error: err})
		return BalanceRecord{}, err
	}
	var updated BalanceRecord
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, debitError := service.debit(ctx, transactionStore, userID, operation, metadata, nil)
		if debitError != nil {
			return debitError
		}
		updated = record
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeduct,
		UserID:    userID,
		PricedAs:  operation,
		Amount:    operation.Cost(),
		Balance:   updated.Amount,
		Error:     operationError,
	})
	if operationError != nil {
		return BalanceRecord{}, surfaceError(operationDeduct, operationError)
	}
	return updated, nil
}

// AddTokens credits an existing balance. It never creates one.
func (service *Service) AddTokens(ctx context.Context, userID UserID, amount Tokens, description string, metadata Metadata) (BalanceRecord, error) {
	if amount <= 0 {
		return BalanceRecord{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidTokenAmount)
	}
	if description == "" {
		description = fmt.Sprintf("Added %d tokens", amount)
	}
	var updated BalanceRecord
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		next := current
		next.Amount = current.Amount + amount
		next.UpdatedAt = nowUTC
		if err := transactionStore.SaveBalance(ctx, current, next); err != nil {
			return err
		}
		if err := transactionStore.InsertTransaction(ctx, Transaction{
			UserID:      userID,
			Amount:      amount,
			Operation:   OperationTokenPurchase,
			Description: description,
			Metadata:    metadata,
			CreatedAt:   nowUTC,
		}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Amount:    amount,
		Balance:   updated.Amount,
		Error:     operationError,
	})
	if operationError != nil {
		return BalanceRecord{}, operationError
	}
	return updated, nil
}

// TransactionHistory returns the most recent transactions, newest first.
func (service *Service) TransactionHistory(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, userID, NormalizeHistoryLimit(limit))
}

// HandleRenewal applies the monthly grant when the renewal date has passed.
// It reports false without mutating anything when there is no balance or renewal is not due.
// The due check is repeated under the row lock, so two calls at the same instant apply one grant.
func (service *Service) HandleRenewal(ctx context.Context, userID UserID) (BalanceRecord, bool, error) {
	existing, err := service.store.GetBalance(ctx, userID)
	if errors.Is(err, ErrBalanceNotFound) {
		return BalanceRecord{}, false, nil
	}
	if err != nil {
		return BalanceRecord{}, false, err
	}
	if service.now().Before(existing.RenewalDate) {
		return existing, false, nil
	}

	var (
		updated BalanceRecord
		renewed bool
		delta   Tokens
	)
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		renewed = false
		delta = 0
		current, err := transactionStore.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		if nowUTC.Before(current.RenewalDate) {
			updated = current
			return nil
		}
		rollover := current.Plan.Rollover(current.Amount)
		next := current
		next.Amount = current.Plan.RenewedAmount(current.Amount)
		next.RenewalDate = nextRenewal(current.RenewalDate)
		next.UpdatedAt = nowUTC
		if err := transactionStore.SaveBalance(ctx, current, next); err != nil {
			return err
		}
		delta = next.Amount - current.Amount
		if err := transactionStore.InsertTransaction(ctx, Transaction{
			UserID:      userID,
			Amount:      delta,
			Operation:   OperationMonthlyRenewal,
			Description: fmt.Sprintf("Monthly token renewal for %s plan", current.Plan),
			Metadata: Metadata{
				"plan":           current.Plan.String(),
				"previousAmount": current.Amount.Int64(),
				"newAmount":      next.Amount.Int64(),
				"rollover":       rollover.Int64(),
			},
			CreatedAt: nowUTC,
		}); err != nil {
			return err
		}
		updated = next
		renewed = true
		return nil
	})
	logEntry := OperationLog{
		Operation: operationRenew,
		UserID:    userID,
		Amount:    delta,
		Balance:   updated.Amount,
		Error:     operationError,
	}
	if operationError == nil && !renewed {
		logEntry.Status = operationStatusNoop
	}
	service.logOperation(ctx, logEntry)
	if operationError != nil {
		if errors.Is(operationError, ErrBalanceNotFound) {
			return BalanceRecord{}, false, nil
		}
		return BalanceRecord{}, false, operationError
	}
	return updated, renewed, nil
}

// NormalizeHistoryLimit clamps a requested history size.
func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (service *Service) debit(ctx context.Context, transactionStore Store, userID UserID, operation Operation, metadata Metadata, reservationID *ReservationID) (BalanceRecord, error) {
	if _, err := transactionStore.CreateBalanceIfAbsent(ctx, service.newBalanceRecord(userID, DefaultPlan)); err != nil {
		return BalanceRecord{}, err
	}
	current, err := transactionStore.LockBalance(ctx, userID)
	if err != nil {
		return BalanceRecord{}, err
	}
	cost := operation.Cost()
	if current.Amount < cost {
		return BalanceRecord{}, &InsufficientTokensError{
			Operation: operation,
			Required:  cost,
			Available: current.Amount,
		}
	}
	nowUTC := service.now()
	next := current
	next.Amount = current.Amount - cost
	next.UpdatedAt = nowUTC
	if err := transactionStore.SaveBalance(ctx, current, next); err != nil {
		return BalanceRecord{}, err
	}
	enriched := metadata.
		With(metadataKeyCategory, string(operation.Category())).
		With(metadataKeyCost, cost.Int64()).
		With(metadataKeyOperationType, operation.String())
	if reservationID != nil {
		enriched = enriched.With(metadataKeyReservationID, reservationID.String())
	}
	if err := transactionStore.InsertTransaction(ctx, Transaction{
		UserID:      userID,
		Amount:      -cost,
		Operation:   operation.String(),
		Description: operation.Description(),
		Metadata:    enriched,
		CreatedAt:   nowUTC,
	}); err != nil {
		return BalanceRecord{}, err
	}
	return next, nil
}

// runInTx re-runs fn when the store reports a lost compare-and-set or a serialization failure.
func (service *Service) runInTx(ctx context.Context, fn func(ctx context.Context, transactionStore Store) error) error {
	for attempt := 0; ; attempt++ {
		err := service.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConcurrentUpdate) || attempt >= service.conflictRetries {
			return err
		}
		delay := jitteredDelay(service.retryBackoff, attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (service *Service) newBalanceRecord(userID UserID, plan Plan) BalanceRecord {
	nowUTC := service.now()
	return BalanceRecord{
		UserID:      userID,
		Amount:      plan.InitialGrant(),
		Plan:        plan,
		RenewalDate: nextRenewal(nowUTC),
		CreatedAt:   nowUTC,
		UpdatedAt:   nowUTC,
	}
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case isDomainRejection(entry.Error):
			entry.Status = operationStatusRejected
		default:
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// surfaceError passes domain rejections through and hides everything else behind LedgerError.
func surfaceError(operation string, err error) error {
	if err == nil || isDomainRejection(err) {
		return err
	}
	return &LedgerError{Operation: operation, Err: err}
}
