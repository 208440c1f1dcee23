package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Reserve debits the price of operation and records an active reservation in the same
// transaction. The debit is visible in history immediately; Release appends the refund.
func (service *Service) Reserve(ctx context.Context, userID UserID, rawOperation string, reservationID ReservationID, metadata Metadata) (BalanceRecord, error) {
	operation, err := ParseOperation(rawOperation)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationReserve, UserID: userID, ReservationID: &reservationID, Error: err})
		return BalanceRecord{}, err
	}
	var updated BalanceRecord
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, debitError := service.debit(ctx, transactionStore, userID, operation, metadata, &reservationID)
		if debitError != nil {
			return debitError
		}
		nowUTC := service.now()
		if err := transactionStore.CreateReservation(ctx, Reservation{
			ReservationID: reservationID,
			UserID:        userID,
			Operation:     operation,
			Amount:        operation.Cost(),
			Status:        ReservationStatusActive,
			CreatedAt:     nowUTC,
			UpdatedAt:     nowUTC,
		}); err != nil {
			return err
		}
		updated = record
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationReserve,
		UserID:        userID,
		PricedAs:      operation,
		ReservationID: &reservationID,
		Amount:        operation.Cost(),
		Balance:       updated.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return BalanceRecord{}, surfaceError(operationReserve, operationError)
	}
	return updated, nil
}

// Capture finalizes an active reservation. The tokens were already debited by Reserve.
func (service *Service) Capture(ctx context.Context, userID UserID, reservationID ReservationID) error {
	var reservation Reservation
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockReservation(ctx, userID, reservationID)
		if err != nil {
			return err
		}
		reservation = locked
		if locked.Status != ReservationStatusActive {
			return ErrReservationClosed
		}
		return transactionStore.UpdateReservationStatus(ctx, userID, reservationID, ReservationStatusActive, ReservationStatusCaptured)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCapture,
		UserID:        userID,
		PricedAs:      reservation.Operation,
		ReservationID: &reservationID,
		Amount:        reservation.Amount,
		Error:         operationError,
	})
	return operationError
}

// Release cancels an active reservation and refunds its tokens.
func (service *Service) Release(ctx context.Context, userID UserID, reservationID ReservationID, reason string) (BalanceRecord, error) {
	var (
		reservation Reservation
		updated     BalanceRecord
	)
	operationError := service.runInTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockReservation(ctx, userID, reservationID)
		if err != nil {
			return err
		}
		reservation = locked
		if locked.Status != ReservationStatusActive {
			return ErrReservationClosed
		}
		if err := transactionStore.UpdateReservationStatus(ctx, userID, reservationID, ReservationStatusActive, ReservationStatusReleased); err != nil {
			return err
		}
		current, err := transactionStore.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		nowUTC := service.now()
		next := current
		next.Amount = current.Amount + locked.Amount
		next.UpdatedAt = nowUTC
		if err := transactionStore.SaveBalance(ctx, current, next); err != nil {
			return err
		}
		metadata := Metadata{
			metadataKeyReservationID: reservationID.String(),
			metadataKeyOperationType: locked.Operation.String(),
		}
		if trimmed := strings.TrimSpace(reason); trimmed != "" {
			metadata = metadata.With("reason", trimmed)
		}
		if err := transactionStore.InsertTransaction(ctx, Transaction{
			UserID:      userID,
			Amount:      locked.Amount,
			Operation:   OperationTokenRefund,
			Description: fmt.Sprintf("Refunded %d tokens for %s", locked.Amount, strings.ReplaceAll(locked.Operation.String(), "_", " ")),
			Metadata:    metadata,
			CreatedAt:   nowUTC,
		}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRelease,
		UserID:        userID,
		PricedAs:      reservation.Operation,
		ReservationID: &reservationID,
		Amount:        reservation.Amount,
		Balance:       updated.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return BalanceRecord{}, operationError
	}
	return updated, nil
}
