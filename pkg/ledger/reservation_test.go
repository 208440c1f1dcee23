package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReserveDebitsAndRecordsActiveReservation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "reserve-user")
	reservationID := mustReservationID(test, "res-1")
	store.seedBalance(test, userID, PlanHobby, 100, fixedNow.AddDate(0, 1, 0))

	updated, err := service.Reserve(context.Background(), userID, "vector_illustration", reservationID, Metadata{"endpoint": "/generations"})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if updated.Amount != 92 {
		test.Fatalf("expected 92, got %d", updated.Amount)
	}
	reservation := store.reservations[reservationID.String()]
	if reservation.Status != ReservationStatusActive || reservation.Amount != 8 || reservation.Operation != OperationVectorIllustration {
		test.Fatalf("unexpected reservation: %+v", reservation)
	}
	if store.transactions[0].Metadata["reservationId"] != "res-1" {
		test.Fatalf("expected reservation id in metadata: %+v", store.transactions[0].Metadata)
	}
}

func TestReserveInsufficientTokensCreatesNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "reserve-low")
	store.seedBalance(test, userID, PlanHobby, 10, fixedNow.AddDate(0, 1, 0))

	_, err := service.Reserve(context.Background(), userID, "generative_upscale", mustReservationID(test, "res-low"), nil)
	if !errors.Is(err, ErrInsufficientTokens) {
		test.Fatalf(errorMismatchMessage, ErrInsufficientTokens, err)
	}
	if len(store.reservations) != 0 || store.transactionCount() != 0 {
		test.Fatalf("expected no reservation and no transaction")
	}
}

func TestReserveRollsBackWhenReservationFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.createReservationError = errStoreFailure
	service := mustNewService(test, store)
	userID := mustUserID(test, "reserve-fail")
	store.seedBalance(test, userID, PlanHobby, 100, fixedNow.AddDate(0, 1, 0))

	_, err := service.Reserve(context.Background(), userID, "raster_generation", mustReservationID(test, "res-fail"), nil)
	if !errors.Is(err, ErrLedgerFailure) {
		test.Fatalf(errorMismatchMessage, ErrLedgerFailure, err)
	}
	if store.balanceOf(test, userID).Amount != 100 || store.transactionCount() != 0 {
		test.Fatalf("expected debit to be rolled back")
	}
}

func TestCaptureClosesReservationWithoutNewTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "capture-user")
	reservationID := mustReservationID(test, "res-capture")
	store.seedBalance(test, userID, PlanHobby, 100, fixedNow.AddDate(0, 1, 0))

	if _, err := service.Reserve(context.Background(), userID, "raster_generation", reservationID, nil); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Capture(context.Background(), userID, reservationID); err != nil {
		test.Fatalf("capture: %v", err)
	}
	if status := store.reservations[reservationID.String()].Status; status != ReservationStatusCaptured {
		test.Fatalf("expected captured, got %s", status)
	}
	if store.transactionCount() != 1 || store.balanceOf(test, userID).Amount != 96 {
		test.Fatalf("capture must not move tokens")
	}
	if _, err := service.Release(context.Background(), userID, reservationID, "late"); !errors.Is(err, ErrReservationClosed) {
		test.Fatalf(errorMismatchMessage, ErrReservationClosed, err)
	}
}

func TestReleaseRefundsReservation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "release-user")
	reservationID := mustReservationID(test, "res-release")
	store.seedBalance(test, userID, PlanHobby, 100, fixedNow.AddDate(0, 1, 0))

	if _, err := service.Reserve(context.Background(), userID, "generative_upscale", reservationID, nil); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	updated, err := service.Release(context.Background(), userID, reservationID, "upstream status 500")
	if err != nil {
		test.Fatalf("release: %v", err)
	}
	if updated.Amount != 100 {
		test.Fatalf("expected refund to 100, got %d", updated.Amount)
	}
	refund := store.transactions[1]
	if refund.Operation != OperationTokenRefund || refund.Amount != 80 || refund.Metadata["reason"] != "upstream status 500" {
		test.Fatalf("unexpected refund: %+v", refund)
	}
	if refund.Description != "Refunded 80 tokens for generative upscale" {
		test.Fatalf("unexpected description %q", refund.Description)
	}
	if err := service.Capture(context.Background(), userID, reservationID); !errors.Is(err, ErrReservationClosed) {
		test.Fatalf(errorMismatchMessage, ErrReservationClosed, err)
	}
}

func TestReservationOperationsRejectUnknownReservation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "nobody")
	reservationID := mustReservationID(test, "missing")

	if err := service.Capture(context.Background(), userID, reservationID); !errors.Is(err, ErrUnknownReservation) {
		test.Fatalf(errorMismatchMessage, ErrUnknownReservation, err)
	}
	if _, err := service.Release(context.Background(), userID, reservationID, ""); !errors.Is(err, ErrUnknownReservation) {
		test.Fatalf(errorMismatchMessage, ErrUnknownReservation, err)
	}
}

func TestReservationBelongsToOwner(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	owner := mustUserID(test, "owner")
	intruder := mustUserID(test, "intruder")
	reservationID := mustReservationID(test, "res-owned")
	store.seedBalance(test, owner, PlanHobby, 100, fixedNow.Add(24*time.Hour))

	if _, err := service.Reserve(context.Background(), owner, "raster_generation", reservationID, nil); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if _, err := service.Release(context.Background(), intruder, reservationID, ""); !errors.Is(err, ErrUnknownReservation) {
		test.Fatalf(errorMismatchMessage, ErrUnknownReservation, err)
	}
}
