package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Tokens is a signed token count. Balances are never negative; transaction deltas may be.
type Tokens int64

// Int64 returns the raw value.
func (tokens Tokens) Int64() int64 {
	return int64(tokens)
}

// NewPositiveTokens validates that an amount is strictly positive.
func NewPositiveTokens(raw int64) (Tokens, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidTokenAmount)
	}
	return Tokens(raw), nil
}

// UserID identifies a balance owner. The value comes from the session provider and is trusted as-is.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// ReservationID identifies a pending debit.
type ReservationID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// Metadata is an opaque structured payload attached to transactions.
type Metadata map[string]any

// With returns a copy of metadata with key set to value.
func (metadata Metadata) With(key string, value any) Metadata {
	cloned := make(Metadata, len(metadata)+1)
	for existingKey, existingValue := range metadata {
		cloned[existingKey] = existingValue
	}
	cloned[key] = value
	return cloned
}

// BalanceRecord is the persisted per-user balance row.
type BalanceRecord struct {
	UserID      UserID
	Amount      Tokens
	Plan        Plan
	RenewalDate time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is a single append-only ledger line.
type Transaction struct {
	ID          int64
	UserID      UserID
	Amount      Tokens
	Operation   string
	Description string
	Metadata    Metadata
	CreatedAt   time.Time
}

// ReservationStatus defines reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusCaptured ReservationStatus = "captured"
	ReservationStatusReleased ReservationStatus = "released"
)

// String returns the stored representation.
func (status ReservationStatus) String() string {
	return string(status)
}

// ParseReservationStatus validates a stored reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(strings.TrimSpace(raw)) {
	case ReservationStatusActive:
		return ReservationStatusActive, nil
	case ReservationStatusCaptured:
		return ReservationStatusCaptured, nil
	case ReservationStatusReleased:
		return ReservationStatusReleased, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

// Reservation holds tokens debited ahead of an external call.
type Reservation struct {
	ReservationID ReservationID
	UserID        UserID
	Operation     Operation
	Amount        Tokens
	Status        ReservationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence contract used by Service.
// Mutating calls are only issued on the Store handed to a WithTx callback.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetBalance(ctx context.Context, userID UserID) (BalanceRecord, error)
	CreateBalanceIfAbsent(ctx context.Context, record BalanceRecord) (BalanceRecord, error)
	LockBalance(ctx context.Context, userID UserID) (BalanceRecord, error)
	SaveBalance(ctx context.Context, previous BalanceRecord, next BalanceRecord) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error)
	CreateReservation(ctx context.Context, reservation Reservation) error
	LockReservation(ctx context.Context, userID UserID, reservationID ReservationID) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, userID UserID, reservationID ReservationID, from ReservationStatus, to ReservationStatus) error
}
