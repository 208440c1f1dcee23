package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errStoreFailure = errors.New("store error")
	fixedNow        = time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
)

type stubStore struct {
	txMutex   sync.Mutex
	dataMutex sync.Mutex

	balances     map[string]BalanceRecord
	transactions []Transaction
	reservations map[string]Reservation
	nextID       int64
	calls        atomic.Int64
	saveAttempts atomic.Int64

	getBalanceError        error
	createBalanceError     error
	lockBalanceError       error
	saveBalanceError       error
	insertTransactionError error
	listTransactionsError  error
	createReservationError error
	saveConflicts          int
}

type stubSnapshot struct {
	balances     map[string]BalanceRecord
	transactions []Transaction
	reservations map[string]Reservation
	nextID       int64
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		balances:     map[string]BalanceRecord{},
		reservations: map[string]Reservation{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.calls.Add(1)
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) GetBalance(_ context.Context, userID UserID) (BalanceRecord, error) {
	store.calls.Add(1)
	if store.getBalanceError != nil {
		return BalanceRecord{}, store.getBalanceError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	record, ok := store.balances[userID.String()]
	if !ok {
		return BalanceRecord{}, ErrBalanceNotFound
	}
	return record, nil
}

func (store *stubStore) CreateBalanceIfAbsent(_ context.Context, record BalanceRecord) (BalanceRecord, error) {
	store.calls.Add(1)
	if store.createBalanceError != nil {
		return BalanceRecord{}, store.createBalanceError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if existing, ok := store.balances[record.UserID.String()]; ok {
		return existing, nil
	}
	store.balances[record.UserID.String()] = record
	return record, nil
}

func (store *stubStore) LockBalance(ctx context.Context, userID UserID) (BalanceRecord, error) {
	if store.lockBalanceError != nil {
		store.calls.Add(1)
		return BalanceRecord{}, store.lockBalanceError
	}
	return store.GetBalance(ctx, userID)
}

func (store *stubStore) SaveBalance(_ context.Context, previous BalanceRecord, next BalanceRecord) error {
	store.calls.Add(1)
	store.saveAttempts.Add(1)
	if store.saveBalanceError != nil {
		return store.saveBalanceError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.saveConflicts > 0 {
		store.saveConflicts--
		return WrapError("store", "balance", "conflict", ErrConcurrentUpdate)
	}
	current, ok := store.balances[previous.UserID.String()]
	if !ok {
		return ErrBalanceNotFound
	}
	if current.Amount != previous.Amount || !current.RenewalDate.Equal(previous.RenewalDate) {
		return ErrConcurrentUpdate
	}
	store.balances[next.UserID.String()] = next
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	store.calls.Add(1)
	if store.insertTransactionError != nil {
		return store.insertTransactionError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	store.nextID++
	transaction.ID = store.nextID
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) ListTransactions(_ context.Context, userID UserID, limit int) ([]Transaction, error) {
	store.calls.Add(1)
	if store.listTransactionsError != nil {
		return nil, store.listTransactionsError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	matching := make([]Transaction, 0, len(store.transactions))
	for _, transaction := range store.transactions {
		if transaction.UserID == userID {
			matching = append(matching, transaction)
		}
	}
	sort.SliceStable(matching, func(left, right int) bool {
		if matching[left].CreatedAt.Equal(matching[right].CreatedAt) {
			return matching[left].ID > matching[right].ID
		}
		return matching[left].CreatedAt.After(matching[right].CreatedAt)
	})
	if len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func (store *stubStore) CreateReservation(_ context.Context, reservation Reservation) error {
	store.calls.Add(1)
	if store.createReservationError != nil {
		return store.createReservationError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if _, ok := store.reservations[reservation.ReservationID.String()]; ok {
		return ErrReservationExists
	}
	store.reservations[reservation.ReservationID.String()] = reservation
	return nil
}

func (store *stubStore) LockReservation(_ context.Context, userID UserID, reservationID ReservationID) (Reservation, error) {
	store.calls.Add(1)
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	reservation, ok := store.reservations[reservationID.String()]
	if !ok || reservation.UserID != userID {
		return Reservation{}, ErrUnknownReservation
	}
	return reservation, nil
}

func (store *stubStore) UpdateReservationStatus(_ context.Context, userID UserID, reservationID ReservationID, from ReservationStatus, to ReservationStatus) error {
	store.calls.Add(1)
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	reservation, ok := store.reservations[reservationID.String()]
	if !ok || reservation.UserID != userID {
		return ErrUnknownReservation
	}
	if reservation.Status != from {
		return ErrReservationClosed
	}
	reservation.Status = to
	store.reservations[reservationID.String()] = reservation
	return nil
}

func (store *stubStore) snapshot() stubSnapshot {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	balances := make(map[string]BalanceRecord, len(store.balances))
	for key, value := range store.balances {
		balances[key] = value
	}
	reservations := make(map[string]Reservation, len(store.reservations))
	for key, value := range store.reservations {
		reservations[key] = value
	}
	transactions := append([]Transaction(nil), store.transactions...)
	return stubSnapshot{balances: balances, transactions: transactions, reservations: reservations, nextID: store.nextID}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	store.balances = snapshot.balances
	store.transactions = snapshot.transactions
	store.reservations = snapshot.reservations
	store.nextID = snapshot.nextID
}

func (store *stubStore) seedBalance(test *testing.T, userID UserID, plan Plan, amount Tokens, renewalDate time.Time) {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	store.balances[userID.String()] = BalanceRecord{
		UserID:      userID,
		Amount:      amount,
		Plan:        plan,
		RenewalDate: renewalDate,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
}

func (store *stubStore) balanceOf(test *testing.T, userID UserID) BalanceRecord {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	record, ok := store.balances[userID.String()]
	if !ok {
		test.Fatalf("expected balance for %s", userID)
	}
	return record
}

func (store *stubStore) transactionCount() int {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return len(store.transactions)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithRetryBackoff(0)}, options...)
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustReservationID(test *testing.T, raw string) ReservationID {
	test.Helper()
	reservationID, err := NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return reservationID
}

func sumTransactions(transactions []Transaction) Tokens {
	var total Tokens
	for _, transaction := range transactions {
		total += transaction.Amount
	}
	return total
}
