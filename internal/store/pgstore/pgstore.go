package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	errorOperationStore        = "store"
	errorSubjectBalance        = "balance"
	errorSubjectReservation    = "reservation"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorSubjectTx             = "tx"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeEnsure            = "ensure"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"

	sqlSchema = `
		create table if not exists token_balances (
			user_id text primary key,
			amount bigint not null default 0 check (amount >= 0),
			plan text not null,
			renewal_date timestamptz not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create table if not exists token_transactions (
			id bigserial primary key,
			user_id text not null,
			amount bigint not null,
			operation text not null,
			description text not null,
			metadata jsonb,
			created_at timestamptz not null default now()
		);
		create index if not exists idx_token_transactions_user_created
			on token_transactions (user_id, created_at desc, id desc);
		create table if not exists token_reservations (
			reservation_id text primary key,
			user_id text not null,
			operation text not null,
			amount bigint not null check (amount > 0),
			status text not null check (status in ('active', 'captured', 'released')),
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create index if not exists idx_token_reservations_user on token_reservations (user_id);
	`

	sqlSelectBalance = `
		select user_id, amount, plan, renewal_date, created_at, updated_at
		from token_balances
		where user_id = $1
	`

	sqlSelectBalanceForUpdate = sqlSelectBalance + ` for update`

	sqlInsertBalance = `
		insert into token_balances (user_id, amount, plan, renewal_date, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id) do nothing
	`

	sqlUpdateBalance = `
		update token_balances
		set amount = $4, plan = $5, renewal_date = $6, updated_at = $7
		where user_id = $1 and amount = $2 and renewal_date = $3
	`

	sqlInsertTransaction = `
		insert into token_transactions (user_id, amount, operation, description, metadata, created_at)
		values ($1, $2, $3, $4, $5::jsonb, $6)
	`

	sqlListTransactions = `
		select id, user_id, amount, operation, description, metadata, created_at
		from token_transactions
		where user_id = $1
		order by created_at desc, id desc
		limit $2
	`

	sqlInsertReservation = `
		insert into token_reservations (reservation_id, user_id, operation, amount, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`

	sqlSelectReservationForUpdate = `
		select reservation_id, user_id, operation, amount, status, created_at, updated_at
		from token_reservations
		where user_id = $1 and reservation_id = $2
		for update
	`

	sqlUpdateReservationStatus = `
		update token_reservations
		set status = $4, updated_at = now()
		where user_id = $1 and reservation_id = $2 and status = $3
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// EnsureSchema creates the ledger tables when they are missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, classify(err))
	}
	return nil
}

// WithTx runs fn inside the already open transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store queries) GetBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error) {
	return store.selectBalance(ctx, sqlSelectBalance, userID, errorCodeGet)
}

func (store queries) CreateBalanceIfAbsent(ctx context.Context, record ledger.BalanceRecord) (ledger.BalanceRecord, error) {
	_, err := store.db.Exec(ctx, sqlInsertBalance,
		record.UserID.String(),
		record.Amount.Int64(),
		record.Plan.String(),
		record.RenewalDate.UTC(),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, classify(err))
	}
	return store.selectBalance(ctx, sqlSelectBalance, record.UserID, errorCodeCreate)
}

func (store queries) LockBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error) {
	return store.selectBalance(ctx, sqlSelectBalanceForUpdate, userID, errorCodeLock)
}

func (store queries) SaveBalance(ctx context.Context, previous ledger.BalanceRecord, next ledger.BalanceRecord) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBalance,
		previous.UserID.String(),
		previous.Amount.Int64(),
		previous.RenewalDate,
		next.Amount.Int64(),
		next.Plan.String(),
		next.RenewalDate.UTC(),
		next.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeConflict, ledger.ErrConcurrentUpdate)
	}
	return nil
}

func (store queries) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	var metadata any
	if transaction.Metadata != nil {
		raw, err := json.Marshal(transaction.Metadata)
		if err != nil {
			return wrapStoreError(errorSubjectTransaction, errorCodeInvalid, errors.Join(ledger.ErrInvalidMetadata, err))
		}
		metadata = string(raw)
	}
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.UserID.String(),
		transaction.Amount.Int64(),
		transaction.Operation,
		transaction.Description,
		metadata,
		transaction.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, classify(err))
	}
	return nil
}

func (store queries) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			id          int64
			userIDValue string
			amount      int64
			operation   string
			description string
			metadataRaw []byte
			transaction ledger.Transaction
		)
		if err := rows.Scan(&id, &userIDValue, &amount, &operation, &description, &metadataRaw, &transaction.CreatedAt); err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		parsedUserID, err := ledger.NewUserID(userIDValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		if len(metadataRaw) > 0 && string(metadataRaw) != "null" {
			if err := json.Unmarshal(metadataRaw, &transaction.Metadata); err != nil {
				return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, errors.Join(ledger.ErrInvalidMetadata, err))
			}
		}
		transaction.ID = id
		transaction.UserID = parsedUserID
		transaction.Amount = ledger.Tokens(amount)
		transaction.Operation = operation
		transaction.Description = description
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store queries) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	_, err := store.db.Exec(ctx, sqlInsertReservation,
		reservation.ReservationID.String(),
		reservation.UserID.String(),
		reservation.Operation.String(),
		reservation.Amount.Int64(),
		reservation.Status.String(),
		reservation.CreatedAt.UTC(),
		reservation.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, classify(err))
	}
	return nil
}

func (store queries) LockReservation(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID) (ledger.Reservation, error) {
	var (
		reservationValue string
		userValue        string
		operationValue   string
		amount           int64
		statusValue      string
		reservation      ledger.Reservation
	)
	err := store.db.QueryRow(ctx, sqlSelectReservationForUpdate, userID.String(), reservationID.String()).
		Scan(&reservationValue, &userValue, &operationValue, &amount, &statusValue, &reservation.CreatedAt, &reservation.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrUnknownReservation)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, classify(err))
	}
	if reservation.ReservationID, err = ledger.NewReservationID(reservationValue); err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	if reservation.UserID, err = ledger.NewUserID(userValue); err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	if reservation.Operation, err = ledger.ParseOperation(operationValue); err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	if reservation.Status, err = ledger.ParseReservationStatus(statusValue); err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	reservation.Amount = ledger.Tokens(amount)
	return reservation, nil
}

func (store queries) UpdateReservationStatus(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID, from, to ledger.ReservationStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateReservationStatus, userID.String(), reservationID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, ledger.ErrReservationClosed)
	}
	return nil
}

func (store queries) selectBalance(ctx context.Context, query string, userID ledger.UserID, code string) (ledger.BalanceRecord, error) {
	var (
		userValue string
		amount    int64
		planValue string
		record    ledger.BalanceRecord
	)
	err := store.db.QueryRow(ctx, query, userID.String()).
		Scan(&userValue, &amount, &planValue, &record.RenewalDate, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, code, ledger.ErrBalanceNotFound)
		}
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, code, classify(err))
	}
	if record.UserID, err = ledger.NewUserID(userValue); err != nil {
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	if record.Plan, err = ledger.ParsePlan(planValue); err != nil {
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	record.Amount = ledger.Tokens(amount)
	return record, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func classify(err error) error {
	if isSerializationFailure(err) {
		return errors.Join(ledger.ErrConcurrentUpdate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
}
