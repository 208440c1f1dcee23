package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteConstraintCode       = 19
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	mysqlDuplicateEntryCode    = 1062
	mysqlLockWaitTimeoutCode   = 1205
	mysqlDeadlockCode          = 1213
	errorOperationStore        = "store"
	errorSubjectBalance        = "balance"
	errorSubjectTransaction    = "transaction"
	errorSubjectReservation    = "reservation"
	errorSubjectTx             = "tx"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the ledger tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	if err != nil && isSerializationFailure(err) && !errors.Is(err, ledger.ErrConcurrentUpdate) {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, errors.Join(ledger.ErrConcurrentUpdate, err))
	}
	return err
}

func (store *Store) GetBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error) {
	return store.takeBalance(store.db.WithContext(ctx), userID, errorCodeGet)
}

func (store *Store) CreateBalanceIfAbsent(ctx context.Context, record ledger.BalanceRecord) (ledger.BalanceRecord, error) {
	model := TokenBalance{
		UserID:      record.UserID.String(),
		Amount:      record.Amount.Int64(),
		Plan:        record.Plan.String(),
		RenewalDate: record.RenewalDate.UTC(),
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil && !isUniqueViolation(err) {
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, classify(err))
	}
	return store.takeBalance(store.db.WithContext(ctx), record.UserID, errorCodeCreate)
}

func (store *Store) LockBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error) {
	return store.takeBalance(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID, errorCodeLock)
}

// SaveBalance writes next only if the row still holds previous's amount and renewal date.
func (store *Store) SaveBalance(ctx context.Context, previous ledger.BalanceRecord, next ledger.BalanceRecord) error {
	result := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Where("user_id = ? AND amount = ? AND renewal_date = ?", previous.UserID.String(), previous.Amount.Int64(), previous.RenewalDate.UTC()).
		Updates(map[string]any{
			"amount":       next.Amount.Int64(),
			"plan":         next.Plan.String(),
			"renewal_date": next.RenewalDate.UTC(),
			"updated_at":   next.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeConflict, ledger.ErrConcurrentUpdate)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	metadata, err := encodeMetadata(transaction.Metadata)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	model := TokenTransaction{
		UserID:      transaction.UserID.String(),
		Amount:      transaction.Amount.Int64(),
		Operation:   transaction.Operation,
		Description: transaction.Description,
		Metadata:    metadata,
		CreatedAt:   transaction.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	var rows []TokenTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	model := TokenReservation{
		ReservationID: reservation.ReservationID.String(),
		UserID:        reservation.UserID.String(),
		Operation:     reservation.Operation.String(),
		Amount:        reservation.Amount.Int64(),
		Status:        reservation.Status.String(),
		CreatedAt:     reservation.CreatedAt.UTC(),
		UpdatedAt:     reservation.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, classify(err))
	}
	return nil
}

func (store *Store) LockReservation(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID) (ledger.Reservation, error) {
	var model TokenReservation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND reservation_id = ?", userID.String(), reservationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrUnknownReservation)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, classify(err))
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) UpdateReservationStatus(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID, from, to ledger.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&TokenReservation{}).
		Where("user_id = ? AND reservation_id = ? AND status = ?", userID.String(), reservationID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, ledger.ErrReservationClosed)
	}
	return nil
}

func (store *Store) takeBalance(query *gorm.DB, userID ledger.UserID, code string) (ledger.BalanceRecord, error) {
	var model TokenBalance
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, code, ledger.ErrBalanceNotFound)
		}
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, code, classify(err))
	}
	record, err := mapBalance(model)
	if err != nil {
		return ledger.BalanceRecord{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return record, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

// classify tags lock contention so the service can retry the transaction.
func classify(err error) error {
	if isSerializationFailure(err) {
		return errors.Join(ledger.ErrConcurrentUpdate, err)
	}
	return err
}

func mapBalance(model TokenBalance) (ledger.BalanceRecord, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	plan, err := ledger.ParsePlan(model.Plan)
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	return ledger.BalanceRecord{
		UserID:      userID,
		Amount:      ledger.Tokens(model.Amount),
		Plan:        plan,
		RenewalDate: model.RenewalDate,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}

func mapTransaction(row TokenTransaction) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := decodeMetadata(row.Metadata)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:          row.ID,
		UserID:      userID,
		Amount:      ledger.Tokens(row.Amount),
		Operation:   row.Operation,
		Description: row.Description,
		Metadata:    metadata,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func mapReservation(model TokenReservation) (ledger.Reservation, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	reservationID, err := ledger.NewReservationID(model.ReservationID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	operation, err := ledger.ParseOperation(model.Operation)
	if err != nil {
		return ledger.Reservation{}, err
	}
	status, err := ledger.ParseReservationStatus(model.Status)
	if err != nil {
		return ledger.Reservation{}, err
	}
	return ledger.Reservation{
		ReservationID: reservationID,
		UserID:        userID,
		Operation:     operation,
		Amount:        ledger.Tokens(model.Amount),
		Status:        status,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}, nil
}

func encodeMetadata(metadata ledger.Metadata) (datatypes.JSON, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Join(ledger.ErrInvalidMetadata, err)
	}
	return datatypes.JSON(raw), nil
}

func decodeMetadata(raw datatypes.JSON) (ledger.Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var metadata ledger.Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, errors.Join(ledger.ErrInvalidMetadata, err)
	}
	return metadata, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryCode
	}
	return false
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlLockWaitTimeoutCode || mysqlErr.Number == mysqlDeadlockCode
	}
	return false
}
