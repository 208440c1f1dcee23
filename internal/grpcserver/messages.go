package grpcserver

import (
	"fmt"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldUserID       = "userId"
	fieldPlan         = "plan"
	fieldOperation    = "operation"
	fieldAmount       = "amount"
	fieldCost         = "cost"
	fieldDescription  = "description"
	fieldMetadata     = "metadata"
	fieldLimit        = "limit"
	fieldBalance      = "balance"
	fieldTransactions = "transactions"
	fieldRenewed      = "renewed"
	fieldRenewalDate  = "renewalDate"
	fieldCreatedAt    = "createdAt"
	fieldUpdatedAt    = "updatedAt"
	fieldID           = "id"
)

func stringField(message *structpb.Struct, name string) string {
	return message.GetFields()[name].GetStringValue()
}

// integerField rejects fractional numbers; absent fields read as zero.
func integerField(message *structpb.Struct, name string) (int64, error) {
	value, ok := message.GetFields()[name]
	if !ok {
		return 0, nil
	}
	number, isNumber := value.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > float64(math.MaxInt64) {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int64(number.NumberValue), nil
}

func metadataField(message *structpb.Struct, name string) (ledger.Metadata, error) {
	value, ok := message.GetFields()[name]
	if !ok {
		return nil, nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StructValue:
		return ledger.Metadata(kind.StructValue.AsMap()), nil
	default:
		return nil, ledger.ErrInvalidMetadata
	}
}

func balanceFields(record ledger.BalanceRecord) map[string]any {
	return map[string]any{
		fieldUserID:      record.UserID.String(),
		fieldAmount:      record.Amount.Int64(),
		fieldPlan:        record.Plan.String(),
		fieldRenewalDate: formatTime(record.RenewalDate),
		fieldCreatedAt:   formatTime(record.CreatedAt),
		fieldUpdatedAt:   formatTime(record.UpdatedAt),
	}
}

func transactionFields(transaction ledger.Transaction) map[string]any {
	var metadata any
	if transaction.Metadata != nil {
		metadata = map[string]any(transaction.Metadata)
	}
	return map[string]any{
		fieldID:          transaction.ID,
		fieldUserID:      transaction.UserID.String(),
		fieldAmount:      transaction.Amount.Int64(),
		fieldOperation:   transaction.Operation,
		fieldDescription: transaction.Description,
		fieldMetadata:    metadata,
		fieldCreatedAt:   formatTime(transaction.CreatedAt),
	}
}

func decodeBalance(message *structpb.Struct) (ledger.BalanceRecord, error) {
	userID, err := ledger.NewUserID(stringField(message, fieldUserID))
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	plan, err := ledger.ParsePlan(stringField(message, fieldPlan))
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	amount, err := integerField(message, fieldAmount)
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	record := ledger.BalanceRecord{UserID: userID, Amount: ledger.Tokens(amount), Plan: plan}
	if record.RenewalDate, err = parseTime(stringField(message, fieldRenewalDate)); err != nil {
		return ledger.BalanceRecord{}, err
	}
	if record.CreatedAt, err = parseTime(stringField(message, fieldCreatedAt)); err != nil {
		return ledger.BalanceRecord{}, err
	}
	if record.UpdatedAt, err = parseTime(stringField(message, fieldUpdatedAt)); err != nil {
		return ledger.BalanceRecord{}, err
	}
	return record, nil
}

func decodeTransaction(message *structpb.Struct) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(stringField(message, fieldUserID))
	if err != nil {
		return ledger.Transaction{}, err
	}
	id, err := integerField(message, fieldID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := integerField(message, fieldAmount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := metadataField(message, fieldMetadata)
	if err != nil {
		return ledger.Transaction{}, err
	}
	createdAt, err := parseTime(stringField(message, fieldCreatedAt))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:          id,
		UserID:      userID,
		Amount:      ledger.Tokens(amount),
		Operation:   stringField(message, fieldOperation),
		Description: stringField(message, fieldDescription),
		Metadata:    metadata,
		CreatedAt:   createdAt,
	}, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return parsed, nil
}
