package grpcserver

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorInsufficientTokens = "insufficient_tokens"
	errorBalanceNotFound    = "balance_not_found"
	errorInvalidUserID      = "invalid_user_id"
	errorInvalidOperation   = "invalid_operation"
	errorInvalidAmount      = "invalid_amount"
	errorInvalidPlan        = "invalid_plan"
	errorInvalidMetadata    = "invalid_metadata"
	errorInvalidLimit       = "invalid_limit"
	errorReservationClosed  = "reservation_closed"
	errorUnknownReservation = "unknown_reservation"
	errorConcurrentUpdate   = "concurrent_update"
	errorInternal           = "internal"
	errorMalformedResponse  = "malformed_response"
)

// LedgerService is the ledger surface exposed over gRPC.
type LedgerService interface {
	GetBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error)
	OpenBalance(ctx context.Context, userID ledger.UserID, plan ledger.Plan) (ledger.BalanceRecord, error)
	DeductTokens(ctx context.Context, userID ledger.UserID, operation string, metadata ledger.Metadata) (ledger.BalanceRecord, error)
	AddTokens(ctx context.Context, userID ledger.UserID, amount ledger.Tokens, description string, metadata ledger.Metadata) (ledger.BalanceRecord, error)
	TransactionHistory(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error)
	HandleRenewal(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, bool, error)
}

// TokenLedgerService exposes the token ledger over gRPC.
type TokenLedgerService struct {
	service LedgerService
	logger  *zap.Logger
}

// NewTokenLedgerService constructs the gRPC server for the ledger service.
func NewTokenLedgerService(service LedgerService, logger *zap.Logger) *TokenLedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenLedgerService{service: service, logger: logger.Named("grpc")}
}

func (server *TokenLedgerService) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	record, err := server.service.GetBalance(ctx, userID)
	if err != nil {
		return nil, server.mapError(err)
	}
	return server.respond(balanceFields(record))
}

func (server *TokenLedgerService) OpenBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	plan := ledger.DefaultPlan
	if rawPlan := stringField(request, fieldPlan); rawPlan != "" {
		if plan, err = ledger.ParsePlan(rawPlan); err != nil {
			return nil, server.mapError(err)
		}
	}
	record, err := server.service.OpenBalance(ctx, userID, plan)
	if err != nil {
		return nil, server.mapError(err)
	}
	return server.respond(balanceFields(record))
}

func (server *TokenLedgerService) Deduct(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	metadata, err := metadataField(request, fieldMetadata)
	if err != nil {
		return nil, server.mapError(err)
	}
	rawOperation := stringField(request, fieldOperation)
	record, err := server.service.DeductTokens(ctx, userID, rawOperation, metadata)
	if err != nil {
		return nil, server.mapError(err)
	}
	operation, _ := ledger.ParseOperation(rawOperation)
	return server.respond(map[string]any{
		fieldBalance:   balanceFields(record),
		fieldOperation: operation.String(),
		fieldCost:      operation.Cost().Int64(),
	})
}

func (server *TokenLedgerService) Credit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	rawAmount, err := integerField(request, fieldAmount)
	if err != nil {
		return nil, server.mapError(ledger.ErrInvalidTokenAmount)
	}
	amount, err := ledger.NewPositiveTokens(rawAmount)
	if err != nil {
		return nil, server.mapError(err)
	}
	metadata, err := metadataField(request, fieldMetadata)
	if err != nil {
		return nil, server.mapError(err)
	}
	record, err := server.service.AddTokens(ctx, userID, amount, stringField(request, fieldDescription), metadata)
	if err != nil {
		return nil, server.mapError(err)
	}
	return server.respond(balanceFields(record))
}

func (server *TokenLedgerService) History(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	limit, err := integerField(request, fieldLimit)
	if err != nil || limit < 0 || limit > ledger.MaxHistoryLimit {
		return nil, status.Error(codes.InvalidArgument, errorInvalidLimit)
	}
	transactions, err := server.service.TransactionHistory(ctx, userID, int(limit))
	if err != nil {
		return nil, server.mapError(err)
	}
	items := make([]any, 0, len(transactions))
	for _, transaction := range transactions {
		items = append(items, transactionFields(transaction))
	}
	return server.respond(map[string]any{fieldTransactions: items})
}

func (server *TokenLedgerService) Renew(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, server.mapError(err)
	}
	record, renewed, err := server.service.HandleRenewal(ctx, userID)
	if err != nil {
		return nil, server.mapError(err)
	}
	var balance any
	if renewed {
		balance = balanceFields(record)
	}
	return server.respond(map[string]any{fieldRenewed: renewed, fieldBalance: balance})
}

func (server *TokenLedgerService) respond(fields map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		server.logger.Error("encode response", zap.Error(err))
		return nil, status.Error(codes.Internal, errorMalformedResponse)
	}
	return response, nil
}

func (server *TokenLedgerService) mapError(source error) error {
	switch {
	case errors.Is(source, ledger.ErrInvalidUserID):
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	case errors.Is(source, ledger.ErrInvalidOperation):
		return status.Error(codes.InvalidArgument, errorInvalidOperation)
	case errors.Is(source, ledger.ErrInvalidTokenAmount):
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	case errors.Is(source, ledger.ErrInvalidPlan):
		return status.Error(codes.InvalidArgument, errorInvalidPlan)
	case errors.Is(source, ledger.ErrInvalidMetadata):
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	case errors.Is(source, ledger.ErrInsufficientTokens):
		return status.Error(codes.FailedPrecondition, errorInsufficientTokens)
	case errors.Is(source, ledger.ErrBalanceNotFound):
		return status.Error(codes.NotFound, errorBalanceNotFound)
	case errors.Is(source, ledger.ErrUnknownReservation):
		return status.Error(codes.NotFound, errorUnknownReservation)
	case errors.Is(source, ledger.ErrReservationClosed):
		return status.Error(codes.FailedPrecondition, errorReservationClosed)
	case errors.Is(source, ledger.ErrConcurrentUpdate):
		return status.Error(codes.Aborted, errorConcurrentUpdate)
	}
	server.logger.Error("ledger operation failed", zap.Error(source))
	return status.Error(codes.Internal, errorInternal)
}
