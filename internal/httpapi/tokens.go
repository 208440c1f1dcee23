package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	metadataKeyOriginalOperation = "originalOperation"
	internalErrorMessage         = "Internal Server Error"
)

type tokenHandler struct {
	service      LedgerService
	logger       *zap.Logger
	creditRole   string
	historyLimit int
	timeout      time.Duration
}

func (handler *tokenHandler) handleGetTokens(ctx *gin.Context) {
	user, ok := CurrentUser(ctx)
	if !ok {
		RespondUnauthorized(ctx)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	balance, err := handler.service.GetBalance(requestCtx, user.ID)
	if err != nil {
		handler.respondInternal(ctx, "balance fetch failed", err)
		return
	}
	history, err := handler.service.TransactionHistory(requestCtx, user.ID, handler.historyLimit)
	if err != nil {
		handler.respondInternal(ctx, "history fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, tokensResponse{
		Balance: newBalancePayload(balance),
		History: newTransactionPayloads(history),
		Operations: operationsPayload{
			Costs:      ledger.PriceTable(),
			Categories: ledger.CategoryTable(),
		},
	})
}

func (handler *tokenHandler) handleDeductTokens(ctx *gin.Context) {
	user, ok := CurrentUser(ctx)
	if !ok {
		RespondUnauthorized(ctx)
		return
	}
	var request deductRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse("Invalid JSON body", CodeInvalidPayload))
		return
	}
	if strings.TrimSpace(request.Operation) == "" {
		body := ErrorResponse("Missing operation", CodeMissingOperation)
		body["validOperations"] = validOperations()
		body["categories"] = ledger.CategoryTable()
		ctx.JSON(http.StatusBadRequest, body)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	balance, err := handler.service.DeductTokens(requestCtx, user.ID, request.Operation, request.Metadata)
	if err != nil {
		handler.respondLedgerError(ctx, err)
		return
	}
	operation, _ := ledger.ParseOperation(request.Operation)
	response := gin.H{
		"success":   true,
		"balance":   balance.Amount.Int64(),
		"operation": operation.String(),
		"cost":      operation.Cost().Int64(),
	}
	if original, ok := request.Metadata[metadataKeyOriginalOperation]; ok {
		response[metadataKeyOriginalOperation] = original
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *tokenHandler) handleAddTokens(ctx *gin.Context) {
	user, ok := CurrentUser(ctx)
	if !ok {
		RespondUnauthorized(ctx)
		return
	}
	if handler.creditRole != "" && !user.HasRole(handler.creditRole) {
		ctx.JSON(http.StatusForbidden, ErrorResponse("Forbidden", CodeForbidden))
		return
	}
	var request creditRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse("Invalid amount", CodeInvalidAmount))
		return
	}
	amount, err := ledger.NewPositiveTokens(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse("Invalid amount", CodeInvalidAmount))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	balance, err := handler.service.AddTokens(requestCtx, user.ID, amount, request.Description, request.Metadata)
	if err != nil {
		handler.respondLedgerError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newBalancePayload(balance))
}

func (handler *tokenHandler) handleRenewal(ctx *gin.Context) {
	user, ok := CurrentUser(ctx)
	if !ok {
		RespondUnauthorized(ctx)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	balance, renewed, err := handler.service.HandleRenewal(requestCtx, user.ID)
	if err != nil {
		handler.respondInternal(ctx, "renewal failed", err)
		return
	}
	response := renewalResponse{Renewed: renewed}
	if !balance.UserID.IsZero() {
		payload := newBalancePayload(balance)
		response.Balance = &payload
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *tokenHandler) respondLedgerError(ctx *gin.Context, err error) {
	var insufficient *ledger.InsufficientTokensError
	switch {
	case errors.As(err, &insufficient):
		body := ErrorResponse(insufficient.Error(), CodeInsufficientTokens)
		body["required"] = insufficient.Required.Int64()
		body["available"] = insufficient.Available.Int64()
		ctx.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, ledger.ErrInvalidOperation):
		body := ErrorResponse(err.Error(), CodeInvalidOperation)
		body["validOperations"] = validOperations()
		ctx.JSON(http.StatusBadRequest, body)
	case errors.Is(err, ledger.ErrInvalidTokenAmount):
		ctx.JSON(http.StatusBadRequest, ErrorResponse("Invalid amount", CodeInvalidAmount))
	case errors.Is(err, ledger.ErrBalanceNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse(ledger.ErrBalanceNotFound.Error(), CodeBalanceNotFound))
	default:
		handler.respondInternal(ctx, "ledger operation failed", err)
	}
}

func (handler *tokenHandler) respondInternal(ctx *gin.Context, message string, err error) {
	handler.logger.Error(message, zap.Error(err))
	body := ErrorResponse(internalErrorMessage, CodeInternalError)
	body["message"] = ledger.ErrLedgerFailure.Error()
	ctx.JSON(http.StatusInternalServerError, body)
}

func validOperations() []string {
	operations := ledger.Operations()
	names := make([]string, 0, len(operations))
	for _, operation := range operations {
		names = append(names, operation.String())
	}
	return names
}
